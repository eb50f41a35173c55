// Package geofence scores how close an observed position is to an expected one.
// Everything here is pure: no I/O, no clock, no randomness.
package geofence

import (
	"fmt"
	"math"

	dErrors "parcelproof/pkg/domain-errors"
)

// EarthRadiusMeters is the IUGG mean Earth radius. Haversine error at the
// tens-of-meters to few-kilometers scale is well under a meter.
const EarthRadiusMeters = 6_371_008.8

// DefaultRadiusMeters is the pass/fail proximity threshold for handovers.
const DefaultRadiusMeters = 50.0

// Coordinate is a WGS-84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Validate rejects out-of-range or non-finite coordinates.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || c.Latitude < -90 || c.Latitude > 90 {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("latitude %v out of range", c.Latitude))
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) || c.Longitude < -180 || c.Longitude > 180 {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("longitude %v out of range", c.Longitude))
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Accuracy buckets the provider's reported horizontal accuracy for user feedback.
// It never decides pass/fail.
type Accuracy string

const (
	AccuracyExcellent Accuracy = "excellent"
	AccuracyGood      Accuracy = "good"
	AccuracyFair      Accuracy = "fair"
	AccuracyPoor      Accuracy = "poor"
)

// IsValid reports whether a is one of the four known classes.
func (a Accuracy) IsValid() bool {
	switch a {
	case AccuracyExcellent, AccuracyGood, AccuracyFair, AccuracyPoor:
		return true
	}
	return false
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Classify maps a reported accuracy radius to a feedback bucket.
// Negative or non-finite accuracy is treated as poor.
func Classify(accuracyMeters float64) Accuracy {
	switch {
	case math.IsNaN(accuracyMeters) || accuracyMeters < 0:
		return AccuracyPoor
	case accuracyMeters <= 10:
		return AccuracyExcellent
	case accuracyMeters <= 25:
		return AccuracyGood
	case accuracyMeters <= 50:
		return AccuracyFair
	default:
		return AccuracyPoor
	}
}

// Result is the outcome of a proximity check.
type Result struct {
	Verified       bool
	DistanceMeters float64
	RadiusMeters   float64
}

// VerifyWithin checks observed against expected using radiusMeters, falling back
// to DefaultRadiusMeters when radiusMeters is not positive. The boundary is inclusive.
func VerifyWithin(expected, observed Coordinate, radiusMeters float64) Result {
	if !(radiusMeters > 0) {
		radiusMeters = DefaultRadiusMeters
	}
	d := Distance(expected, observed)
	return Result{
		Verified:       d <= radiusMeters,
		DistanceMeters: d,
		RadiusMeters:   radiusMeters,
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
