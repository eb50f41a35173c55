package events

import (
	"errors"
	"fmt"
	"time"

	"parcelproof/internal/signing"
	"parcelproof/pkg/canonical"
)

const recordLabel = "parcelproof.verification-record.v1"

// TimestampPrecision is the resolution at which record timestamps are signed
// and stored.
const TimestampPrecision = time.Millisecond

type recordPayload struct {
	PackageID      string  `cbor:"1,keyasint"`
	Kind           string  `cbor:"2,keyasint"`
	Actor          string  `cbor:"3,keyasint"`
	Latitude       float64 `cbor:"4,keyasint"`
	Longitude      float64 `cbor:"5,keyasint"`
	Accuracy       float64 `cbor:"6,keyasint"`
	Distance       float64 `cbor:"7,keyasint"`
	Radius         float64 `cbor:"8,keyasint"`
	AccuracyClass  string  `cbor:"9,keyasint"`
	EvidenceURL    string  `cbor:"10,keyasint"`
	EvidenceSHA256 string  `cbor:"11,keyasint"`
	Condition      string  `cbor:"12,keyasint"`
	Override       bool    `cbor:"13,keyasint"`
	OverrideReason string  `cbor:"14,keyasint"`
	TokenDigest    string  `cbor:"15,keyasint"`
	Timestamp      int64   `cbor:"16,keyasint"`
}

var ErrInvalidRecord = errors.New("invalid verification record")

// SigningPayload is the exact byte string the actor signs.
func SigningPayload(r *Record) ([]byte, error) {
	return canonical.Marshal(recordLabel, recordPayload{
		PackageID:      string(r.PackageID),
		Kind:           string(r.Kind),
		Actor:          string(r.Actor),
		Latitude:       canonical.Float(r.Observed.Latitude),
		Longitude:      canonical.Float(r.Observed.Longitude),
		Accuracy:       canonical.Float(r.AccuracyMeters),
		Distance:       canonical.Float(r.DistanceMeters),
		Radius:         canonical.Float(r.RadiusMeters),
		AccuracyClass:  string(r.AccuracyClass),
		EvidenceURL:    r.Evidence.URL,
		EvidenceSHA256: r.Evidence.SHA256,
		Condition:      string(r.Condition),
		Override:       r.Override,
		OverrideReason: r.OverrideReason,
		TokenDigest:    r.TokenDigest,
		Timestamp:      r.Timestamp.UnixMilli(),
	})
}

// Validate checks the record is structurally complete before it is signed.
func (r *Record) Validate() error {
	switch {
	case r.PackageID == "":
		return fmt.Errorf("%w: package id is required", ErrInvalidRecord)
	case !r.Kind.IsValid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	case r.Actor == "":
		return fmt.Errorf("%w: actor is required", ErrInvalidRecord)
	case !r.Condition.IsValid():
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidRecord, r.Condition)
	case r.Kind == KindPickup && r.Condition != ConditionNone:
		return fmt.Errorf("%w: condition applies to deliveries only", ErrInvalidRecord)
	case r.Override && r.OverrideReason == "":
		return fmt.Errorf("%w: override requires a reason", ErrInvalidRecord)
	case !r.Override && r.OverrideReason != "":
		return fmt.Errorf("%w: override reason without override", ErrInvalidRecord)
	case r.Evidence.URL == "" || r.Evidence.SHA256 == "":
		return fmt.Errorf("%w: evidence is required", ErrInvalidRecord)
	case r.TokenDigest == "":
		return fmt.Errorf("%w: token digest is required", ErrInvalidRecord)
	case !r.AccuracyClass.IsValid():
		return fmt.Errorf("%w: unknown accuracy class %q", ErrInvalidRecord, r.AccuracyClass)
	case !r.Timestamp.Equal(r.Timestamp.Truncate(TimestampPrecision)):
		return fmt.Errorf("%w: timestamp finer than %s", ErrInvalidRecord, TimestampPrecision)
	}
	if err := r.Observed.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

// Trusted reports whether the record's signature verifies against its actor
// and its verified flag matches the signed proximity fields. Settlement only
// follows trusted records.
func (r *Record) Trusted() bool {
	if r.Verified != r.ExpectedVerified() {
		return false
	}
	payload, err := SigningPayload(r)
	if err != nil {
		return false
	}
	return signing.VerifyDID(r.Actor, payload, r.Signature)
}
