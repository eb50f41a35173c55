// Package parcel describes the package record the engine receives from the
// surrounding application. The engine never mutates it.
package parcel

import (
	"fmt"
	"strings"

	"parcelproof/internal/geofence"
	"parcelproof/internal/identity/did"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
)

// MaxDestinationLength bounds the destination label carried in tokens.
const MaxDestinationLength = 256

// Descriptor is the read-only package input for one verification attempt.
type Descriptor struct {
	ID               id.PackageID
	Sender           id.DID
	Custodian        id.DID
	Destination      string
	DeclaredValue    int64 // minor currency units
	PickupLocation   geofence.Coordinate
	DeliveryLocation geofence.Coordinate
}

// Validate checks the descriptor is usable. Party identifiers must be
// well-formed did:key values.
func (d *Descriptor) Validate() error {
	if d == nil {
		return dErrors.New(dErrors.CodeBadRequest, "package is required")
	}
	if _, err := id.ParsePackageID(string(d.ID)); err != nil {
		return err
	}
	if _, err := did.PublicKey(d.Sender); err != nil {
		return dErrors.New(dErrors.CodeValidation, "sender must be a did:key identifier")
	}
	if _, err := did.PublicKey(d.Custodian); err != nil {
		return dErrors.New(dErrors.CodeValidation, "custodian must be a did:key identifier")
	}
	if strings.TrimSpace(d.Destination) == "" {
		return dErrors.New(dErrors.CodeValidation, "destination is required")
	}
	if len(d.Destination) > MaxDestinationLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("destination must be at most %d bytes", MaxDestinationLength))
	}
	if d.DeclaredValue < 0 {
		return dErrors.New(dErrors.CodeValidation, "declared value must not be negative")
	}
	if err := d.PickupLocation.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid pickup location")
	}
	if err := d.DeliveryLocation.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid delivery location")
	}
	return nil
}
