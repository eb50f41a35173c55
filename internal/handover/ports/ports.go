// Package ports declares the collaborators the handover orchestrator consumes.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"

	"parcelproof/internal/events"
	"parcelproof/internal/geofence"
	"parcelproof/internal/parcel"
	"parcelproof/internal/signing"
	"parcelproof/internal/token"
	id "parcelproof/pkg/domain"
)

// ErrCaptureCancelled is returned by a Camera when the user backs out.
var ErrCaptureCancelled = errors.New("photo capture cancelled")

// Fix is one position reading from the device.
type Fix struct {
	Coordinate     geofence.Coordinate
	AccuracyMeters float64
}

// Photo is captured evidence. Bytes are never logged.
type Photo struct {
	Bytes       []byte
	ContentType string
}

// LocationProvider reads the device position. Implementations should honor
// ctx; the orchestrator stops waiting at its own deadline regardless.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (Fix, error)
}

// Camera captures an evidence photo or returns ErrCaptureCancelled.
type Camera interface {
	CapturePhoto(ctx context.Context) (Photo, error)
}

// Uploader stores evidence bytes and returns a retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// SignerSource hands out a signer over the user's held key.
// Error Contract: a locked or missing key carries dErrors.CodeKeyUnavailable.
type SignerSource interface {
	Signer(ctx context.Context, userID id.UserID) (signing.Signer, error)
}

// TokenService mints, validates and publishes package tokens.
type TokenService interface {
	Mint(ctx context.Context, pkg *parcel.Descriptor, signer signing.Signer) (*token.Token, error)
	ValidateIssued(ctx context.Context, raw []byte, expected id.PackageID) (*token.Token, error)
	Publish(ctx context.Context, t *token.Token) error
	Latest(ctx context.Context, packageID id.PackageID) ([]byte, error)
}

// EventStore is the append-only record store.
// Error Contract: Append returns events.ErrAlreadySettled when a verified
// delivery exists, sentinel.ErrConflict for other uniqueness failures.
type EventStore interface {
	Append(ctx context.Context, rec *events.Record, st *events.Settlement) (*events.Appended, error)
	ListByPackage(ctx context.Context, packageID id.PackageID) ([]*events.Record, error)
	SettlementForPackage(ctx context.Context, packageID id.PackageID) (*events.Settlement, error)
}
