package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"parcelproof/internal/geofence"
	id "parcelproof/pkg/domain"
)

// DefaultTTL is the fixed validity window of a package token.
const DefaultTTL = 24 * time.Hour

// Token authorizes delivery of one package between its two parties.
// Every field except Signature is covered by the signature.
type Token struct {
	PackageID     id.PackageID
	Sender        id.DID
	Custodian     id.DID
	Destination   string
	DeclaredValue int64
	// DeliveryLocation is where the custodian must stand to hand the package over.
	DeliveryLocation geofence.Coordinate
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Signature        []byte
}

// Digest is the hex SHA-256 of the token's wire encoding. Verification
// records reference tokens by digest.
func (t *Token) Digest() (string, error) {
	raw, err := Encode(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Reason says why a scanned token was refused.
type Reason string

const (
	ReasonMalformedEncoding Reason = "malformed_encoding"
	ReasonPackageMismatch   Reason = "package_mismatch"
	ReasonExpired           Reason = "expired"
	ReasonSignatureInvalid  Reason = "signature_invalid"
	ReasonIssuerUnknown     Reason = "issuer_unknown"
	// ReasonNotIssued means the token is authentic but is not the latest token
	// recorded for the package, or no token is visible yet.
	ReasonNotIssued Reason = "not_issued"
)

var reasonMessages = map[Reason]string{
	ReasonMalformedEncoding: "The scanned code is not a valid package token. Rescan it.",
	ReasonPackageMismatch:   "This token belongs to a different package.",
	ReasonExpired:           "This token has expired. A new pickup verification is required.",
	ReasonSignatureInvalid:  "The token signature does not verify. Do not accept this package.",
	ReasonIssuerUnknown:     "The token was issued by an identity that no longer exists.",
	ReasonNotIssued:         "This token is not the current token for the package.",
}

// Message is a human-readable remedy for the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "The package token is invalid."
}

// ValidationError is returned by Validate for every refused token.
type ValidationError struct {
	Reason Reason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return "invalid package token: " + string(e.Reason) + ": " + e.Err.Error()
	}
	return "invalid package token: " + string(e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(reason Reason, err error) *ValidationError {
	return &ValidationError{Reason: reason, Err: err}
}

// ReasonOf extracts the validation reason from err.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
