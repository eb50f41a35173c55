// Package events defines the append-only verification records and settlement
// instructions produced by handover attempts.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parcelproof/internal/geofence"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

// Kind distinguishes the two handover legs.
type Kind string

const (
	KindPickup   Kind = "pickup"
	KindDelivery Kind = "delivery"
)

func (k Kind) IsValid() bool {
	return k == KindPickup || k == KindDelivery
}

// Condition is the custodian's assessment of the package at delivery.
type Condition string

const (
	ConditionNone    Condition = ""
	ConditionIntact  Condition = "intact"
	ConditionDamaged Condition = "damaged"
)

func (c Condition) IsValid() bool {
	return c == ConditionNone || c == ConditionIntact || c == ConditionDamaged
}

// ErrAlreadySettled is returned by stores when a verified delivery record
// already exists for the package.
var ErrAlreadySettled = fmt.Errorf("package already settled: %w", sentinel.ErrConflict)

// Namespaces for content-derived identifiers.
var (
	recordNamespace     = uuid.MustParse("6f1b8a52-3c1e-4d7e-9b55-2f0c6c7e8a10")
	settlementNamespace = uuid.MustParse("0d4e9b3a-71c2-4a5f-8e2b-9c6d1f3a7b24")
)

// Evidence references the uploaded photo.
type Evidence struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Record is a signed verification record. Every field up to Signature is
// covered by the signature; Verified is derived and stored alongside.
type Record struct {
	ID             id.RecordID         `json:"id"`
	PackageID      id.PackageID        `json:"package_id"`
	Kind           Kind                `json:"kind"`
	Actor          id.DID              `json:"actor"`
	Observed       geofence.Coordinate `json:"observed"`
	AccuracyMeters float64             `json:"accuracy_m"`
	DistanceMeters float64             `json:"distance_m"`
	RadiusMeters   float64             `json:"radius_m"`
	AccuracyClass  geofence.Accuracy   `json:"accuracy_class"`
	Evidence       Evidence            `json:"evidence"`
	Condition      Condition           `json:"condition,omitempty"`
	Override       bool                `json:"override"`
	OverrideReason string              `json:"override_reason,omitempty"`
	TokenDigest    string              `json:"token_digest"`
	Timestamp      time.Time           `json:"timestamp"`
	Signature      []byte              `json:"signature"`
	Verified       bool                `json:"verified"`
}

// Within reports whether the observed position was inside the radius.
func (r *Record) Within() bool {
	return r.DistanceMeters <= r.RadiusMeters
}

// ExpectedVerified is the verified flag implied by the signed fields.
func (r *Record) ExpectedVerified() bool {
	return r.Within() || r.Override
}

// Digest is the hex SHA-256 of the signing payload. Records with the same
// content have the same digest and therefore the same ID.
func (r *Record) Digest() (string, error) {
	payload, err := SigningPayload(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// AssignID derives the record ID from its digest.
func (r *Record) AssignID() (string, error) {
	digest, err := r.Digest()
	if err != nil {
		return "", err
	}
	r.ID = id.RecordID(uuid.NewSHA1(recordNamespace, []byte(digest)))
	return digest, nil
}

// Settlement instructs downstream payment release for a delivered package.
type Settlement struct {
	ID           id.SettlementID `json:"id"`
	PackageID    id.PackageID    `json:"package_id"`
	RecordID     id.RecordID     `json:"record_id"`
	Amount       int64           `json:"amount"`
	AutoVerified bool            `json:"auto_verified"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewSettlement builds the instruction for a verified delivery record. The ID
// is derived from the record so a replayed append cannot mint a second one.
func NewSettlement(rec *Record, amount int64, now time.Time) *Settlement {
	recordID := uuid.UUID(rec.ID)
	return &Settlement{
		ID:           id.SettlementID(uuid.NewSHA1(settlementNamespace, recordID[:])),
		PackageID:    rec.PackageID,
		RecordID:     rec.ID,
		Amount:       amount,
		AutoVerified: rec.Verified && !rec.Override,
		CreatedAt:    now,
	}
}

// Appended is the result of a store append.
type Appended struct {
	Record     *Record
	Settlement *Settlement
	// Duplicate is set when an identical record was already stored; Record and
	// Settlement are then the stored copies.
	Duplicate bool
}
