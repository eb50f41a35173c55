// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "parcelproof/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a RecordID where a UserID is expected.
type (
	UserID       uuid.UUID
	RecordID     uuid.UUID
	SettlementID uuid.UUID
)

// PackageID names a package in the surrounding application. The engine treats it
// as opaque but never empty.
type PackageID string

// DID is a decentralized identifier derived from a public key (did:key method).
type DID string

// maxPackageIDLength bounds package ids so they fit the canonical encoding and indexes.
const maxPackageIDLength = 128

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseRecordID(s string) (RecordID, error) {
	id, err := parseUUID(s, "record ID")
	return RecordID(id), err
}

func ParsePackageID(s string) (PackageID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "package ID cannot be empty")
	}
	if len(s) > maxPackageIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "package ID too long")
	}
	return PackageID(s), nil
}

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id RecordID) String() string     { return uuid.UUID(id).String() }
func (id SettlementID) String() string { return uuid.UUID(id).String() }
func (id PackageID) String() string    { return string(id) }
func (id DID) String() string          { return string(id) }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SettlementID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PackageID) IsNil() bool    { return id == "" }
func (id DID) IsNil() bool          { return id == "" }

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}
