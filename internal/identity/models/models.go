package models

import (
	"crypto/ed25519"
	"time"

	id "parcelproof/pkg/domain"
)

// StorageKind names the vault holding an identity's private key.
type StorageKind string

const (
	// StorageSealed keeps keys AEAD-sealed under a master key.
	StorageSealed StorageKind = "sealed"
	// StorageSoftware keeps keys as plain PKCS#8 files. Degraded mode only.
	StorageSoftware StorageKind = "software"
)

func (k StorageKind) IsValid() bool {
	return k == StorageSealed || k == StorageSoftware
}

// Identity is the public half of a user's durable keypair as recorded in the
// directory. The private key never appears here.
type Identity struct {
	UserID    id.UserID
	DID       id.DID
	PublicKey ed25519.PublicKey
	Storage   StorageKind
	Degraded  bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (i *Identity) IsRevoked() bool {
	return i.RevokedAt != nil
}

// Clone returns a deep copy so stores never hand out shared state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.PublicKey = append(ed25519.PublicKey(nil), i.PublicKey...)
	if i.RevokedAt != nil {
		t := *i.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
