// Package signing signs canonical payloads with Ed25519 keys and verifies them
// against either a raw public key or a did:key identifier.
package signing

import (
	"crypto"
	"crypto/ed25519"
	"errors"

	"parcelproof/internal/identity/did"
	id "parcelproof/pkg/domain"
)

// ErrKeyUnavailable is returned when the private key cannot be used,
// e.g. the key vault is locked or the key was deleted.
var ErrKeyUnavailable = errors.New("signing key unavailable")

// Signer produces signatures for a single identity.
type Signer interface {
	DID() id.DID
	Sign(payload []byte) ([]byte, error)
}

// KeySigner signs with an in-memory Ed25519 private key.
type KeySigner struct {
	did  id.DID
	priv ed25519.PrivateKey
}

// NewKeySigner wraps priv. The DID is derived from its public half.
func NewKeySigner(priv ed25519.PrivateKey) (*KeySigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrKeyUnavailable
	}
	d, err := did.FromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &KeySigner{did: d, priv: priv}, nil
}

func (s *KeySigner) DID() id.DID { return s.did }

func (s *KeySigner) Sign(payload []byte) ([]byte, error) {
	return Sign(s.priv, payload)
}

// Sign signs payload with priv.
func Sign(priv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrKeyUnavailable
	}
	return priv.Sign(nil, payload, crypto.Hash(0))
}

// Verify reports whether sig is a valid signature of payload by pub.
// Malformed keys or signatures yield false.
func Verify(pub ed25519.PublicKey, payload, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// VerifyDID verifies against the key embedded in a did:key identifier.
func VerifyDID(d id.DID, payload, sig []byte) bool {
	pub, err := did.PublicKey(d)
	if err != nil {
		return false
	}
	return Verify(pub, payload, sig)
}
