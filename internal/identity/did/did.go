// Package did derives did:key identifiers from Ed25519 public keys and back.
//
// Format: "did:key:z" + base58btc(0xed 0x01 || publicKey), where 0xed01 is the
// multicodec prefix for an Ed25519 public key.
package did

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/mr-tron/base58"

	id "parcelproof/pkg/domain"
)

const (
	// Method is the DID method tag baked into every identifier.
	Method = "key"

	prefix          = "did:" + Method + ":"
	multibaseBase58 = 'z'
)

var ed25519Multicodec = []byte{0xed, 0x01}

// ErrInvalidDID is returned for identifiers that do not decode to an Ed25519 key.
var ErrInvalidDID = errors.New("invalid did:key identifier")

// FromPublicKey derives the identifier. It is a pure function of pub.
func FromPublicKey(pub ed25519.PublicKey) (id.DID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrInvalidDID
	}
	raw := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	raw = append(raw, ed25519Multicodec...)
	raw = append(raw, pub...)
	return id.DID(prefix + string(multibaseBase58) + base58.Encode(raw)), nil
}

// PublicKey recovers the Ed25519 public key embedded in d.
func PublicKey(d id.DID) (ed25519.PublicKey, error) {
	s := string(d)
	if !strings.HasPrefix(s, prefix) {
		return nil, ErrInvalidDID
	}
	mb := s[len(prefix):]
	if len(mb) < 2 || mb[0] != multibaseBase58 {
		return nil, ErrInvalidDID
	}
	raw, err := base58.Decode(mb[1:])
	if err != nil {
		return nil, ErrInvalidDID
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize || !bytes.HasPrefix(raw, ed25519Multicodec) {
		return nil, ErrInvalidDID
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// Matches reports whether pub derives exactly to d.
func Matches(d id.DID, pub ed25519.PublicKey) bool {
	derived, err := FromPublicKey(pub)
	return err == nil && derived == d
}
