package vault

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

// MasterKeySize is the required length of the sealing master key.
const MasterKeySize = 32

const sealInfoPrefix = "parcelproof/vault/v1/"

// Sealed stores private key seeds encrypted with XChaCha20-Poly1305.
// Each user gets a distinct sealing key derived with HKDF-SHA256 from the
// master key, and the user id is bound as associated data.
type Sealed struct {
	dir    string
	random io.Reader

	mu         sync.RWMutex
	master     []byte
	configured bool
}

type SealedOption func(*Sealed)

// WithRandom overrides the nonce source. Tests use it to simulate entropy failure.
func WithRandom(r io.Reader) SealedOption {
	return func(s *Sealed) {
		s.random = r
	}
}

// NewSealed creates a sealed vault rooted at dir. A nil master key yields a
// vault that reports ErrUnavailable; a master key of the wrong size is an error.
func NewSealed(dir string, master []byte, opts ...SealedOption) (*Sealed, error) {
	if master != nil && len(master) != MasterKeySize {
		return nil, fmt.Errorf("vault master key must be %d bytes, got %d", MasterKeySize, len(master))
	}
	s := &Sealed{dir: dir, random: rand.Reader}
	if master != nil {
		s.master = append([]byte(nil), master...)
		s.configured = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sealed) Kind() models.StorageKind { return models.StorageSealed }

// Available reports ErrUnavailable when the vault never received a master key
// and ErrLocked while it is locked.
func (s *Sealed) Available() error {
	s.mu.RLock()
	configured, locked := s.configured, s.master == nil
	s.mu.RUnlock()
	if !configured {
		return ErrUnavailable
	}
	if locked {
		return ErrLocked
	}
	return ensureDir(s.dir)
}

// Lock wipes the master key from memory. Keys stay on disk but cannot be
// opened until Unlock.
func (s *Sealed) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.master)
	s.master = nil
}

// Unlock loads the master key.
func (s *Sealed) Unlock(master []byte) error {
	if len(master) != MasterKeySize {
		return fmt.Errorf("vault master key must be %d bytes", MasterKeySize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = append([]byte(nil), master...)
	s.configured = true
	return nil
}

func (s *Sealed) Put(_ context.Context, userID id.UserID, priv ed25519.PrivateKey) error {
	if err := s.Available(); err != nil {
		return err
	}
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid private key length %d", len(priv))
	}
	aead, err := s.aead(userID)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+ed25519.SeedSize+aead.Overhead())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return fmt.Errorf("read vault nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, priv.Seed(), []byte(userID.String()))
	return writeFileAtomic(s.path(userID), blob)
}

func (s *Sealed) Get(_ context.Context, userID id.UserID) (ed25519.PrivateKey, error) {
	if err := s.Available(); err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(s.path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("sealed key: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read sealed key: %w", err)
	}
	aead, err := s.aead(userID)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCorrupt
	}
	nonce, sealed := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	seed, err := aead.Open(nil, nonce, sealed, []byte(userID.String()))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrCorrupt
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Delete removes the sealed blob. It works while locked so a user can always
// destroy their key.
func (s *Sealed) Delete(_ context.Context, userID id.UserID) error {
	if s.dir == "" {
		return ErrUnavailable
	}
	return removeFile(s.path(userID))
}

func (s *Sealed) path(userID id.UserID) string {
	return filepath.Join(s.dir, userID.String()+".sealed")
}

func (s *Sealed) aead(userID id.UserID) (cipher.AEAD, error) {
	s.mu.RLock()
	master := s.master
	if master == nil {
		s.mu.RUnlock()
		return nil, ErrLocked
	}
	kdf := hkdf.New(sha256.New, master, nil, []byte(sealInfoPrefix+userID.String()))
	key := make([]byte, chacha20poly1305.KeySize)
	_, err := io.ReadFull(kdf, key)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}
