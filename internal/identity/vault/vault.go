// Package vault holds identity private keys at rest.
//
// Two backends exist. Sealed encrypts each key with XChaCha20-Poly1305 under a
// key derived from a master secret and can be locked at runtime. Software
// writes plain PKCS#8 PEM files and exists only as an explicitly enabled
// degraded fallback for hosts without a master secret.
package vault

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
)

var (
	// ErrLocked is returned while a sealed vault has no master key loaded.
	ErrLocked = errors.New("key vault is locked")
	// ErrUnavailable means the backend cannot hold keys on this host at all.
	ErrUnavailable = errors.New("key vault unavailable")
	// ErrCorrupt means stored key material failed authentication or parsing.
	ErrCorrupt = errors.New("stored key material is corrupt")
)

// Vault stores one Ed25519 private key per user.
// Get returns sentinel.ErrNotFound when no key is stored for the user.
type Vault interface {
	Kind() models.StorageKind
	Available() error
	Put(ctx context.Context, userID id.UserID, priv ed25519.PrivateKey) error
	Get(ctx context.Context, userID id.UserID) (ed25519.PrivateKey, error)
	Delete(ctx context.Context, userID id.UserID) error
}

// writeFileAtomic writes data with 0600 permissions via a temp file and rename,
// so readers never observe a half-written key.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename
	}()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod key file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove key file: %w", err)
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return ErrUnavailable
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
