package vault

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

const pemBlockType = "PRIVATE KEY"

// Software keeps private keys unencrypted as PKCS#8 PEM files with 0600
// permissions. Callers must surface every use as degraded key storage.
type Software struct {
	dir string
}

func NewSoftware(dir string) *Software {
	return &Software{dir: dir}
}

func (s *Software) Kind() models.StorageKind { return models.StorageSoftware }

func (s *Software) Available() error {
	return ensureDir(s.dir)
}

func (s *Software) Put(_ context.Context, userID id.UserID, priv ed25519.PrivateKey) error {
	if err := s.Available(); err != nil {
		return err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	return writeFileAtomic(s.path(userID), pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der}))
}

func (s *Software) Get(_ context.Context, userID id.UserID) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("software key: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read software key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemBlockType {
		return nil, ErrCorrupt
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrCorrupt
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrCorrupt
	}
	return priv, nil
}

func (s *Software) Delete(_ context.Context, userID id.UserID) error {
	if s.dir == "" {
		return ErrUnavailable
	}
	return removeFile(s.path(userID))
}

func (s *Software) path(userID id.UserID) string {
	return filepath.Join(s.dir, userID.String()+".pem")
}
