package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

// Error Contract:
// - FindByUser returns ErrNotFound when the user has no active identity
// - FindByDID returns ErrNotFound for unknown DIDs; revoked identities are returned
// - Save returns ErrConflict when the user already has an active identity
// - Revoke returns ErrNotFound when there is nothing active to revoke

// InMemoryStore keeps the identity directory in memory for tests and dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	byDID  map[id.DID]*models.Identity
	active map[id.UserID]id.DID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byDID:  make(map[id.DID]*models.Identity),
		active: make(map[id.UserID]id.DID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, identity *models.Identity) error {
	if identity == nil {
		return fmt.Errorf("identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[identity.UserID]; ok {
		return fmt.Errorf("user already has an active identity: %w", sentinel.ErrConflict)
	}
	if _, ok := s.byDID[identity.DID]; ok {
		return fmt.Errorf("did already registered: %w", sentinel.ErrConflict)
	}
	s.byDID[identity.DID] = identity.Clone()
	if !identity.IsRevoked() {
		s.active[identity.UserID] = identity.DID
	}
	return nil
}

func (s *InMemoryStore) FindByUser(_ context.Context, userID id.UserID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	did, ok := s.active[userID]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	return s.byDID[did].Clone(), nil
}

func (s *InMemoryStore) FindByDID(_ context.Context, did id.DID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byDID[did]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	return identity.Clone(), nil
}

func (s *InMemoryStore) Revoke(_ context.Context, userID id.UserID, revokedAt time.Time) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	did, ok := s.active[userID]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	identity := s.byDID[did]
	identity.RevokedAt = &revokedAt
	delete(s.active, userID)
	return identity.Clone(), nil
}
