package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

// retention keeps tokens readable for a while after expiry so late scans are
// refused as expired rather than as never issued.
const retention = 24 * time.Hour

type entry struct {
	encoded   []byte
	expiresAt time.Time
}

// InMemoryRegistry keeps the latest token per package in memory.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	tokens map[id.PackageID]entry
	now    func() time.Time
}

type MemoryOption func(*InMemoryRegistry)

// WithClock sets the clock used to apply retention.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *InMemoryRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryRegistry {
	r := &InMemoryRegistry{
		tokens: make(map[id.PackageID]entry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryRegistry) Publish(_ context.Context, packageID id.PackageID, encoded []byte, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[packageID] = entry{
		encoded:   append([]byte(nil), encoded...),
		expiresAt: expiresAt,
	}
	return nil
}

func (r *InMemoryRegistry) Latest(_ context.Context, packageID id.PackageID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tokens[packageID]
	if !ok || r.now().After(e.expiresAt.Add(retention)) {
		return nil, fmt.Errorf("package token not found: %w", sentinel.ErrNotFound)
	}
	return append([]byte(nil), e.encoded...), nil
}
