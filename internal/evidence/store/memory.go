package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"parcelproof/internal/evidence"
	"parcelproof/pkg/platform/sentinel"
)

// MemoryURLPrefix prefixes URLs handed out by the in-memory store.
const MemoryURLPrefix = "memory://"

// InMemory keeps uploaded photos in a map.
type InMemory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewInMemory() *InMemory {
	return &InMemory{objects: make(map[string][]byte)}
}

func (m *InMemory) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := evidence.ObjectKey(data, contentType)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return MemoryURLPrefix + key, nil
}

// Get returns the bytes stored at url.
func (m *InMemory) Get(url string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[strings.TrimPrefix(url, MemoryURLPrefix)]
	if !ok {
		return nil, fmt.Errorf("evidence %s: %w", url, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
