// Package store keeps the settlement release ledger.
package store

import (
	"context"
	"sync"

	"parcelproof/internal/events"
)

// InMemory is a process-local ledger for tests and single-instance dev runs.
type InMemory struct {
	mu      sync.Mutex
	claimed map[string]events.SettlementMessage
}

func NewInMemory() *InMemory {
	return &InMemory{claimed: make(map[string]events.SettlementMessage)}
}

func (s *InMemory) Claim(_ context.Context, msg *events.SettlementMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[msg.SettlementID]; ok {
		return false, nil
	}
	s.claimed[msg.SettlementID] = *msg
	return true, nil
}

func (s *InMemory) Forget(_ context.Context, settlementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, settlementID)
	return nil
}

// Len reports how many settlements are claimed.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}
