// Package store persists verification records and settlement instructions.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"parcelproof/internal/events"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/outbox"
	"parcelproof/pkg/platform/sentinel"
	platformsync "parcelproof/pkg/platform/sync"
)

// InMemoryStore serializes appends per package so the first verified
// delivery wins, mirroring the partial unique index of the Postgres store.
type InMemoryStore struct {
	locks  *platformsync.ShardedMutex
	outbox outbox.Store

	mu          sync.RWMutex
	records     map[id.RecordID]*events.Record
	byPackage   map[id.PackageID][]id.RecordID
	settlements map[id.PackageID]*events.Settlement
}

// NewInMemory builds a store. Settlement entries are appended to ob when it
// is not nil.
func NewInMemory(ob outbox.Store) *InMemoryStore {
	return &InMemoryStore{
		locks:       platformsync.NewShardedMutex(),
		outbox:      ob,
		records:     make(map[id.RecordID]*events.Record),
		byPackage:   make(map[id.PackageID][]id.RecordID),
		settlements: make(map[id.PackageID]*events.Settlement),
	}
}

func (s *InMemoryStore) Append(ctx context.Context, rec *events.Record, st *events.Settlement) (*events.Appended, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is required: %w", sentinel.ErrInvalidInput)
	}
	var out *events.Appended
	err := s.locks.Do(string(rec.PackageID), func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if existing, dup := s.lookup(rec.ID); dup {
			out = &events.Appended{Record: existing, Settlement: s.settlementFor(existing), Duplicate: true}
			return nil
		}
		if rec.Kind == events.KindDelivery && rec.Verified && s.hasVerifiedDelivery(rec.PackageID) {
			return events.ErrAlreadySettled
		}
		if st != nil {
			if s.hasSettlement(rec.PackageID) {
				return fmt.Errorf("settlement exists for package %s: %w", rec.PackageID, sentinel.ErrConflict)
			}
			if s.outbox != nil {
				entry, err := events.OutboxEntry(st)
				if err != nil {
					return err
				}
				if err := s.outbox.Append(ctx, entry); err != nil {
					return fmt.Errorf("append settlement to outbox: %w", err)
				}
			}
		}
		s.commit(rec, st)
		out = &events.Appended{Record: cloneRecord(rec), Settlement: cloneSettlement(st)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *InMemoryStore) ListByPackage(_ context.Context, packageID id.PackageID) ([]*events.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byPackage[packageID]
	out := make([]*events.Record, 0, len(ids))
	for _, rid := range ids {
		out = append(out, cloneRecord(s.records[rid]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, recordID id.RecordID) (*events.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("record not found: %w", sentinel.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) SettlementForPackage(_ context.Context, packageID id.PackageID) (*events.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[packageID]
	if !ok {
		return nil, fmt.Errorf("settlement not found: %w", sentinel.ErrNotFound)
	}
	return cloneSettlement(st), nil
}

func (s *InMemoryStore) lookup(recordID id.RecordID) (*events.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, false
	}
	return cloneRecord(rec), true
}

func (s *InMemoryStore) settlementFor(rec *events.Record) *events.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[rec.PackageID]
	if !ok || st.RecordID != rec.ID {
		return nil
	}
	return cloneSettlement(st)
}

func (s *InMemoryStore) hasVerifiedDelivery(packageID id.PackageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rid := range s.byPackage[packageID] {
		if r := s.records[rid]; r.Kind == events.KindDelivery && r.Verified {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) hasSettlement(packageID id.PackageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.settlements[packageID]
	return ok
}

func (s *InMemoryStore) commit(rec *events.Record, st *events.Settlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
	s.byPackage[rec.PackageID] = append(s.byPackage[rec.PackageID], rec.ID)
	if st != nil {
		s.settlements[rec.PackageID] = cloneSettlement(st)
	}
}

func cloneRecord(r *events.Record) *events.Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Signature = append([]byte(nil), r.Signature...)
	return &cp
}

func cloneSettlement(st *events.Settlement) *events.Settlement {
	if st == nil {
		return nil
	}
	cp := *st
	return &cp
}
