package inbox

import (
	"context"
	"sync"

	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// Store persists inbox records. Insert must enforce uniqueness on
// (tenant, event_id), returning sentinel.ErrDuplicate on redelivery.
type Store interface {
	Insert(ctx context.Context, record *Record) error
	// Seen reports whether the event id was already recorded, for diagnostics.
	Seen(ctx context.Context, tenant id.TenantID, eventID string) (bool, error)
}

type dedupKey struct {
	tenant  id.TenantID
	eventID string
}

// InMemory is the memory-backed inbox store.
type InMemory struct {
	mu      sync.Mutex
	records map[dedupKey]Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[dedupKey]Record)}
}

func (s *InMemory) Insert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey{record.Tenant, record.EventID}
	if _, exists := s.records[key]; exists {
		return sentinel.ErrDuplicate
	}
	s.records[key] = *record
	return nil
}

func (s *InMemory) Seen(ctx context.Context, tenant id.TenantID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.records[dedupKey{tenant, eventID}]
	return exists, nil
}

// Len reports the number of recorded events, for tests.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
