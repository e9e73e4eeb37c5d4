package tenant

import (
	"context"
	"strings"
	"sync"

	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// Store persists tenants. Names are unique case-insensitively.
type Store interface {
	// Create inserts the tenant if its name is available, else
	// sentinel.ErrConflict.
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, tenantID id.TenantID) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	// Execute atomically applies fn to one tenant under the store's lock, so
	// a status check and its transition cannot interleave with a concurrent
	// writer. The mutation is persisted only when fn returns nil.
	Execute(ctx context.Context, tenantID id.TenantID, fn func(*Tenant) error) (*Tenant, error)
}

// InMemory is the memory-backed tenant store.
type InMemory struct {
	mu      sync.Mutex
	tenants map[id.TenantID]Tenant
	byName  map[string]id.TenantID
}

func NewInMemory() *InMemory {
	return &InMemory{
		tenants: make(map[id.TenantID]Tenant),
		byName:  make(map[string]id.TenantID),
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *InMemory) Create(ctx context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(t.Name)
	if _, taken := s.byName[key]; taken {
		return sentinel.ErrConflict
	}
	s.tenants[t.ID] = *t
	s.byName[key] = t.ID
	return nil
}

func (s *InMemory) Get(ctx context.Context, tenantID id.TenantID) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &t, nil
}

func (s *InMemory) List(ctx context.Context) ([]*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Tenant, 0, len(s.tenants))
	for key := range s.tenants {
		t := s.tenants[key]
		out = append(out, &t)
	}
	return out, nil
}

func (s *InMemory) Execute(ctx context.Context, tenantID id.TenantID, fn func(*Tenant) error) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := fn(&t); err != nil {
		return nil, err
	}
	s.tenants[tenantID] = t
	return &t, nil
}
