package scoped

import (
	"context"
	"sync"

	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
	"keel/pkg/requestcontext"
)

// Memory is a tenant-scoped in-memory collection, used as the store backend in
// tests and single-node deployments. All operations apply the same scoping
// rules as the SQL stores: reads see only the ambient tenant's records and an
// unbound context sees nothing.
type Memory[T Record] struct {
	mu      sync.RWMutex
	records map[string]T
}

func NewMemory[T Record]() *Memory[T] {
	return &Memory[T]{records: make(map[string]T)}
}

// Create inserts a record under the ambient tenant. Returns
// sentinel.ErrConflict when the key is already taken.
func (m *Memory[T]) Create(ctx context.Context, record T) error {
	if err := Guard(ctx, record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.Key()]; exists {
		return sentinel.ErrConflict
	}
	m.records[record.Key()] = record
	return nil
}

// Update replaces an existing record. The stored record's tenant is
// authoritative: updating a record that belongs to another tenant surfaces as
// ErrNotFound, exactly as the scoped SQL predicate would.
func (m *Memory[T]) Update(ctx context.Context, record T) error {
	if err := Guard(ctx, record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.records[record.Key()]
	if !exists || existing.TenantID() != record.TenantID() {
		return sentinel.ErrNotFound
	}
	m.records[record.Key()] = record
	return nil
}

// Get returns the record with the given key if it belongs to the ambient
// tenant. With no tenant bound it behaves as if the record does not exist.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	current, ok := requestcontext.Tenant(ctx)
	if !ok {
		return zero, sentinel.ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, exists := m.records[key]
	if !exists || record.TenantID() != current {
		return zero, sentinel.ErrNotFound
	}
	return record, nil
}

// List returns the ambient tenant's records. With no tenant bound it returns
// the empty set; a missing context must never read as "all tenants".
func (m *Memory[T]) List(ctx context.Context) ([]T, error) {
	current, ok := requestcontext.Tenant(ctx)
	if !ok {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []T
	for _, record := range m.records {
		if record.TenantID() == current {
			out = append(out, record)
		}
	}
	return out, nil
}

// ListAll is the escape hatch: it returns records across all tenants and is
// callable only from privileged contexts.
func (m *Memory[T]) ListAll(ctx context.Context) ([]T, error) {
	if err := RequirePrivileged(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	return out, nil
}

// ListTenant returns one tenant's records from a privileged context, for
// control-plane tooling that inspects a specific tenant without binding it.
func (m *Memory[T]) ListTenant(ctx context.Context, tenant id.TenantID) ([]T, error) {
	if err := RequirePrivileged(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []T
	for _, record := range m.records {
		if record.TenantID() == tenant {
			out = append(out, record)
		}
	}
	return out, nil
}
