package access

import (
	"context"
	"sync"

	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// OverrideStore persists per-tenant matrix overrides.
type OverrideStore interface {
	// Rule returns the tenant's configured rule for a resource/method pair.
	// Returns sentinel.ErrNotFound when the tenant has no override for it.
	Rule(ctx context.Context, tenant id.TenantID, resource, method string) (Rule, error)
	// Upsert stores or replaces an override.
	Upsert(ctx context.Context, tenant id.TenantID, resource, method string, rule Rule) error
}

type overrideKey struct {
	tenant   id.TenantID
	resource string
	method   string
}

// InMemoryOverrides is the memory-backed override store.
type InMemoryOverrides struct {
	mu    sync.RWMutex
	rules map[overrideKey]Rule
}

func NewInMemoryOverrides() *InMemoryOverrides {
	return &InMemoryOverrides{rules: make(map[overrideKey]Rule)}
}

func (s *InMemoryOverrides) Rule(ctx context.Context, tenant id.TenantID, resource, method string) (Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[overrideKey{tenant, resource, method}]
	if !ok {
		return Rule{}, sentinel.ErrNotFound
	}
	return rule, nil
}

func (s *InMemoryOverrides) Upsert(ctx context.Context, tenant id.TenantID, resource, method string, rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[overrideKey{tenant, resource, method}] = rule
	return nil
}
