// Package tailcache provides chain-tail hint caches for the ledger append
// path. A hint saves the tail lookup round-trip; a wrong hint only costs one
// conflicted insert, so caches here are free to be approximate.
package tailcache

import (
	"context"
	"sync"

	"keel/internal/ledger"
)

// Memory is a process-local tail hint cache.
type Memory struct {
	mu    sync.RWMutex
	tails map[ledger.ChainID]string
}

func NewMemory() *Memory {
	return &Memory{tails: make(map[ledger.ChainID]string)}
}

func (m *Memory) Get(ctx context.Context, chain ledger.ChainID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tail, ok := m.tails[chain]
	return tail, ok
}

func (m *Memory) Set(ctx context.Context, chain ledger.ChainID, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tails[chain] = hash
}
