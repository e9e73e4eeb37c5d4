// Package memory implements the ledger store for tests and single-node use.
// It mirrors the SQL store's contract exactly: inserts are atomic
// compare-and-swap operations on the chain tail, and losing the race returns
// sentinel.ErrConflict.
package memory

import (
	"context"
	"sync"

	"keel/internal/ledger"
	"keel/pkg/platform/sentinel"
)

type Store struct {
	mu     sync.Mutex
	chains map[ledger.ChainID][]ledger.Entry
	tails  map[ledger.ChainID]string
	hashes map[string]struct{}
}

func New() *Store {
	return &Store{
		chains: make(map[ledger.ChainID][]ledger.Entry),
		tails:  make(map[ledger.ChainID]string),
		hashes: make(map[string]struct{}),
	}
}

func (s *Store) Tail(ctx context.Context, chain ledger.ChainID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tail, ok := s.tails[chain]; ok {
		return tail, nil
	}
	return ledger.GenesisHash, nil
}

func (s *Store) Insert(ctx context.Context, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail, ok := s.tails[entry.Chain]
	if !ok {
		tail = ledger.GenesisHash
	}
	if entry.PrevHash != tail {
		return sentinel.ErrConflict
	}
	if _, dup := s.hashes[entry.EntryHash]; dup {
		return sentinel.ErrConflict
	}

	s.chains[entry.Chain] = append(s.chains[entry.Chain], *entry)
	s.tails[entry.Chain] = entry.EntryHash
	s.hashes[entry.EntryHash] = struct{}{}
	return nil
}

func (s *Store) List(ctx context.Context, chain ledger.ChainID, limit int) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.chains[chain]
	if limit > len(entries) {
		limit = len(entries)
	}
	out := make([]ledger.Entry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Store) Chain(ctx context.Context, chain ledger.ChainID) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.chains[chain]
	out := make([]ledger.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Tamper overwrites a stored entry in place. Only integrity tests use it; the
// public contract is append-only.
func (s *Store) Tamper(chain ledger.ChainID, index int, mutate func(*ledger.Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.chains[chain]) {
		mutate(&s.chains[chain][index])
	}
}
