package ledger

import "fmt"

// OrderChain arranges a chain's entries into linkage order, genesis first.
// It fails on a fork (two entries claiming the same predecessor), a gap
// (an entry whose predecessor is missing), or a dangling remainder.
func OrderChain(entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	byPrev := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, dup := byPrev[e.PrevHash]; dup {
			return nil, fmt.Errorf("chain fork: two entries claim predecessor %s", e.PrevHash)
		}
		byPrev[e.PrevHash] = e
	}

	ordered := make([]Entry, 0, len(entries))
	cursor := GenesisHash
	for {
		next, ok := byPrev[cursor]
		if !ok {
			break
		}
		ordered = append(ordered, next)
		cursor = next.EntryHash
	}
	if len(ordered) != len(entries) {
		return nil, fmt.Errorf("chain gap: %d of %d entries unreachable from genesis", len(entries)-len(ordered), len(entries))
	}
	return ordered, nil
}

// Verify walks a chain from genesis, recomputing every entry hash from its
// stored fields and predecessor. Any mismatch means the audit trail has been
// tampered with or corrupted.
func Verify(entries []Entry) error {
	ordered, err := OrderChain(entries)
	if err != nil {
		return err
	}
	prev := GenesisHash
	for i, e := range ordered {
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d: prev_hash %s does not match predecessor %s", i, e.PrevHash, prev)
		}
		computed, err := ComputeEntryHash(prev, e)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("entry %d: stored hash %s does not match recomputed %s", i, e.EntryHash, computed)
		}
		prev = e.EntryHash
	}
	return nil
}
