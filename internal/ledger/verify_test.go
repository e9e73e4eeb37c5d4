package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "keel/pkg/domain"
)

func buildChain(t *testing.T, length int) []Entry {
	t.Helper()
	tenant := id.TenantID(uuid.New())
	prev := GenesisHash
	entries := make([]Entry, 0, length)
	for i := 0; i < length; i++ {
		e := Entry{
			ID:        uuid.New(),
			Scope:     ScopeTenant,
			Tenant:    tenant,
			Chain:     TenantChain(tenant),
			PrevHash:  prev,
			Action:    ActionCommissionAccrue,
			Timestamp: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		}
		hash, err := ComputeEntryHash(prev, e)
		require.NoError(t, err)
		e.EntryHash = hash
		entries = append(entries, e)
		prev = hash
	}
	return entries
}

func TestOrderChain(t *testing.T) {
	t.Run("orders shuffled entries by linkage", func(t *testing.T) {
		entries := buildChain(t, 4)
		shuffled := []Entry{entries[2], entries[0], entries[3], entries[1]}

		ordered, err := OrderChain(shuffled)
		require.NoError(t, err)
		require.Len(t, ordered, 4)
		for i := range ordered {
			assert.Equal(t, entries[i].EntryHash, ordered[i].EntryHash)
		}
	})

	t.Run("detects fork", func(t *testing.T) {
		entries := buildChain(t, 3)
		fork := entries[2]
		fork.PrevHash = entries[0].EntryHash // second claimant of the same slot
		_, err := OrderChain([]Entry{entries[0], entries[1], fork})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fork")
	})

	t.Run("detects gap", func(t *testing.T) {
		entries := buildChain(t, 3)
		_, err := OrderChain([]Entry{entries[0], entries[2]}) // middle entry missing
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gap")
	})

	t.Run("empty chain is fine", func(t *testing.T) {
		ordered, err := OrderChain(nil)
		require.NoError(t, err)
		assert.Empty(t, ordered)
	})
}

func TestVerify(t *testing.T) {
	t.Run("intact chain passes", func(t *testing.T) {
		assert.NoError(t, Verify(buildChain(t, 5)))
	})

	t.Run("edited field fails", func(t *testing.T) {
		entries := buildChain(t, 3)
		entries[1].Action = ActionInvoicePaid
		err := Verify(entries)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recomputed")
	})

	t.Run("relinked hash fails", func(t *testing.T) {
		entries := buildChain(t, 3)
		// Recompute entry 1's hash over forged fields; its successor's
		// prev_hash no longer matches, so the walk breaks.
		entries[1].Action = ActionInvoicePaid
		hash, err := ComputeEntryHash(entries[1].PrevHash, entries[1])
		require.NoError(t, err)
		entries[1].EntryHash = hash
		assert.Error(t, Verify(entries))
	})
}
