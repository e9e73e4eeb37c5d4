package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "keel/pkg/domain"
)

func fixedEntry() Entry {
	tenant := id.TenantID(uuid.MustParse("7b1d2a9e-4c1f-4e8a-9b6d-111111111111"))
	return Entry{
		Scope:      ScopeTenant,
		Tenant:     tenant,
		Chain:      TenantChain(tenant),
		Actor:      "f3b4c5d6-0000-4000-8000-222222222222",
		Action:     ActionInvoicePaid,
		Resource:   "invoice",
		ResourceID: "inv-42",
		Before:     json.RawMessage(`{"status":"issued"}`),
		After:      json.RawMessage(`{"status":"paid"}`),
		RequestID:  "req-1",
		Timestamp:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestComputeEntryHash(t *testing.T) {
	t.Run("deterministic for identical input", func(t *testing.T) {
		a, err := ComputeEntryHash(GenesisHash, fixedEntry())
		require.NoError(t, err)
		b, err := ComputeEntryHash(GenesisHash, fixedEntry())
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("differs when predecessor differs", func(t *testing.T) {
		a, err := ComputeEntryHash(GenesisHash, fixedEntry())
		require.NoError(t, err)
		b, err := ComputeEntryHash(a, fixedEntry())
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("differs when any covered field differs", func(t *testing.T) {
		base, err := ComputeEntryHash(GenesisHash, fixedEntry())
		require.NoError(t, err)

		changed := fixedEntry()
		changed.After = json.RawMessage(`{"status":"refunded"}`)
		got, err := ComputeEntryHash(GenesisHash, changed)
		require.NoError(t, err)
		assert.NotEqual(t, base, got)
	})

	t.Run("client metadata is covered by the digest", func(t *testing.T) {
		base, err := ComputeEntryHash(GenesisHash, fixedEntry())
		require.NoError(t, err)

		reIPed := fixedEntry()
		reIPed.ClientIP = "203.0.113.9"
		got, err := ComputeEntryHash(GenesisHash, reIPed)
		require.NoError(t, err)
		assert.NotEqual(t, base, got)

		reAgented := fixedEntry()
		reAgented.UserAgent = "curl/8.5.0"
		got, err = ComputeEntryHash(GenesisHash, reAgented)
		require.NoError(t, err)
		assert.NotEqual(t, base, got)
	})

	t.Run("insensitive to JSON key order in snapshots", func(t *testing.T) {
		a := fixedEntry()
		a.After = json.RawMessage(`{"status":"paid","total":100}`)
		b := fixedEntry()
		b.After = json.RawMessage(`{"total":100,"status":"paid"}`)

		hashA, err := ComputeEntryHash(GenesisHash, a)
		require.NoError(t, err)
		hashB, err := ComputeEntryHash(GenesisHash, b)
		require.NoError(t, err)
		assert.Equal(t, hashA, hashB)
	})

	t.Run("timestamp is hashed in UTC", func(t *testing.T) {
		loc := time.FixedZone("BRT", -3*60*60)
		a := fixedEntry()
		b := fixedEntry()
		b.Timestamp = a.Timestamp.In(loc)

		hashA, err := ComputeEntryHash(GenesisHash, a)
		require.NoError(t, err)
		hashB, err := ComputeEntryHash(GenesisHash, b)
		require.NoError(t, err)
		assert.Equal(t, hashA, hashB)
	})
}
