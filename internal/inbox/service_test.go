package inbox_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/inbox"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
)

func TestRecordIfNew(t *testing.T) {
	ctx := context.Background()
	tenant := id.TenantID(uuid.New())

	newService := func() (*inbox.Service, *inbox.InMemory) {
		store := inbox.NewInMemory()
		return inbox.NewService(store, slog.Default()), store
	}

	t.Run("first delivery is recorded", func(t *testing.T) {
		svc, store := newService()
		fresh, err := svc.RecordIfNew(ctx, tenant, "evt-1", "payment.paid")
		require.NoError(t, err)
		assert.True(t, fresh)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("second delivery is absorbed silently", func(t *testing.T) {
		svc, store := newService()
		_, err := svc.RecordIfNew(ctx, tenant, "evt-1", "payment.paid")
		require.NoError(t, err)

		fresh, err := svc.RecordIfNew(ctx, tenant, "evt-1", "payment.paid")
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, 1, store.Len(), "duplicate must not add a row")
	})

	t.Run("same event id in different tenants are distinct", func(t *testing.T) {
		svc, _ := newService()
		fresh, err := svc.RecordIfNew(ctx, tenant, "evt-1", "payment.paid")
		require.NoError(t, err)
		require.True(t, fresh)

		fresh, err = svc.RecordIfNew(ctx, id.TenantID(uuid.New()), "evt-1", "payment.paid")
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("platform-scope events deduplicate on nil tenant", func(t *testing.T) {
		svc, _ := newService()
		fresh, err := svc.RecordIfNew(ctx, id.TenantID{}, "evt-p", "tenant.created")
		require.NoError(t, err)
		require.True(t, fresh)

		fresh, err = svc.RecordIfNew(ctx, id.TenantID{}, "evt-p", "tenant.created")
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("missing idempotency key is rejected", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.RecordIfNew(ctx, tenant, "", "payment.paid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
