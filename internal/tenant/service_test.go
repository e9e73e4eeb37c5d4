package tenant_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/access"
	"keel/internal/ledger"
	ledgermem "keel/internal/ledger/store/memory"
	"keel/internal/tenant"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/tx"
	"keel/pkg/testutil"
)

type fixture struct {
	svc    *tenant.Service
	ledger *ledger.Service
}

func newFixture() *fixture {
	ledgerSvc := ledger.NewService(ledgermem.New())
	accessSvc := access.NewService(access.NewInMemoryOverrides())
	svc := tenant.NewService(tenant.NewInMemory(), accessSvc, ledgerSvc, tx.Passthrough{}, slog.Default())
	return &fixture{svc: svc, ledger: ledgerSvc}
}

func superuser() context.Context {
	return testutil.SuperuserContext(id.TenantID{})
}

func TestCreateTenant(t *testing.T) {
	t.Run("creates an active tenant and audits it on the platform chain", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		created, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)
		assert.Equal(t, "Acme Brokerage", created.Name)
		assert.Equal(t, tenant.StatusActive, created.Status)
		assert.False(t, created.ID.IsNil())

		entries, err := f.ledger.ListPlatform(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ledger.ActionTenantCreated, entries[0].Action)
		assert.Equal(t, created.ID.String(), entries[0].ResourceID)
	})

	t.Run("rejects duplicate names case-insensitively", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		_, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)

		_, err = f.svc.CreateTenant(ctx, "  acme brokerage ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		f := newFixture()

		_, err := f.svc.CreateTenant(superuser(), "   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("refuses non-superuser callers", func(t *testing.T) {
		f := newFixture()
		ctx := testutil.MemberContext(id.TenantID(uuid.New()), id.RoleOwner)

		_, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestTenantLifecycle(t *testing.T) {
	t.Run("suspend then resume round-trips with audit entries", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		created, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)

		suspended, err := f.svc.SuspendTenant(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, tenant.StatusSuspended, suspended.Status)

		active, err := f.svc.Active(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, active)

		resumed, err := f.svc.ResumeTenant(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, tenant.StatusActive, resumed.Status)

		entries, err := f.ledger.ListPlatform(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		// Newest first.
		assert.Equal(t, ledger.ActionTenantResumed, entries[0].Action)
		assert.Equal(t, ledger.ActionTenantSuspended, entries[1].Action)
		assert.Equal(t, ledger.ActionTenantCreated, entries[2].Action)
	})

	t.Run("suspending an already-suspended tenant conflicts", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		created, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)

		_, err = f.svc.SuspendTenant(ctx, created.ID)
		require.NoError(t, err)

		_, err = f.svc.SuspendTenant(ctx, created.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

		// The failed transition must not leave a ledger entry behind.
		entries, err := f.ledger.ListPlatform(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("resuming an active tenant conflicts", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		created, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)

		_, err = f.svc.ResumeTenant(ctx, created.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("unknown tenant is not found", func(t *testing.T) {
		f := newFixture()

		_, err := f.svc.SuspendTenant(superuser(), id.TenantID(uuid.New()))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("refuses non-superuser callers", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		created, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)

		member := testutil.MemberContext(created.ID, id.RoleAdmin)
		_, err = f.svc.SuspendTenant(member, created.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestActive(t *testing.T) {
	t.Run("unknown tenant reads inactive without error", func(t *testing.T) {
		f := newFixture()

		active, err := f.svc.Active(context.Background(), id.TenantID(uuid.New()))
		require.NoError(t, err)
		assert.False(t, active)
	})
}

func TestListTenants(t *testing.T) {
	t.Run("lists all tenants for superusers", func(t *testing.T) {
		f := newFixture()
		ctx := superuser()

		_, err := f.svc.CreateTenant(ctx, "Acme Brokerage")
		require.NoError(t, err)
		_, err = f.svc.CreateTenant(ctx, "Globex Insurance")
		require.NoError(t, err)

		tenants, err := f.svc.ListTenants(ctx)
		require.NoError(t, err)
		assert.Len(t, tenants, 2)
	})

	t.Run("refuses tenant members", func(t *testing.T) {
		f := newFixture()
		ctx := testutil.MemberContext(id.TenantID(uuid.New()), id.RoleOwner)

		_, err := f.svc.ListTenants(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}
