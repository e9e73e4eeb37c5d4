//go:build integration

package inbox_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"keel/internal/inbox"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
	"keel/pkg/platform/tx"
	"keel/pkg/testutil/containers"
)

type PostgresInboxSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *inbox.Postgres
	ctx   context.Context
}

func TestPostgresInboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresInboxSuite))
}

func (s *PostgresInboxSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = inbox.NewPostgres(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresInboxSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "inbox_records"))
}

func (s *PostgresInboxSuite) record(tenant id.TenantID, eventID string) *inbox.Record {
	return &inbox.Record{
		ID:         uuid.New(),
		Tenant:     tenant,
		EventID:    eventID,
		EventType:  "payment.paid",
		ReceivedAt: time.Now().UTC(),
	}
}

func (s *PostgresInboxSuite) TestInsertThenSeen() {
	tenant := id.TenantID(uuid.New())

	seen, err := s.store.Seen(s.ctx, tenant, "evt-1")
	s.Require().NoError(err)
	s.False(seen)

	s.Require().NoError(s.store.Insert(s.ctx, s.record(tenant, "evt-1")))

	seen, err = s.store.Seen(s.ctx, tenant, "evt-1")
	s.Require().NoError(err)
	s.True(seen)
}

func (s *PostgresInboxSuite) TestRedeliveryIsDuplicate() {
	tenant := id.TenantID(uuid.New())
	s.Require().NoError(s.store.Insert(s.ctx, s.record(tenant, "evt-1")))

	err := s.store.Insert(s.ctx, s.record(tenant, "evt-1"))
	s.Require().ErrorIs(err, sentinel.ErrDuplicate)
}

func (s *PostgresInboxSuite) TestTenantsDoNotShareEventIDs() {
	first := id.TenantID(uuid.New())
	second := id.TenantID(uuid.New())

	s.Require().NoError(s.store.Insert(s.ctx, s.record(first, "evt-1")))
	s.Require().NoError(s.store.Insert(s.ctx, s.record(second, "evt-1")))

	seen, err := s.store.Seen(s.ctx, first, "evt-1")
	s.Require().NoError(err)
	s.True(seen)
}

func (s *PostgresInboxSuite) TestDuplicateInsideTransactionKeepsItHealthy() {
	tenant := id.TenantID(uuid.New())
	s.Require().NoError(s.store.Insert(s.ctx, s.record(tenant, "evt-1")))

	runner := tx.NewRunner(s.pg.DB)
	err := runner.RunInTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, s.record(tenant, "evt-1")); !errors.Is(err, sentinel.ErrDuplicate) {
			return fmt.Errorf("expected duplicate, got %v", err)
		}
		// The absorbed duplicate must not abort the transaction; later
		// statements in the same unit of work still land.
		return s.store.Insert(ctx, s.record(tenant, "evt-2"))
	})
	s.Require().NoError(err)

	seen, err := s.store.Seen(s.ctx, tenant, "evt-2")
	s.Require().NoError(err)
	s.True(seen)
}

func (s *PostgresInboxSuite) TestRolledBackRecordLeavesEventFresh() {
	tenant := id.TenantID(uuid.New())
	errSettle := errors.New("settlement failed")

	runner := tx.NewRunner(s.pg.DB)
	err := runner.RunInTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, s.record(tenant, "evt-1")); err != nil {
			return err
		}
		return errSettle
	})
	s.Require().ErrorIs(err, errSettle)

	// The dedup record rolled back with the failed work, so the provider's
	// redelivery is processed fresh rather than absorbed.
	s.Require().NoError(s.store.Insert(s.ctx, s.record(tenant, "evt-1")))
}

func (s *PostgresInboxSuite) TestPlatformScopeUsesNilTenant() {
	s.Require().NoError(s.store.Insert(s.ctx, s.record(id.TenantID{}, "evt-1")))

	err := s.store.Insert(s.ctx, s.record(id.TenantID{}, "evt-1"))
	s.Require().ErrorIs(err, sentinel.ErrDuplicate)

	seen, err := s.store.Seen(s.ctx, id.TenantID{}, "evt-1")
	s.Require().NoError(err)
	s.True(seen)
}
