package fiscal_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"keel/internal/access"
	"keel/internal/fiscal"
	"keel/internal/fiscal/mocks"
	"keel/internal/jobs"
	jobsmetrics "keel/internal/jobs/metrics"
	"keel/internal/ledger"
	ledgermem "keel/internal/ledger/store/memory"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/requestcontext"
	"keel/pkg/testutil"
)

var errProviderDown = errors.New("provider unavailable")

// flakyStore injects transient write failures into the in-memory store.
type flakyStore struct {
	fiscal.Store
	failUpdates int
}

func (s *flakyStore) Update(ctx context.Context, doc *fiscal.Document) error {
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("storage briefly unavailable")
	}
	return s.Store.Update(ctx, doc)
}

type fakeInbox struct {
	keys []string
	seen map[string]bool
}

func newFakeInbox() *fakeInbox { return &fakeInbox{seen: make(map[string]bool)} }

func (f *fakeInbox) RecordIfNew(ctx context.Context, tenant id.TenantID, eventID, eventType string) (bool, error) {
	key := tenant.String() + "/" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.keys = append(f.keys, key)
	return true, nil
}

// journalRunner gives the in-memory fixture the rollback behavior of the
// transactional stores: inbox records written inside a failed unit of work
// are discarded with it.
type journalRunner struct {
	inbox *fakeInbox
}

func (r journalRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	mark := len(r.inbox.keys)
	if err := fn(ctx); err != nil {
		for _, key := range r.inbox.keys[mark:] {
			delete(r.inbox.seen, key)
		}
		r.inbox.keys = r.inbox.keys[:mark]
		return err
	}
	return nil
}

type fixture struct {
	fiscal   *fiscal.Service
	store    *flakyStore
	jobStore *jobs.InMemory
	worker   *jobs.Worker
	ledger   *ledger.Service
	provider *mocks.MockProvider
}

func newFixture(t *testing.T) *fixture {
	logger := slog.Default()
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)

	ledgerSvc := ledger.NewService(ledgermem.New())
	accessSvc := access.NewService(access.NewInMemoryOverrides())
	jobStore := jobs.NewInMemory()
	jobSvc := jobs.NewService(jobStore, logger)
	store := &flakyStore{Store: fiscal.NewInMemory()}
	gate := newFakeInbox()
	fiscalSvc := fiscal.NewService(store, accessSvc, ledgerSvc, jobSvc, gate, provider, journalRunner{inbox: gate}, logger)

	worker := jobs.NewWorker(jobStore, jobs.Config{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
	}, logger, jobsmetrics.NewWith(prometheus.NewRegistry()))
	worker.Register(fiscal.JobKindIssue, fiscalSvc.JobHandler())

	return &fixture{
		fiscal:   fiscalSvc,
		store:    store,
		jobStore: jobStore,
		worker:   worker,
		ledger:   ledgerSvc,
		provider: provider,
	}
}

// drain ticks the worker with the clock advanced past each backoff window.
func (f *fixture) drain(t *testing.T, rounds int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < rounds; i++ {
		ctx := requestcontext.WithTime(context.Background(), now)
		_, err := f.worker.Tick(ctx)
		require.NoError(t, err)
		now = now.Add(time.Hour)
	}
}

func TestRequestDocument(t *testing.T) {
	tenant := id.TenantID(uuid.New())
	ctx := testutil.MemberContext(tenant, id.RoleManager)

	t.Run("creates the document, the job and the audit entry", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		assert.Equal(t, fiscal.StatusRequested, doc.Status)
		assert.Equal(t, tenant, doc.Tenant)
		require.NotEqual(t, uuid.Nil, doc.JobID)

		job, err := f.jobStore.Get(ctx, doc.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, job.Status)
		assert.Equal(t, tenant, job.Tenant)

		entries, err := f.ledger.ListTenant(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ledger.ActionFiscalRequested, entries[0].Action)
	})

	t.Run("viewer may not request documents", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.fiscal.RequestDocument(testutil.MemberContext(tenant, id.RoleViewer), id.InvoiceID(uuid.New()))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestSubmissionJob(t *testing.T) {
	tenant := id.TenantID(uuid.New())
	ctx := testutil.MemberContext(tenant, id.RoleManager)

	t.Run("retries provider outages until the submission lands", func(t *testing.T) {
		f := newFixture(t)
		gomock.InOrder(
			f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", errProviderDown).Times(2),
			f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("ref-123", nil),
		)

		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		f.drain(t, 3)

		got, err := f.fiscal.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, fiscal.StatusSubmitted, got.Status)
		assert.Equal(t, "ref-123", got.ProviderRef)

		job, err := f.jobStore.Get(ctx, doc.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusSucceeded, job.Status)
		assert.Equal(t, 3, job.Attempts)
	})

	t.Run("unsupported document fails fast and is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", fiscal.ErrUnsupported)

		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		f.drain(t, 3)

		got, err := f.fiscal.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, fiscal.StatusRejected, got.Status)
		assert.Contains(t, got.Reason, "does not support")

		job, err := f.jobStore.Get(ctx, doc.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailedTerminal, job.Status)
		assert.Equal(t, 1, job.Attempts, "fail-fast must not burn the retry budget")
	})

	t.Run("persistent outage exhausts the budget", func(t *testing.T) {
		f := newFixture(t)
		f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", errProviderDown).Times(3)

		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		f.drain(t, 5)

		job, err := f.jobStore.Get(ctx, doc.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailedTerminal, job.Status)
		assert.Equal(t, 3, job.Attempts)
	})
}

func TestConfirm(t *testing.T) {
	tenant := id.TenantID(uuid.New())
	ctx := testutil.MemberContext(tenant, id.RoleManager)

	submitted := func(t *testing.T, f *fixture) *fiscal.Document {
		t.Helper()
		f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("ref-123", nil)
		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		f.drain(t, 1)
		return doc
	}

	t.Run("authorization settles the document and the job", func(t *testing.T) {
		f := newFixture(t)
		doc := submitted(t, f)

		require.NoError(t, f.fiscal.Confirm(ctx, doc.ID, true, ""))

		got, err := f.fiscal.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, fiscal.StatusAuthorized, got.Status)

		entries, err := f.ledger.ListTenant(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, ledger.ActionFiscalAuthorized, entries[0].Action)

		// Redelivered confirmation is absorbed.
		require.NoError(t, f.fiscal.Confirm(ctx, doc.ID, true, ""))
		entries, err = f.ledger.ListTenant(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, ledger.ActionFiscalAuthorized, entries[0].Action)
	})

	t.Run("late confirmation settles a job that gave up", func(t *testing.T) {
		f := newFixture(t)
		f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", errProviderDown).Times(3)

		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		f.drain(t, 5)

		job, err := f.jobStore.Get(ctx, doc.JobID)
		require.NoError(t, err)
		require.Equal(t, jobs.StatusFailedTerminal, job.Status)

		// The provider processed the request after all; the webhook wins.
		require.NoError(t, f.fiscal.Confirm(ctx, doc.ID, true, ""))

		job, err = f.jobStore.Get(ctx, doc.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusSucceeded, job.Status)
	})

	t.Run("rejection records the provider reason", func(t *testing.T) {
		f := newFixture(t)
		doc := submitted(t, f)

		require.NoError(t, f.fiscal.Confirm(ctx, doc.ID, false, "invalid taxpayer registration"))

		got, err := f.fiscal.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, fiscal.StatusRejected, got.Status)
		assert.Equal(t, "invalid taxpayer registration", got.Reason)
	})

	t.Run("conflicting outcome is rejected", func(t *testing.T) {
		f := newFixture(t)
		doc := submitted(t, f)

		require.NoError(t, f.fiscal.Confirm(ctx, doc.ID, true, ""))
		err := f.fiscal.Confirm(ctx, doc.ID, false, "late rejection")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestSettle(t *testing.T) {
	tenant := id.TenantID(uuid.New())
	ctx := testutil.MemberContext(tenant, id.RoleManager)

	submitted := func(t *testing.T, f *fixture) *fiscal.Document {
		t.Helper()
		f.provider.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("ref-123", nil)
		doc, err := f.fiscal.RequestDocument(ctx, id.InvoiceID(uuid.New()))
		require.NoError(t, err)
		f.drain(t, 1)
		return doc
	}

	t.Run("first delivery settles, redelivery is absorbed", func(t *testing.T) {
		f := newFixture(t)
		doc := submitted(t, f)

		fresh, err := f.fiscal.Settle(ctx, "evt-1", doc.ID, true, "")
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = f.fiscal.Settle(ctx, "evt-1", doc.ID, true, "")
		require.NoError(t, err)
		assert.False(t, fresh)

		entries, err := f.ledger.ListTenant(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, ledger.ActionFiscalAuthorized, entries[0].Action)
	})

	t.Run("failed delivery does not absorb the provider's retry", func(t *testing.T) {
		f := newFixture(t)
		doc := submitted(t, f)

		f.store.failUpdates = 1
		_, err := f.fiscal.Settle(ctx, "evt-2", doc.ID, true, "")
		require.Error(t, err)

		got, err := f.fiscal.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		require.Equal(t, fiscal.StatusSubmitted, got.Status)

		// The provider retries with the same event id; the dedup record rolled
		// back with the failed settlement, so this delivery must be processed.
		fresh, err := f.fiscal.Settle(ctx, "evt-2", doc.ID, true, "")
		require.NoError(t, err)
		assert.True(t, fresh)

		got, err = f.fiscal.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, fiscal.StatusAuthorized, got.Status)
	})

	t.Run("missing event id is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.fiscal.Settle(ctx, "", id.DocumentID(uuid.New()), true, "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("unbound tenant is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.fiscal.Settle(context.Background(), "evt-3", id.DocumentID(uuid.New()), true, "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingTenant))
	})
}
