package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"keel/internal/access"
	"keel/internal/ledger"
	tenantmetrics "keel/internal/tenant/metrics"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/platform/tx"
	"keel/pkg/requestcontext"
)

// Service orchestrates the tenant lifecycle. All mutations are superuser-only
// and audited on the platform chain.
type Service struct {
	store   Store
	access  *access.Service
	ledger  *ledger.Service
	runner  tx.Runner
	metrics *tenantmetrics.Metrics
	logger  *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *tenantmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, accessSvc *access.Service, ledgerSvc *ledger.Service, runner tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		access: accessSvc,
		ledger: ledgerSvc,
		runner: runner,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	if err := s.access.RequireSuperuser(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	var created *Tenant
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		t, err := NewTenant(id.TenantID(uuid.New()), name, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.store.Create(ctx, t); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "tenant name must be unique")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create tenant")
		}
		if err := s.appendLifecycle(ctx, ledger.ActionTenantCreated, t, nil); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCreated()
	s.logger.InfoContext(ctx, "tenant created",
		"tenant_id", created.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return created, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID id.TenantID) (*Tenant, error) {
	if err := s.access.RequireSuperuser(ctx); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant")
	}
	return t, nil
}

func (s *Service) ListTenants(ctx context.Context) ([]*Tenant, error) {
	if err := s.access.RequireSuperuser(ctx); err != nil {
		return nil, err
	}
	tenants, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tenants")
	}
	return tenants, nil
}

// SuspendTenant cuts off a tenant's data-plane access.
func (s *Service) SuspendTenant(ctx context.Context, tenantID id.TenantID) (*Tenant, error) {
	t, err := s.transition(ctx, tenantID, ledger.ActionTenantSuspended, func(t *Tenant) error {
		return t.Suspend(requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncSuspended()
	return t, nil
}

// ResumeTenant restores a suspended tenant.
func (s *Service) ResumeTenant(ctx context.Context, tenantID id.TenantID) (*Tenant, error) {
	t, err := s.transition(ctx, tenantID, ledger.ActionTenantResumed, func(t *Tenant) error {
		return t.Resume(requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncResumed()
	return t, nil
}

func (s *Service) transition(ctx context.Context, tenantID id.TenantID, action string, fn func(*Tenant) error) (*Tenant, error) {
	if err := s.access.RequireSuperuser(ctx); err != nil {
		return nil, err
	}

	var updated *Tenant
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		before, err := s.store.Get(ctx, tenantID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "tenant not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant")
		}

		t, err := s.store.Execute(ctx, tenantID, fn)
		if err != nil {
			var coded *dErrors.Error
			if errors.As(err, &coded) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update tenant")
		}
		if err := s.appendLifecycle(ctx, action, t, before); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tenant lifecycle transition",
		"tenant_id", tenantID.String(),
		"action", action,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// Active satisfies the tenant-resolution middleware's Checker. A missing
// tenant reads as inactive; the middleware rejects either way.
func (s *Service) Active(ctx context.Context, tenantID id.TenantID) (bool, error) {
	t, err := s.store.Get(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.IsActive(), nil
}

func (s *Service) appendLifecycle(ctx context.Context, action string, t *Tenant, before *Tenant) error {
	var beforeRaw json.RawMessage
	if before != nil {
		beforeRaw, _ = json.Marshal(map[string]any{"status": string(before.Status)})
	}
	after, _ := json.Marshal(map[string]any{"name": t.Name, "status": string(t.Status)})
	_, err := s.ledger.Append(ctx, ledger.Entry{
		Scope:      ledger.ScopePlatform,
		Action:     action,
		Resource:   "tenant",
		ResourceID: t.ID.String(),
		Before:     beforeRaw,
		After:      after,
	})
	return err
}
