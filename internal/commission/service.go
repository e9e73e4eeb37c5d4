package commission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"keel/internal/access"
	"keel/internal/ledger"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/platform/tx"
	"keel/pkg/requestcontext"
)

// Service is the commission plan surface. Every mutation commits its ledger
// entry in the same unit of work as the record write.
type Service struct {
	store  Store
	access *access.Service
	ledger *ledger.Service
	runner tx.Runner
	logger *slog.Logger
}

func NewService(store Store, accessSvc *access.Service, ledgerSvc *ledger.Service, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		access: accessSvc,
		ledger: ledgerSvc,
		runner: runner,
		logger: logger,
	}
}

// CreatePlanInput is the caller-supplied part of a plan. The tenant is never
// part of it; it comes from the bound context.
type CreatePlanInput struct {
	Name            string
	RateBasisPoints int
}

// UpdatePlanInput replaces a plan's mutable fields.
type UpdatePlanInput struct {
	Name            string
	RateBasisPoints int
	Active          bool
}

func (in CreatePlanInput) validate() error {
	if in.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "plan requires a name")
	}
	if in.RateBasisPoints <= 0 || in.RateBasisPoints > 10000 {
		return dErrors.New(dErrors.CodeInvalidInput, "plan rate must be between 1 and 10000 basis points")
	}
	return nil
}

func (s *Service) CreatePlan(ctx context.Context, input CreatePlanInput) (*Plan, error) {
	if err := s.access.Authorize(ctx, access.ResourceCommissionPlans, http.MethodPost); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	plan := &Plan{
		ID:              id.PlanID(uuid.New()),
		Name:            input.Name,
		RateBasisPoints: input.RateBasisPoints,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePlan(ctx, plan); err != nil {
			return storeError(err, "failed to create commission plan")
		}
		_, err := s.ledger.Append(ctx, ledger.Entry{
			Scope:      ledger.ScopeTenant,
			Action:     ledger.ActionPlanCreated,
			Resource:   "commission_plan",
			ResourceID: plan.ID.String(),
			After:      snapshot(plan),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "commission plan created",
		"plan_id", plan.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return plan, nil
}

func (s *Service) UpdatePlan(ctx context.Context, planID id.PlanID, input UpdatePlanInput) (*Plan, error) {
	if err := s.access.Authorize(ctx, access.ResourceCommissionPlans, http.MethodPut); err != nil {
		return nil, err
	}
	if err := (CreatePlanInput{Name: input.Name, RateBasisPoints: input.RateBasisPoints}).validate(); err != nil {
		return nil, err
	}

	var updated *Plan
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.store.GetPlan(ctx, planID)
		if err != nil {
			return storeError(err, "failed to load commission plan")
		}
		before := snapshot(current)

		next := *current
		next.Name = input.Name
		next.RateBasisPoints = input.RateBasisPoints
		next.Active = input.Active
		next.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.UpdatePlan(ctx, &next); err != nil {
			return storeError(err, "failed to update commission plan")
		}

		_, err = s.ledger.Append(ctx, ledger.Entry{
			Scope:      ledger.ScopeTenant,
			Action:     ledger.ActionPlanUpdated,
			Resource:   "commission_plan",
			ResourceID: planID.String(),
			Before:     before,
			After:      snapshot(&next),
		})
		if err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error) {
	if err := s.access.Authorize(ctx, access.ResourceCommissionPlans, http.MethodGet); err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, storeError(err, "failed to load commission plan")
	}
	return plan, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	if err := s.access.Authorize(ctx, access.ResourceCommissionPlans, http.MethodGet); err != nil {
		return nil, err
	}
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list commission plans")
	}
	return plans, nil
}

// Accrue books the commission earned on a paid invoice. It is called from the
// payment unit of work, never from a handler, so it performs no authorization
// of its own and joins the caller's transaction.
func (s *Service) Accrue(ctx context.Context, planID id.PlanID, invoiceID id.InvoiceID, premiumCents int64) (*Accrual, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, storeError(err, "failed to load commission plan for accrual")
	}
	if !plan.Active {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "commission plan is inactive")
	}

	accrual := &Accrual{
		ID:          uuid.New(),
		Plan:        plan.ID,
		Invoice:     invoiceID,
		AmountCents: premiumCents * int64(plan.RateBasisPoints) / 10000,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if err := s.store.CreateAccrual(ctx, accrual); err != nil {
		return nil, storeError(err, "failed to record commission accrual")
	}

	after, _ := json.Marshal(map[string]any{
		"plan_id":      plan.ID.String(),
		"invoice_id":   invoiceID.String(),
		"amount_cents": accrual.AmountCents,
	})
	_, err = s.ledger.Append(ctx, ledger.Entry{
		Scope:      ledger.ScopeTenant,
		Action:     ledger.ActionCommissionAccrue,
		Resource:   "commission_accrual",
		ResourceID: accrual.ID.String(),
		After:      after,
	})
	if err != nil {
		return nil, err
	}
	return accrual, nil
}

// ListAccruals returns the ambient tenant's accruals for one invoice.
func (s *Service) ListAccruals(ctx context.Context, invoiceID id.InvoiceID) ([]*Accrual, error) {
	if err := s.access.Authorize(ctx, access.ResourceInvoices, http.MethodGet); err != nil {
		return nil, err
	}
	accruals, err := s.store.ListAccruals(ctx, invoiceID)
	if err != nil {
		return nil, storeError(err, "failed to list commission accruals")
	}
	return accruals, nil
}

func snapshot(plan *Plan) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"name":              plan.Name,
		"rate_basis_points": plan.RateBasisPoints,
		"active":            plan.Active,
	})
	return raw
}

// storeError translates sentinel errors into coded ones; errors that already
// carry a code (the scoping guard's, the ledger's) pass through untouched.
func storeError(err error, msg string) error {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "commission plan not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "commission plan already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
