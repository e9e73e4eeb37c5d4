package commission

import (
	"context"

	"keel/internal/scoped"
	id "keel/pkg/domain"
)

// Store persists plans and accruals under tenant scoping.
type Store interface {
	CreatePlan(ctx context.Context, plan *Plan) error
	UpdatePlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	CreateAccrual(ctx context.Context, accrual *Accrual) error
	ListAccruals(ctx context.Context, invoiceID id.InvoiceID) ([]*Accrual, error)
}

// InMemory is the memory-backed commission store.
type InMemory struct {
	plans    *scoped.Memory[*Plan]
	accruals *scoped.Memory[*Accrual]
}

func NewInMemory() *InMemory {
	return &InMemory{
		plans:    scoped.NewMemory[*Plan](),
		accruals: scoped.NewMemory[*Accrual](),
	}
}

func (s *InMemory) CreatePlan(ctx context.Context, plan *Plan) error {
	return s.plans.Create(ctx, plan)
}

func (s *InMemory) UpdatePlan(ctx context.Context, plan *Plan) error {
	return s.plans.Update(ctx, plan)
}

func (s *InMemory) GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error) {
	return s.plans.Get(ctx, planID.String())
}

func (s *InMemory) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.plans.List(ctx)
}

func (s *InMemory) CreateAccrual(ctx context.Context, accrual *Accrual) error {
	return s.accruals.Create(ctx, accrual)
}

func (s *InMemory) ListAccruals(ctx context.Context, invoiceID id.InvoiceID) ([]*Accrual, error) {
	all, err := s.accruals.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Accrual
	for _, accrual := range all {
		if accrual.Invoice == invoiceID {
			out = append(out, accrual)
		}
	}
	return out, nil
}
