package commission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"keel/internal/scoped"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// Postgres persists plans and accruals. Every query carries the ambient
// tenant in its predicate; an unbound context reads as the empty set.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreatePlan(ctx context.Context, plan *Plan) error {
	if err := scoped.Guard(ctx, plan); err != nil {
		return err
	}
	query := `
		INSERT INTO commission_plans (id, tenant_id, name, rate_basis_points, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		plan.ID.String(),
		scoped.ParamFor(plan.Tenant),
		plan.Name,
		plan.RateBasisPoints,
		plan.Active,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert commission plan: %w", err)
	}
	return nil
}

func (s *Postgres) UpdatePlan(ctx context.Context, plan *Plan) error {
	if err := scoped.Guard(ctx, plan); err != nil {
		return err
	}
	query := `
		UPDATE commission_plans
		SET name = $3, rate_basis_points = $4, active = $5, updated_at = $6
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		plan.ID.String(),
		scoped.ParamFor(plan.Tenant),
		plan.Name,
		plan.RateBasisPoints,
		plan.Active,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update commission plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update commission plan: %w", err)
	}
	if affected == 0 {
		// Either absent or owned by another tenant; indistinguishable on purpose.
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	query := `
		SELECT id, tenant_id, name, rate_basis_points, active, created_at, updated_at
		FROM commission_plans
		WHERE id = $1 AND tenant_id = $2
	`
	plan, err := scanPlan(scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, planID.String(), tenant))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commission plan: %w", err)
	}
	return plan, nil
}

func (s *Postgres) ListPlans(ctx context.Context) ([]*Plan, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, nil
	}
	query := `
		SELECT id, tenant_id, name, rate_basis_points, active, created_at, updated_at
		FROM commission_plans
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	rows, err := scoped.Execer(ctx, s.db).QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("list commission plans: %w", err)
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission plan: %w", err)
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateAccrual(ctx context.Context, accrual *Accrual) error {
	if err := scoped.Guard(ctx, accrual); err != nil {
		return err
	}
	query := `
		INSERT INTO commission_accruals (id, tenant_id, plan_id, invoice_id, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		accrual.ID,
		scoped.ParamFor(accrual.Tenant),
		accrual.Plan.String(),
		accrual.Invoice.String(),
		accrual.AmountCents,
		accrual.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert commission accrual: %w", err)
	}
	return nil
}

func (s *Postgres) ListAccruals(ctx context.Context, invoiceID id.InvoiceID) ([]*Accrual, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, nil
	}
	query := `
		SELECT id, tenant_id, plan_id, invoice_id, amount_cents, created_at
		FROM commission_accruals
		WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY created_at
	`
	rows, err := scoped.Execer(ctx, s.db).QueryContext(ctx, query, tenant, invoiceID.String())
	if err != nil {
		return nil, fmt.Errorf("list commission accruals: %w", err)
	}
	defer rows.Close()

	var out []*Accrual
	for rows.Next() {
		var (
			accrual          Accrual
			tenantRaw        string
			planRaw, invoice string
		)
		err := rows.Scan(&accrual.ID, &tenantRaw, &planRaw, &invoice, &accrual.AmountCents, &accrual.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan commission accrual: %w", err)
		}
		if accrual.Tenant, err = id.ParseTenantID(tenantRaw); err != nil {
			return nil, err
		}
		if accrual.Plan, err = id.ParsePlanID(planRaw); err != nil {
			return nil, err
		}
		if accrual.Invoice, err = id.ParseInvoiceID(invoice); err != nil {
			return nil, err
		}
		out = append(out, &accrual)
	}
	return out, rows.Err()
}

func scanPlan(row interface{ Scan(...any) error }) (*Plan, error) {
	var (
		plan      Plan
		rawID     string
		rawTenant string
	)
	err := row.Scan(&rawID, &rawTenant, &plan.Name, &plan.RateBasisPoints, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if plan.ID, err = id.ParsePlanID(rawID); err != nil {
		return nil, err
	}
	if plan.Tenant, err = id.ParseTenantID(rawTenant); err != nil {
		return nil, err
	}
	return &plan, nil
}
