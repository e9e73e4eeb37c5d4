package billing

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

// Postgres persists invoices and line items with the ambient tenant in every
// predicate.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateInvoice(ctx context.Context, invoice *Invoice, lines []*LineItem) error {
	if err := scoped.Guard(ctx, invoice); err != nil {
		return err
	}
	query := `
		INSERT INTO invoices (id, tenant_id, plan_id, customer, status, total_cents, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		invoice.ID.String(),
		scoped.ParamFor(invoice.Tenant),
		invoice.Plan.String(),
		invoice.Customer,
		invoice.Status,
		invoice.TotalCents,
		invoice.PaidAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	lineQuery := `
		INSERT INTO invoice_line_items (id, tenant_id, invoice_id, description, amount_cents)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, line := range lines {
		scoped.Inherit(invoice, line)
		line.Invoice = invoice.ID
		_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, lineQuery,
			line.ID,
			scoped.ParamFor(line.Tenant),
			line.Invoice.String(),
			line.Description,
			line.AmountCents,
		)
		if err != nil {
			return fmt.Errorf("insert invoice line item: %w", err)
		}
	}
	return nil
}

func (s *Postgres) UpdateInvoice(ctx context.Context, invoice *Invoice) error {
	if err := scoped.Guard(ctx, invoice); err != nil {
		return err
	}
	query := `
		UPDATE invoices
		SET status = $3, total_cents = $4, paid_at = $5, updated_at = $6
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		invoice.ID.String(),
		scoped.ParamFor(invoice.Tenant),
		invoice.Status,
		invoice.TotalCents,
		invoice.PaidAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*Invoice, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	query := `
		SELECT id, tenant_id, plan_id, customer, status, total_cents, paid_at, created_at, updated_at
		FROM invoices
		WHERE id = $1 AND tenant_id = $2
	`
	invoice, err := scanInvoice(scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, invoiceID.String(), tenant))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return invoice, nil
}

func (s *Postgres) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, nil
	}
	query := `
		SELECT id, tenant_id, plan_id, customer, status, total_cents, paid_at, created_at, updated_at
		FROM invoices
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	rows, err := scoped.Execer(ctx, s.db).QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, invoice)
	}
	return out, rows.Err()
}

func (s *Postgres) ListLineItems(ctx context.Context, invoiceID id.InvoiceID) ([]*LineItem, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, nil
	}
	query := `
		SELECT id, tenant_id, invoice_id, description, amount_cents
		FROM invoice_line_items
		WHERE tenant_id = $1 AND invoice_id = $2
	`
	rows, err := scoped.Execer(ctx, s.db).QueryContext(ctx, query, tenant, invoiceID.String())
	if err != nil {
		return nil, fmt.Errorf("list invoice line items: %w", err)
	}
	defer rows.Close()

	var out []*LineItem
	for rows.Next() {
		var (
			line       LineItem
			rawTenant  string
			rawInvoice string
		)
		err := rows.Scan(&line.ID, &rawTenant, &rawInvoice, &line.Description, &line.AmountCents)
		if err != nil {
			return nil, fmt.Errorf("scan invoice line item: %w", err)
		}
		if line.Tenant, err = id.ParseTenantID(rawTenant); err != nil {
			return nil, err
		}
		if line.Invoice, err = id.ParseInvoiceID(rawInvoice); err != nil {
			return nil, err
		}
		out = append(out, &line)
	}
	return out, rows.Err()
}

func scanInvoice(row interface{ Scan(...any) error }) (*Invoice, error) {
	var (
		invoice   Invoice
		rawID     string
		rawTenant string
		rawPlan   string
		paidAt    sql.NullTime
	)
	err := row.Scan(&rawID, &rawTenant, &rawPlan, &invoice.Customer, &invoice.Status,
		&invoice.TotalCents, &paidAt, &invoice.CreatedAt, &invoice.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if invoice.ID, err = id.ParseInvoiceID(rawID); err != nil {
		return nil, err
	}
	if invoice.Tenant, err = id.ParseTenantID(rawTenant); err != nil {
		return nil, err
	}
	if invoice.Plan, err = id.ParsePlanID(rawPlan); err != nil {
		return nil, err
	}
	if paidAt.Valid {
		invoice.PaidAt = &paidAt.Time
	}
	return &invoice, nil
}
