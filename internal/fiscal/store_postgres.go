package fiscal

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

// Postgres persists fiscal documents with the ambient tenant in every
// predicate.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, doc *Document) error {
	if err := scoped.Guard(ctx, doc); err != nil {
		return err
	}
	query := `
		INSERT INTO fiscal_documents (id, tenant_id, invoice_id, job_id, status, provider_ref, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		doc.ID.String(),
		scoped.ParamFor(doc.Tenant),
		doc.Invoice.String(),
		doc.JobID,
		doc.Status,
		doc.ProviderRef,
		doc.Reason,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert fiscal document: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, doc *Document) error {
	if err := scoped.Guard(ctx, doc); err != nil {
		return err
	}
	query := `
		UPDATE fiscal_documents
		SET job_id = $3, status = $4, provider_ref = $5, reason = $6, updated_at = $7
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		doc.ID.String(),
		scoped.ParamFor(doc.Tenant),
		doc.JobID,
		doc.Status,
		doc.ProviderRef,
		doc.Reason,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update fiscal document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fiscal document: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, docID id.DocumentID) (*Document, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	query := `
		SELECT id, tenant_id, invoice_id, job_id, status, provider_ref, reason, created_at, updated_at
		FROM fiscal_documents
		WHERE id = $1 AND tenant_id = $2
	`
	doc, err := scanDocument(scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, docID.String(), tenant))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	return doc, nil
}

func (s *Postgres) List(ctx context.Context) ([]*Document, error) {
	tenant, ok := scoped.TenantParam(ctx)
	if !ok {
		return nil, nil
	}
	query := `
		SELECT id, tenant_id, invoice_id, job_id, status, provider_ref, reason, created_at, updated_at
		FROM fiscal_documents
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	rows, err := scoped.Execer(ctx, s.db).QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("list fiscal documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var (
		doc        Document
		rawID      string
		rawTenant  string
		rawInvoice string
	)
	err := row.Scan(&rawID, &rawTenant, &rawInvoice, &doc.JobID, &doc.Status,
		&doc.ProviderRef, &doc.Reason, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if doc.ID, err = id.ParseDocumentID(rawID); err != nil {
		return nil, err
	}
	if doc.Tenant, err = id.ParseTenantID(rawTenant); err != nil {
		return nil, err
	}
	if doc.Invoice, err = id.ParseInvoiceID(rawInvoice); err != nil {
		return nil, err
	}
	return &doc, nil
}
