package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"keel/internal/scoped"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
	txcontext "keel/pkg/platform/tx"
)

// Postgres persists tenants. Name uniqueness rides on a functional unique
// index over lower(name).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		t.ID.String(), t.Name, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, tenantID id.TenantID) (*Tenant, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1`
	t, err := scanTenant(scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, tenantID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *Postgres) List(ctx context.Context) ([]*Tenant, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM tenants ORDER BY created_at`
	rows, err := scoped.Execer(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Execute runs fn under FOR UPDATE so concurrent lifecycle transitions
// serialize. It joins the caller's transaction when one is in context,
// otherwise it opens its own.
func (s *Postgres) Execute(ctx context.Context, tenantID id.TenantID, fn func(*Tenant) error) (*Tenant, error) {
	run := func(exec scoped.Executor) (*Tenant, error) {
		query := `SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1 FOR UPDATE`
		t, err := scanTenant(exec.QueryRowContext(ctx, query, tenantID.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock tenant: %w", err)
		}
		if err := fn(t); err != nil {
			return nil, err
		}
		update := `UPDATE tenants SET name = $2, status = $3, updated_at = $4 WHERE id = $1`
		if _, err := exec.ExecContext(ctx, update, t.ID.String(), t.Name, t.Status, t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("update tenant: %w", err)
		}
		return t, nil
	}

	if sqlTx, ok := txcontext.From(ctx); ok {
		return run(sqlTx)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tenant update: %w", err)
	}
	t, err := run(sqlTx)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tenant update: %w", err)
	}
	return t, nil
}

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	var (
		t     Tenant
		rawID string
	)
	err := row.Scan(&rawID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.ID, err = id.ParseTenantID(rawID); err != nil {
		return nil, err
	}
	return &t, nil
}
