package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"keel/internal/scoped"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// PostgresOverrides persists matrix overrides in the access_overrides table.
type PostgresOverrides struct {
	db *sql.DB
}

func NewPostgresOverrides(db *sql.DB) *PostgresOverrides {
	return &PostgresOverrides{db: db}
}

func (s *PostgresOverrides) Rule(ctx context.Context, tenant id.TenantID, resource, method string) (Rule, error) {
	query := `
		SELECT rule FROM access_overrides
		WHERE tenant_id = $1 AND resource = $2 AND method = $3
	`
	var raw []byte
	err := scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, scoped.ParamFor(tenant), resource, method).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Rule{}, fmt.Errorf("query access override: %w", err)
	}
	return ParseRule(raw)
}

func (s *PostgresOverrides) Upsert(ctx context.Context, tenant id.TenantID, resource, method string, rule Rule) error {
	query := `
		INSERT INTO access_overrides (tenant_id, resource, method, rule)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, resource, method) DO UPDATE SET rule = EXCLUDED.rule
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query, scoped.ParamFor(tenant), resource, method, []byte(rule.Raw))
	if err != nil {
		return fmt.Errorf("upsert access override: %w", err)
	}
	return nil
}
