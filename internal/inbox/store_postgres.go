package inbox

import (
	"context"
	"database/sql"
	"fmt"

	"keel/internal/scoped"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// Postgres persists inbox records. Platform-scope events are stored with the
// nil-UUID tenant so the (tenant_id, event_id) uniqueness covers both scopes.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Insert(ctx context.Context, record *Record) error {
	// ON CONFLICT DO NOTHING instead of catching 23505: a raised unique
	// violation would abort the caller's transaction, and the insert runs
	// inside the same tx as the mutation it guards. Zero rows affected is the
	// duplicate signal and leaves the tx healthy.
	query := `
		INSERT INTO inbox_records (id, tenant_id, event_id, event_type, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, event_id) DO NOTHING
	`
	res, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		record.ID,
		scoped.ParamFor(record.Tenant),
		record.EventID,
		record.EventType,
		record.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbox record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert inbox record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *Postgres) Seen(ctx context.Context, tenant id.TenantID, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM inbox_records WHERE tenant_id = $1 AND event_id = $2)`
	var seen bool
	err := scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, scoped.ParamFor(tenant), eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("query inbox record: %w", err)
	}
	return seen, nil
}
