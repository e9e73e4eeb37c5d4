package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"keel/internal/scoped"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
)

// Postgres persists jobs. Claim relies on FOR UPDATE SKIP LOCKED so
// concurrent workers never receive the same job.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Enqueue(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (id, tenant_id, kind, payload, status, attempts, last_error, next_retry_at, claimed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		scoped.ParamFor(job.Tenant),
		job.Kind,
		[]byte(job.Payload),
		job.Status,
		job.Attempts,
		job.LastError,
		job.NextRetryAt,
		job.ClaimedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *Postgres) Claim(ctx context.Context, now, staleBefore time.Time) (*Job, error) {
	// The inner select and the update run as one statement, so the claim is
	// atomic; SKIP LOCKED keeps a slow competitor from blocking the pool.
	query := `
		UPDATE jobs SET
			status = $1,
			attempts = attempts + 1,
			claimed_at = $2,
			updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $3
			   OR (status = $4 AND next_retry_at <= $2)
			   OR (status = $1 AND claimed_at < $5)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, kind, payload, status, attempts, last_error, next_retry_at, claimed_at, created_at, updated_at
	`
	row := scoped.Execer(ctx, s.db).QueryRowContext(ctx, query,
		StatusProcessing, now, StatusQueued, StatusFailed, staleBefore)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *Postgres) Release(ctx context.Context, job *Job) error {
	query := `
		UPDATE jobs SET
			status = $2,
			attempts = $3,
			last_error = $4,
			next_retry_at = $5,
			claimed_at = $6,
			updated_at = $7
		WHERE id = $1 AND status = $8
	`
	res, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.Attempts,
		job.LastError,
		job.NextRetryAt,
		job.ClaimedAt,
		job.UpdatedAt,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if affected == 0 {
		// Settled out of band while the worker was running.
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, job *Job) error {
	query := `
		UPDATE jobs SET
			status = $2,
			attempts = $3,
			last_error = $4,
			next_retry_at = $5,
			claimed_at = $6,
			updated_at = $7
		WHERE id = $1
	`
	res, err := scoped.Execer(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.Attempts,
		job.LastError,
		job.NextRetryAt,
		job.ClaimedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	query := `
		SELECT id, tenant_id, kind, payload, status, attempts, last_error, next_retry_at, claimed_at, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	job, err := scanJob(scoped.Execer(ctx, s.db).QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		job       Job
		tenant    uuid.UUID
		payload   []byte
		claimedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&tenant,
		&job.Kind,
		&payload,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.NextRetryAt,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Tenant = id.TenantID(tenant)
	job.Payload = payload
	if claimedAt.Valid {
		job.ClaimedAt = &claimedAt.Time
	}
	return &job, nil
}
