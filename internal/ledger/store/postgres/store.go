// Package postgres persists ledger chains. Two uniqueness constraints carry
// the whole ordering guarantee:
//
//	ledger_entries_chain_prev_key  UNIQUE (chain_id, prev_hash)
//	ledger_entries_entry_hash_key  UNIQUE (entry_hash)
//
// An insert that loses the tail race violates the first and surfaces as
// sentinel.ErrConflict, which the service's retry loop absorbs. The
// denormalized ledger_chain_tails row is updated in the same transaction as
// each insert so tail lookup never scans the chain.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"keel/internal/ledger"
	id "keel/pkg/domain"
	"keel/pkg/platform/sentinel"
	txcontext "keel/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Tail(ctx context.Context, chain ledger.ChainID) (string, error) {
	var tail string
	err := s.queryRow(ctx, `SELECT tail_hash FROM ledger_chain_tails WHERE chain_id = $1`, string(chain)).Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("query chain tail: %w", err)
	}
	return tail, nil
}

func (s *Store) Insert(ctx context.Context, entry *ledger.Entry) error {
	// The entry insert and the tail upsert must commit together; without a
	// caller transaction we open our own so a crash cannot leave the tail
	// pointing at a predecessor.
	if tx, ok := txcontext.From(ctx); ok {
		return s.insertGuarded(ctx, tx, entry)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := s.insertIn(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// insertGuarded runs one append attempt under a savepoint. A lost tail race
// raises a unique violation, which in Postgres aborts the whole transaction;
// rolling back to the savepoint confines the abort to this attempt so the
// caller's tx stays healthy and the service's retry loop can re-read the tail.
func (s *Store) insertGuarded(ctx context.Context, tx *sql.Tx, entry *ledger.Entry) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT ledger_append"); err != nil {
		return fmt.Errorf("begin append savepoint: %w", err)
	}
	if err := s.insertIn(ctx, tx, entry); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT ledger_append"); rbErr != nil {
			return fmt.Errorf("roll back append savepoint: %w", rbErr)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT ledger_append"); err != nil {
		return fmt.Errorf("release append savepoint: %w", err)
	}
	return nil
}

func (s *Store) insertIn(ctx context.Context, tx *sql.Tx, entry *ledger.Entry) error {
	var tenantID *uuid.UUID
	if entry.Scope == ledger.ScopeTenant {
		tid := uuid.UUID(entry.Tenant)
		tenantID = &tid
	}

	insert := `
		INSERT INTO ledger_entries (
			id, scope, tenant_id, chain_id, prev_hash, entry_hash,
			actor, action, resource, resource_id, before_state, after_state,
			request_id, client_ip, user_agent, ts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := tx.ExecContext(ctx, insert,
		entry.ID,
		string(entry.Scope),
		tenantID,
		string(entry.Chain),
		entry.PrevHash,
		entry.EntryHash,
		entry.Actor,
		entry.Action,
		entry.Resource,
		entry.ResourceID,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		entry.RequestID,
		entry.ClientIP,
		entry.UserAgent,
		entry.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Constraint)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	// We hold the unique successor slot, so moving the tail is unconditional.
	upsert := `
		INSERT INTO ledger_chain_tails (chain_id, tail_hash)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET tail_hash = EXCLUDED.tail_hash
	`
	if _, err := tx.ExecContext(ctx, upsert, string(entry.Chain), entry.EntryHash); err != nil {
		return fmt.Errorf("advance chain tail: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, chain ledger.ChainID, limit int) ([]ledger.Entry, error) {
	query := selectEntries + `
		WHERE chain_id = $1
		ORDER BY ts DESC, entry_hash
		LIMIT $2
	`
	rows, err := s.query(ctx, query, string(chain), limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) Chain(ctx context.Context, chain ledger.ChainID) ([]ledger.Entry, error) {
	rows, err := s.query(ctx, selectEntries+` WHERE chain_id = $1`, string(chain))
	if err != nil {
		return nil, fmt.Errorf("load ledger chain: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

const selectEntries = `
	SELECT id, scope, tenant_id, chain_id, prev_hash, entry_hash,
	       actor, action, resource, resource_id, before_state, after_state,
	       request_id, client_ip, user_agent, ts
	FROM ledger_entries
`

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		var (
			e        ledger.Entry
			scope    string
			tenantID *uuid.UUID
			chainID  string
			before   []byte
			after    []byte
		)
		err := rows.Scan(
			&e.ID, &scope, &tenantID, &chainID, &e.PrevHash, &e.EntryHash,
			&e.Actor, &e.Action, &e.Resource, &e.ResourceID, &before, &after,
			&e.RequestID, &e.ClientIP, &e.UserAgent, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Scope = ledger.Scope(scope)
		e.Chain = ledger.ChainID(chainID)
		if tenantID != nil {
			e.Tenant = id.TenantID(*tenantID)
		}
		e.Before = before
		e.After = after
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx, ok := txcontext.From(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.db.QueryRowContext(ctx, query, args...)
}
