package scoped

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	id "keel/pkg/domain"
	txcontext "keel/pkg/platform/tx"
	"keel/pkg/requestcontext"
)

// Executor is the subset of database/sql shared by *sql.DB and *sql.Tx that
// scoped stores use.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer returns the transaction carried by the context when present, so a
// store write lands inside the caller's unit of work, else the bare pool.
func Execer(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

// TenantParam returns the ambient tenant as a SQL parameter. ok is false when
// no tenant is bound; scoped queries must then return the empty set rather
// than fall through to an unfiltered query.
func TenantParam(ctx context.Context) (uuid.UUID, bool) {
	tenant, ok := requestcontext.Tenant(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return uuid.UUID(tenant), true
}

// ParamFor converts a known tenant ID for use as a SQL parameter.
func ParamFor(tenant id.TenantID) uuid.UUID {
	return uuid.UUID(tenant)
}
