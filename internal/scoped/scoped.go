// Package scoped implements the tenant-scoped repository layer. Every record
// that belongs to a tenant is read and written through it: reads are filtered
// to the ambient tenant and fail closed when none is bound, writes derive or
// verify the record's tenant against the binding, and the only unscoped read
// path is an explicitly privileged escape hatch.
package scoped

import (
	"context"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/requestcontext"
)

// Record is any entity owned by exactly one tenant.
type Record interface {
	// Key returns the record's unique identifier within its collection.
	Key() string
	TenantID() id.TenantID
	SetTenantID(id.TenantID)
}

// Guard enforces the write-time tenant invariant on a record:
//
//   - no tenant bound: the write is rejected (a scoped write without context
//     is a programming error, not a platform operation)
//   - record tenant unset: it is derived from the binding, never from input
//   - record tenant set and different: CrossTenantViolation; the caller must
//     let this abort its enclosing transaction
func Guard(ctx context.Context, record Record) error {
	current, ok := requestcontext.Tenant(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeMissingTenant, "write requires a bound tenant")
	}
	recordTenant := record.TenantID()
	if recordTenant.IsNil() {
		record.SetTenantID(current)
		return nil
	}
	if recordTenant != current {
		return dErrors.New(dErrors.CodeCrossTenant, "record tenant does not match bound tenant")
	}
	return nil
}

// Inherit stamps a child record with its parent's tenant, overriding whatever
// the caller supplied. Child records never trust their own tenant input.
func Inherit(parent, child Record) {
	child.SetTenantID(parent.TenantID())
}

// RequirePrivileged gates the unscoped escape hatch. Only control-plane
// contexts (platform services, the purge job) carry the marker.
func RequirePrivileged(ctx context.Context) error {
	if !requestcontext.Privileged(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "unscoped read requires a privileged context")
	}
	return nil
}
