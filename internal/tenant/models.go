// Package tenant is the control plane for tenant organizations: creation,
// suspension and resumption. Tenants are platform records, not tenant-scoped
// ones, and every lifecycle transition lands on the platform audit chain.
package tenant

import (
	"time"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is the aggregate root for one organization.
//
// Suspension is an immediate boundary: the tenant-resolution middleware
// rejects requests for suspended tenants, so no data-plane operation can
// proceed under one. Records are untouched; resuming restores access.
type Tenant struct {
	ID        id.TenantID `json:"id"`
	Name      string      `json:"name"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// Suspend transitions the tenant to suspended.
func (t *Tenant) Suspend(now time.Time) error {
	if t.Status == StatusSuspended {
		return dErrors.New(dErrors.CodeConflict, "tenant is already suspended")
	}
	t.Status = StatusSuspended
	t.UpdatedAt = now
	return nil
}

// Resume transitions the tenant back to active.
func (t *Tenant) Resume(now time.Time) error {
	if t.Status == StatusActive {
		return dErrors.New(dErrors.CodeConflict, "tenant is already active")
	}
	t.Status = StatusActive
	t.UpdatedAt = now
	return nil
}

// NewTenant validates and constructs an active tenant.
func NewTenant(tenantID id.TenantID, name string, now time.Time) (*Tenant, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant name must be 128 characters or less")
	}
	return &Tenant{
		ID:        tenantID,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
