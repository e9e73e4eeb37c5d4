// Package commission manages commission plans and the accruals earned against
// paid invoices. Plans are tenant-scoped records; accruals are derived writes
// created inside the payment transaction.
package commission

import (
	"time"

	"github.com/google/uuid"

	id "keel/pkg/domain"
)

// Plan defines how commission is computed for a tenant's business.
type Plan struct {
	ID     id.PlanID
	Tenant id.TenantID
	Name   string
	// RateBasisPoints is the commission rate applied to the invoice premium,
	// in basis points (100 = 1%).
	RateBasisPoints int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *Plan) Key() string               { return p.ID.String() }
func (p *Plan) TenantID() id.TenantID     { return p.Tenant }
func (p *Plan) SetTenantID(t id.TenantID) { p.Tenant = t }

// Accrual is one commission amount earned when an invoice is paid.
type Accrual struct {
	ID          uuid.UUID
	Tenant      id.TenantID
	Plan        id.PlanID
	Invoice     id.InvoiceID
	AmountCents int64
	CreatedAt   time.Time
}

func (a *Accrual) Key() string               { return a.ID.String() }
func (a *Accrual) TenantID() id.TenantID     { return a.Tenant }
func (a *Accrual) SetTenantID(t id.TenantID) { a.Tenant = t }
