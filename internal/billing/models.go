// Package billing manages invoices and reacts to payment events. Paying an
// invoice is the composite write the trust layer exists for: inbox dedup,
// status transition, commission accrual and the audit entry commit together.
package billing

import (
	"time"

	"github.com/google/uuid"

	id "keel/pkg/domain"
)

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
)

// Invoice is a tenant-scoped receivable tied to a commission plan.
type Invoice struct {
	ID       id.InvoiceID
	Tenant   id.TenantID
	Plan     id.PlanID
	Customer string
	Status   InvoiceStatus
	// TotalCents is the sum of the line item amounts, fixed at creation.
	TotalCents int64
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i *Invoice) Key() string               { return i.ID.String() }
func (i *Invoice) TenantID() id.TenantID     { return i.Tenant }
func (i *Invoice) SetTenantID(t id.TenantID) { i.Tenant = t }

// LineItem is a child record: its tenant is always inherited from the parent
// invoice at write time, never taken from input.
type LineItem struct {
	ID          uuid.UUID
	Tenant      id.TenantID
	Invoice     id.InvoiceID
	Description string
	AmountCents int64
}

func (l *LineItem) Key() string               { return l.ID.String() }
func (l *LineItem) TenantID() id.TenantID     { return l.Tenant }
func (l *LineItem) SetTenantID(t id.TenantID) { l.Tenant = t }
