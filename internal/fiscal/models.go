// Package fiscal issues fiscal documents for paid invoices through an
// external provider. Submission runs as a retryable job; the provider
// confirms the outcome out of band through a signed webhook.
package fiscal

import (
	"time"

	"github.com/google/uuid"

	id "keel/pkg/domain"
)

// DocumentStatus is the issuance lifecycle state.
type DocumentStatus string

const (
	// StatusRequested: created locally, not yet accepted by the provider.
	StatusRequested DocumentStatus = "requested"
	// StatusSubmitted: the provider accepted the request and returned a
	// reference; the outcome arrives via webhook.
	StatusSubmitted DocumentStatus = "submitted"
	// Terminal outcomes reported by the provider.
	StatusAuthorized DocumentStatus = "authorized"
	StatusRejected   DocumentStatus = "rejected"
)

// Document is a tenant-scoped fiscal document tied to one invoice.
type Document struct {
	ID      id.DocumentID
	Tenant  id.TenantID
	Invoice id.InvoiceID
	// JobID is the submission job, kept so an out-of-band confirmation can
	// settle a job that exhausted its retries.
	JobID       uuid.UUID
	Status      DocumentStatus
	ProviderRef string
	// Reason carries the provider's rejection explanation.
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Document) Key() string               { return d.ID.String() }
func (d *Document) TenantID() id.TenantID     { return d.Tenant }
func (d *Document) SetTenantID(t id.TenantID) { d.Tenant = t }
