// Package domain holds the typed identifiers and identity value objects shared
// across features. IDs are UUID wrappers so a plan ID can never be passed where
// a tenant ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "keel/pkg/domain-errors"
)

type (
	// TenantID identifies one tenant organization, the unit of data partitioning.
	TenantID uuid.UUID
	// UserID identifies an acting principal (human or service account).
	UserID uuid.UUID
	// PlanID identifies a commission plan.
	PlanID uuid.UUID
	// InvoiceID identifies an invoice.
	InvoiceID uuid.UUID
	// JobID identifies a retryable background job.
	JobID uuid.UUID
	// DocumentID identifies a fiscal document.
	DocumentID uuid.UUID
)

func (t TenantID) IsNil() bool   { return uuid.UUID(t) == uuid.Nil }
func (u UserID) IsNil() bool     { return uuid.UUID(u) == uuid.Nil }
func (p PlanID) IsNil() bool     { return uuid.UUID(p) == uuid.Nil }
func (i InvoiceID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (j JobID) IsNil() bool      { return uuid.UUID(j) == uuid.Nil }
func (d DocumentID) IsNil() bool { return uuid.UUID(d) == uuid.Nil }

func (t TenantID) String() string   { return uuid.UUID(t).String() }
func (u UserID) String() string     { return uuid.UUID(u).String() }
func (p PlanID) String() string     { return uuid.UUID(p).String() }
func (i InvoiceID) String() string  { return uuid.UUID(i).String() }
func (j JobID) String() string      { return uuid.UUID(j).String() }
func (d DocumentID) String() string { return uuid.UUID(d).String() }

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(raw, label string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, label+" is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be the nil UUID")
	}
	return parsed, nil
}

func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := parseUUID(raw, "tenant id")
	return TenantID(parsed), err
}

func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw, "user id")
	return UserID(parsed), err
}

func ParsePlanID(raw string) (PlanID, error) {
	parsed, err := parseUUID(raw, "plan id")
	return PlanID(parsed), err
}

func ParseInvoiceID(raw string) (InvoiceID, error) {
	parsed, err := parseUUID(raw, "invoice id")
	return InvoiceID(parsed), err
}

func ParseJobID(raw string) (JobID, error) {
	parsed, err := parseUUID(raw, "job id")
	return JobID(parsed), err
}

func ParseDocumentID(raw string) (DocumentID, error) {
	parsed, err := parseUUID(raw, "document id")
	return DocumentID(parsed), err
}
