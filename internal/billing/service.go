package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"keel/internal/access"
	"keel/internal/commission"
	"keel/internal/ledger"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/platform/tx"
	"keel/pkg/requestcontext"
)

// Accruer books commission for a paid invoice inside the caller's unit of
// work. Satisfied by commission.Service.
type Accruer interface {
	Accrue(ctx context.Context, planID id.PlanID, invoiceID id.InvoiceID, premiumCents int64) (*commission.Accrual, error)
}

// Inbox is the idempotency gate for payment events.
type Inbox interface {
	RecordIfNew(ctx context.Context, tenant id.TenantID, eventID, eventType string) (bool, error)
}

// Service is the invoice surface and the payment event handler.
type Service struct {
	store   Store
	access  *access.Service
	ledger  *ledger.Service
	inbox   Inbox
	accruer Accruer
	runner  tx.Runner
	logger  *slog.Logger
}

func NewService(store Store, accessSvc *access.Service, ledgerSvc *ledger.Service, inbox Inbox, accruer Accruer, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		access:  accessSvc,
		ledger:  ledgerSvc,
		inbox:   inbox,
		accruer: accruer,
		runner:  runner,
		logger:  logger,
	}
}

// LineInput is one caller-supplied invoice line.
type LineInput struct {
	Description string
	AmountCents int64
}

// CreateInvoiceInput is the caller-supplied part of an invoice.
type CreateInvoiceInput struct {
	Plan     id.PlanID
	Customer string
	Lines    []LineInput
}

func (in CreateInvoiceInput) validate() error {
	if in.Plan.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "invoice requires a commission plan")
	}
	if len(in.Lines) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "invoice requires at least one line item")
	}
	for _, line := range in.Lines {
		if line.AmountCents <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "line item amount must be positive")
		}
	}
	return nil
}

func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	if err := s.access.Authorize(ctx, access.ResourceInvoices, http.MethodPost); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	invoice := &Invoice{
		ID:        id.InvoiceID(uuid.New()),
		Plan:      input.Plan,
		Customer:  input.Customer,
		Status:    InvoiceOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	lines := make([]*LineItem, 0, len(input.Lines))
	for _, in := range input.Lines {
		invoice.TotalCents += in.AmountCents
		lines = append(lines, &LineItem{
			ID:          uuid.New(),
			Description: in.Description,
			AmountCents: in.AmountCents,
		})
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateInvoice(ctx, invoice, lines); err != nil {
			return storeError(err, "failed to create invoice")
		}
		after, _ := json.Marshal(map[string]any{
			"customer":    invoice.Customer,
			"total_cents": invoice.TotalCents,
			"status":      string(invoice.Status),
		})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			Scope:      ledger.ScopeTenant,
			Action:     ledger.ActionInvoiceCreated,
			Resource:   "invoice",
			ResourceID: invoice.ID.String(),
			After:      after,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*Invoice, error) {
	if err := s.access.Authorize(ctx, access.ResourceInvoices, http.MethodGet); err != nil {
		return nil, err
	}
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, storeError(err, "failed to load invoice")
	}
	return invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	if err := s.access.Authorize(ctx, access.ResourceInvoices, http.MethodGet); err != nil {
		return nil, err
	}
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list invoices")
	}
	return invoices, nil
}

func (s *Service) ListLineItems(ctx context.Context, invoiceID id.InvoiceID) ([]*LineItem, error) {
	if err := s.access.Authorize(ctx, access.ResourceInvoices, http.MethodGet); err != nil {
		return nil, err
	}
	lines, err := s.store.ListLineItems(ctx, invoiceID)
	if err != nil {
		return nil, storeError(err, "failed to list invoice line items")
	}
	return lines, nil
}

// PaymentEvent is a payment-provider notification that an invoice was paid.
// EventID is the provider's delivery id, the idempotency key.
type PaymentEvent struct {
	EventID string
	Invoice id.InvoiceID
}

// HandlePaymentPaid applies a payment event exactly once. The inbox record,
// the status transition, the commission accrual and the audit entry are one
// unit of work: a redelivered event is absorbed, a failure rolls everything
// back so redelivery can retry it cleanly.
func (s *Service) HandlePaymentPaid(ctx context.Context, event PaymentEvent) error {
	tenant, ok := requestcontext.Tenant(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeMissingTenant, "payment event requires a bound tenant")
	}
	if event.EventID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "payment event requires an event id")
	}
	if event.Invoice.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "payment event requires an invoice id")
	}

	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		fresh, err := s.inbox.RecordIfNew(ctx, tenant, event.EventID, "payment.paid")
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}

		invoice, err := s.store.GetInvoice(ctx, event.Invoice)
		if err != nil {
			return storeError(err, "failed to load invoice for payment")
		}
		if invoice.Status == InvoicePaid {
			// A distinct event for an already paid invoice; nothing to apply.
			s.logger.InfoContext(ctx, "payment event for already paid invoice",
				"invoice_id", invoice.ID.String(),
				"event_id", event.EventID,
			)
			return nil
		}

		before, _ := json.Marshal(map[string]any{"status": string(invoice.Status)})
		now := requestcontext.Now(ctx)
		invoice.Status = InvoicePaid
		invoice.PaidAt = &now
		invoice.UpdatedAt = now
		if err := s.store.UpdateInvoice(ctx, invoice); err != nil {
			return storeError(err, "failed to mark invoice paid")
		}

		if _, err := s.accruer.Accrue(ctx, invoice.Plan, invoice.ID, invoice.TotalCents); err != nil {
			return err
		}

		after, _ := json.Marshal(map[string]any{"status": string(InvoicePaid)})
		_, err = s.ledger.Append(ctx, ledger.Entry{
			Scope:      ledger.ScopeTenant,
			Action:     ledger.ActionInvoicePaid,
			Resource:   "invoice",
			ResourceID: invoice.ID.String(),
			Before:     before,
			After:      after,
		})
		return err
	})
}

func storeError(err error, msg string) error {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "invoice not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "invoice already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
