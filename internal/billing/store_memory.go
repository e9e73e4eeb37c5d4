package billing

import (
	"context"

	"keel/internal/scoped"
	id "keel/pkg/domain"
)

// Store persists invoices and their line items under tenant scoping.
type Store interface {
	CreateInvoice(ctx context.Context, invoice *Invoice, lines []*LineItem) error
	UpdateInvoice(ctx context.Context, invoice *Invoice) error
	GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context) ([]*Invoice, error)
	ListLineItems(ctx context.Context, invoiceID id.InvoiceID) ([]*LineItem, error)
}

// InMemory is the memory-backed billing store.
type InMemory struct {
	invoices *scoped.Memory[*Invoice]
	lines    *scoped.Memory[*LineItem]
}

func NewInMemory() *InMemory {
	return &InMemory{
		invoices: scoped.NewMemory[*Invoice](),
		lines:    scoped.NewMemory[*LineItem](),
	}
}

func (s *InMemory) CreateInvoice(ctx context.Context, invoice *Invoice, lines []*LineItem) error {
	if err := s.invoices.Create(ctx, invoice); err != nil {
		return err
	}
	for _, line := range lines {
		scoped.Inherit(invoice, line)
		line.Invoice = invoice.ID
		if err := s.lines.Create(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemory) UpdateInvoice(ctx context.Context, invoice *Invoice) error {
	return s.invoices.Update(ctx, invoice)
}

func (s *InMemory) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*Invoice, error) {
	return s.invoices.Get(ctx, invoiceID.String())
}

func (s *InMemory) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	return s.invoices.List(ctx)
}

func (s *InMemory) ListLineItems(ctx context.Context, invoiceID id.InvoiceID) ([]*LineItem, error) {
	all, err := s.lines.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*LineItem
	for _, line := range all {
		if line.Invoice == invoiceID {
			out = append(out, line)
		}
	}
	return out, nil
}
