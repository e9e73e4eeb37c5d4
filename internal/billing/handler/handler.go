package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keel/internal/billing"
	"keel/internal/commission"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/requestcontext"
)

// Service defines the interface for invoice operations.
type Service interface {
	CreateInvoice(ctx context.Context, input billing.CreateInvoiceInput) (*billing.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*billing.Invoice, error)
	ListInvoices(ctx context.Context) ([]*billing.Invoice, error)
	ListLineItems(ctx context.Context, invoiceID id.InvoiceID) ([]*billing.LineItem, error)
	HandlePaymentPaid(ctx context.Context, event billing.PaymentEvent) error
}

// Accruals exposes the commission accruals booked against an invoice.
type Accruals interface {
	ListAccruals(ctx context.Context, invoiceID id.InvoiceID) ([]*commission.Accrual, error)
}

// Handler wires invoice endpoints to the billing service.
type Handler struct {
	service  Service
	accruals Accruals
	logger   *slog.Logger
}

func New(service Service, accruals Accruals, logger *slog.Logger) *Handler {
	return &Handler{service: service, accruals: accruals, logger: logger}
}

// Register mounts invoice endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/billing/invoices", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{invoiceID}", h.handleGet)
		r.Get("/{invoiceID}/lines", h.handleListLines)
		r.Get("/{invoiceID}/accruals", h.handleListAccruals)
		r.Post("/{invoiceID}/payments", h.handlePayment)
	})
}

type createInvoiceRequest struct {
	PlanID   string `json:"plan_id"`
	Customer string `json:"customer"`
	Lines    []struct {
		Description string `json:"description"`
		AmountCents int64  `json:"amount_cents"`
	} `json:"lines"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createInvoiceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	planID, err := id.ParsePlanID(req.PlanID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid plan id"))
		return
	}

	input := billing.CreateInvoiceInput{Plan: planID, Customer: req.Customer}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, billing.LineInput{
			Description: line.Description,
			AmountCents: line.AmountCents,
		})
	}

	invoice, err := h.service.CreateInvoice(ctx, input)
	if err != nil {
		h.logger.WarnContext(ctx, "invoice creation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := invoiceParam(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, invoice)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if invoices == nil {
		invoices = []*billing.Invoice{}
	}
	httputil.WriteJSON(w, http.StatusOK, invoices)
}

func (h *Handler) handleListLines(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := invoiceParam(w, r)
	if !ok {
		return
	}
	lines, err := h.service.ListLineItems(r.Context(), invoiceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if lines == nil {
		lines = []*billing.LineItem{}
	}
	httputil.WriteJSON(w, http.StatusOK, lines)
}

func (h *Handler) handleListAccruals(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := invoiceParam(w, r)
	if !ok {
		return
	}
	accruals, err := h.accruals.ListAccruals(r.Context(), invoiceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if accruals == nil {
		accruals = []*commission.Accrual{}
	}
	httputil.WriteJSON(w, http.StatusOK, accruals)
}

type paymentRequest struct {
	EventID string `json:"event_id"`
}

// handlePayment ingests a payment notification over HTTP. The same exactly-once
// path as the event consumer applies, keyed on the caller-supplied event id.
func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	invoiceID, ok := invoiceParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[paymentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	err := h.service.HandlePaymentPaid(ctx, billing.PaymentEvent{
		EventID: req.EventID,
		Invoice: invoiceID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "payment ingestion failed",
			"request_id", requestID,
			"invoice_id", invoiceID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func invoiceParam(w http.ResponseWriter, r *http.Request) (id.InvoiceID, bool) {
	invoiceID, err := id.ParseInvoiceID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid invoice id"))
		return id.InvoiceID{}, false
	}
	return invoiceID, true
}
