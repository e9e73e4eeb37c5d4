package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keel/internal/fiscal"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/platform/webhook"
	"keel/pkg/requestcontext"
)

// SignatureHeader carries the provider's HMAC over the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds provider callbacks; fiscal payloads are small.
const maxWebhookBody = 1 << 20

// Service defines the interface for fiscal document operations.
type Service interface {
	RequestDocument(ctx context.Context, invoiceID id.InvoiceID) (*fiscal.Document, error)
	GetDocument(ctx context.Context, docID id.DocumentID) (*fiscal.Document, error)
	ListDocuments(ctx context.Context) ([]*fiscal.Document, error)
	Settle(ctx context.Context, eventID string, docID id.DocumentID, authorized bool, reason string) (bool, error)
}

// Handler wires fiscal document endpoints and the provider webhook.
type Handler struct {
	service Service
	secret  []byte
	logger  *slog.Logger
}

func New(service Service, secret []byte, logger *slog.Logger) *Handler {
	return &Handler{service: service, secret: secret, logger: logger}
}

// Register mounts the authenticated fiscal document endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/fiscal/documents", func(r chi.Router) {
		r.Post("/", h.handleRequest)
		r.Get("/", h.handleList)
		r.Get("/{documentID}", h.handleGet)
	})
}

// RegisterWebhook mounts the provider callback. It lives outside the auth
// chain; the HMAC signature is the only credential.
func (h *Handler) RegisterWebhook(r chi.Router) {
	r.Post("/webhooks/fiscal", h.handleWebhook)
}

type requestDocumentRequest struct {
	InvoiceID string `json:"invoice_id"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[requestDocumentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	invoiceID, err := id.ParseInvoiceID(req.InvoiceID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid invoice id"))
		return
	}

	doc, err := h.service.RequestDocument(ctx, invoiceID)
	if err != nil {
		h.logger.WarnContext(ctx, "fiscal document request failed",
			"request_id", requestID,
			"invoice_id", invoiceID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	docID, err := id.ParseDocumentID(chi.URLParam(r, "documentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid document id"))
		return
	}
	doc, err := h.service.GetDocument(r.Context(), docID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if docs == nil {
		docs = []*fiscal.Document{}
	}
	httputil.WriteJSON(w, http.StatusOK, docs)
}

// webhookPayload matches the provider's callback body.
type webhookPayload struct {
	EventID    string `json:"event_id"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read request body"))
		return
	}
	if !webhook.Verify(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.logger.WarnContext(ctx, "webhook signature rejected",
			"request_id", requestID,
			"client_ip", requestcontext.ClientIP(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if payload.EventID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "webhook requires an event_id"))
		return
	}
	tenant, err := id.ParseTenantID(payload.TenantID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid tenant id"))
		return
	}
	docID, err := id.ParseDocumentID(payload.DocumentID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid document id"))
		return
	}

	var authorized bool
	switch payload.Status {
	case "authorized":
		authorized = true
	case "rejected":
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "status must be authorized or rejected"))
		return
	}

	// The dedup record and the settlement commit or roll back together, so a
	// failed first delivery is retried fresh instead of reading as a duplicate.
	ctx = requestcontext.Bind(ctx, tenant)
	fresh, err := h.service.Settle(ctx, payload.EventID, docID, authorized, payload.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "fiscal webhook processing failed",
			"request_id", requestID,
			"document_id", docID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if !fresh {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
