package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"keel/internal/access"
	"keel/internal/ledger"
	"keel/pkg/platform/httputil"
)

// Service defines the read surface of the audit ledger.
type Service interface {
	ListTenant(ctx context.Context, limit int) ([]ledger.Entry, error)
	ListPlatform(ctx context.Context, limit int) ([]ledger.Entry, error)
	VerifyChain(ctx context.Context, chain ledger.ChainID) error
}

// Handler wires ledger read endpoints to the service.
type Handler struct {
	service Service
	access  *access.Service
	logger  *slog.Logger
}

func New(service Service, accessSvc *access.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, access: accessSvc, logger: logger}
}

// Register mounts the tenant-facing ledger endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ledger/entries", h.handleListTenant)
}

// RegisterPlatform mounts the platform-chain endpoints. Callers must gate the
// router behind the superuser middleware.
func (h *Handler) RegisterPlatform(r chi.Router) {
	r.Get("/platform/ledger/entries", h.handleListPlatform)
	r.Post("/platform/ledger/verify", h.handleVerifyPlatform)
}

func (h *Handler) handleListTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.access.Authorize(ctx, access.ResourceLedger, http.MethodGet); err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.service.ListTenant(ctx, limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleListPlatform(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListPlatform(r.Context(), limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleVerifyPlatform(w http.ResponseWriter, r *http.Request) {
	if err := h.service.VerifyChain(r.Context(), ledger.PlatformChain); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// limitParam reads ?limit=; the service clamps it.
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
