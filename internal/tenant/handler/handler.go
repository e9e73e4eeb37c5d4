package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keel/internal/tenant"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/requestcontext"
)

// Service defines the interface for tenant control-plane operations.
type Service interface {
	CreateTenant(ctx context.Context, name string) (*tenant.Tenant, error)
	GetTenant(ctx context.Context, tenantID id.TenantID) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]*tenant.Tenant, error)
	SuspendTenant(ctx context.Context, tenantID id.TenantID) (*tenant.Tenant, error)
	ResumeTenant(ctx context.Context, tenantID id.TenantID) (*tenant.Tenant, error)
}

// Handler wires the tenant control plane. Callers must gate the router behind
// the superuser middleware; the service enforces it again.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the tenant admin endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/platform/tenants", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{tenantID}", h.handleGet)
		r.Post("/{tenantID}/suspend", h.handleSuspend)
		r.Post("/{tenantID}/resume", h.handleResume)
	})
}

type createTenantRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createTenantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.CreateTenant(ctx, req.Name)
	if err != nil {
		h.logger.WarnContext(ctx, "tenant creation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	t, err := h.service.GetTenant(r.Context(), tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListTenants(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}
	httputil.WriteJSON(w, http.StatusOK, tenants)
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SuspendTenant)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ResumeTenant)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, id.TenantID) (*tenant.Tenant, error)) {
	ctx := r.Context()
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	t, err := fn(ctx, tenantID)
	if err != nil {
		h.logger.WarnContext(ctx, "tenant transition failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenantID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func tenantParam(w http.ResponseWriter, r *http.Request) (id.TenantID, bool) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid tenant id"))
		return id.TenantID{}, false
	}
	return tenantID, true
}
