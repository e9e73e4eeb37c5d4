package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keel/internal/commission"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/requestcontext"
)

// Service defines the interface for commission plan operations.
type Service interface {
	CreatePlan(ctx context.Context, input commission.CreatePlanInput) (*commission.Plan, error)
	UpdatePlan(ctx context.Context, planID id.PlanID, input commission.UpdatePlanInput) (*commission.Plan, error)
	GetPlan(ctx context.Context, planID id.PlanID) (*commission.Plan, error)
	ListPlans(ctx context.Context) ([]*commission.Plan, error)
}

// Handler wires commission plan endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts commission plan endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/commission/plans", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{planID}", h.handleGet)
		r.Put("/{planID}", h.handleUpdate)
	})
}

type planRequest struct {
	Name            string `json:"name"`
	RateBasisPoints int    `json:"rate_basis_points"`
	Active          *bool  `json:"active,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[planRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	plan, err := h.service.CreatePlan(ctx, commission.CreatePlanInput{
		Name:            req.Name,
		RateBasisPoints: req.RateBasisPoints,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "plan creation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, plan)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	planID, err := id.ParsePlanID(chi.URLParam(r, "planID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid plan id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[planRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	plan, err := h.service.UpdatePlan(ctx, planID, commission.UpdatePlanInput{
		Name:            req.Name,
		RateBasisPoints: req.RateBasisPoints,
		Active:          active,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "plan update failed",
			"request_id", requestID,
			"plan_id", planID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	planID, err := id.ParsePlanID(chi.URLParam(r, "planID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid plan id"))
		return
	}
	plan, err := h.service.GetPlan(r.Context(), planID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if plans == nil {
		plans = []*commission.Plan{}
	}
	httputil.WriteJSON(w, http.StatusOK, plans)
}
