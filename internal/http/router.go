// Package httpapi composes the HTTP surface: the middleware chain, the
// per-feature handlers and the operational endpoints.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	billinghandler "keel/internal/billing/handler"
	commissionhandler "keel/internal/commission/handler"
	fiscalhandler "keel/internal/fiscal/handler"
	ledgerhandler "keel/internal/ledger/handler"
	"keel/internal/platform/metrics"
	tenanthandler "keel/internal/tenant/handler"
	"keel/pkg/platform/middleware/admin"
	"keel/pkg/platform/middleware/auth"
	"keel/pkg/platform/middleware/metadata"
	"keel/pkg/platform/middleware/request"
	"keel/pkg/platform/middleware/requesttime"
	"keel/pkg/platform/middleware/tenant"
)

// Deps carries everything the router needs.
type Deps struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Validator     *auth.Validator
	TenantChecker tenant.Checker

	Commission *commissionhandler.Handler
	Billing    *billinghandler.Handler
	Fiscal     *fiscalhandler.Handler
	Ledger     *ledgerhandler.Handler
	Tenants    *tenanthandler.Handler
}

// NewRouter wires all endpoints.
//
// The chain order matters: the request id and clock come first so everything
// downstream can log and stamp consistently, authentication establishes the
// identity, and tenant resolution is last so it can reject suspended tenants
// before any handler runs.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(request.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Provider callbacks authenticate with an HMAC signature, not a token.
	d.Fiscal.RegisterWebhook(r)

	// Tenant data plane.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		r.Use(tenant.Resolve(d.TenantChecker, d.Logger))

		d.Commission.Register(r)
		d.Billing.Register(r)
		d.Fiscal.Register(r)
		d.Ledger.Register(r)
	})

	// Platform control plane, superuser only.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		r.Use(admin.RequireSuperuser(d.Logger))

		d.Tenants.Register(r)
		d.Ledger.RegisterPlatform(r)
	})

	return r
}
