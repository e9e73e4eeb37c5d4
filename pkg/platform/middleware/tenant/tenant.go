// Package tenant resolves the ambient tenant for a request. The binding comes
// only from here; handlers and services never accept a tenant parameter.
package tenant

import (
	"context"
	"log/slog"
	"net/http"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/requestcontext"
)

// HeaderTenantID carries the tenant selection on data-plane requests.
const HeaderTenantID = "X-Tenant-ID"

// Checker reports whether a tenant exists and is active. Satisfied by the
// tenant control-plane service.
type Checker interface {
	Active(ctx context.Context, tenant id.TenantID) (bool, error)
}

// Resolve parses the tenant header, verifies the tenant is active and binds
// it for the rest of the request. Requests without the header proceed
// unbound: scoped reads then see nothing, and tenant-required operations
// reject explicitly.
func Resolve(checker Checker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderTenantID)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := id.ParseTenantID(raw)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			ctx := r.Context()
			active, err := checker.Active(ctx, tenant)
			if err != nil {
				logger.ErrorContext(ctx, "tenant lookup failed",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve tenant"))
				return
			}
			if !active {
				logger.WarnContext(ctx, "request for inactive tenant rejected",
					"tenant_id", tenant.String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "tenant is not active"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.Bind(ctx, tenant)))
		})
	}
}
