// Package admin gates control-plane routes: only platform superusers pass,
// and the request context gains the privileged marker that unlocks unscoped
// reads.
package admin

import (
	"log/slog"
	"net/http"

	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/requestcontext"
)

func RequireSuperuser(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := requestcontext.Identity(ctx)
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !identity.Superuser {
				logger.WarnContext(ctx, "control-plane access denied",
					"actor", identity.Actor.String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "platform administrator capability required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrivileged(ctx)))
		})
	}
}
