// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values, most importantly the ambient tenant binding.
//
// The tenant handle is carried only here, never as a caller-supplied parameter
// to scoped operations. Binding follows Go's context discipline: Bind returns
// a derived context, a nested Bind shadows the outer tenant for its subtree,
// and dropping back to the parent context restores the outer value. Because
// contexts are immutable and per-task, two concurrent units of work can never
// observe each other's binding.
//
// Usage in middleware and background tasks (set values):
//
//	ctx = requestcontext.Bind(ctx, tenantID)
//	ctx = requestcontext.WithIdentity(ctx, identity)
//
// Usage in services (read values):
//
//	tenant, ok := requestcontext.Tenant(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"

	id "keel/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	tenantKey      struct{}
	identityKey    struct{}
	privilegedKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
)

// -----------------------------------------------------------------------------
// Tenant binding
// -----------------------------------------------------------------------------

// Bind derives a context with the given tenant as the ambient tenant for all
// scoped reads and writes performed under it.
func Bind(ctx context.Context, tenant id.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// Tenant returns the ambient tenant. ok is false when no tenant is bound;
// scoped reads treat that as "see nothing", never "see everything".
func Tenant(ctx context.Context) (id.TenantID, bool) {
	tenant, ok := ctx.Value(tenantKey{}).(id.TenantID)
	if !ok || tenant.IsNil() {
		return id.TenantID{}, false
	}
	return tenant, true
}

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// WithIdentity injects the authenticated principal established by the auth
// middleware.
func WithIdentity(ctx context.Context, identity id.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Identity returns the authenticated principal, if any.
func Identity(ctx context.Context) (id.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(id.Identity)
	return identity, ok
}

// -----------------------------------------------------------------------------
// Privileged (escape hatch) marker
// -----------------------------------------------------------------------------

// WithPrivileged marks the context as a control-plane unit of work. It is the
// only way to unlock unscoped cross-tenant reads, and must be set by explicit
// platform entry points, never by regular request handling.
func WithPrivileged(ctx context.Context) context.Context {
	return context.WithValue(ctx, privilegedKey{}, true)
}

// Privileged reports whether the context carries the control-plane marker.
func Privileged(ctx context.Context) bool {
	privileged, ok := ctx.Value(privilegedKey{}).(bool)
	return ok && privileged
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the (normalized) User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts like workers and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context, keeping a whole unit of
// work on one clock reading and letting tests pin time.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
