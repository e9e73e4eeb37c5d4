package testutil

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	id "keel/pkg/domain"
	"keel/pkg/requestcontext"
)

// MemberContext returns a context bound to the tenant with an authenticated
// principal holding the given active role there. This simulates what the
// tenant and auth middlewares establish for a normal request.
func MemberContext(tenant id.TenantID, role id.Role) context.Context {
	identity := id.Identity{
		Actor: id.UserID(uuid.New()),
		Memberships: []id.Membership{
			{Tenant: tenant, Role: role, Active: true},
		},
	}
	ctx := requestcontext.Bind(context.Background(), tenant)
	return requestcontext.WithIdentity(ctx, identity)
}

// SuperuserContext returns a context with a platform superuser bound to the
// given tenant. Pass the zero TenantID to leave the tenant unbound.
func SuperuserContext(tenant id.TenantID) context.Context {
	ctx := context.Background()
	if !tenant.IsNil() {
		ctx = requestcontext.Bind(ctx, tenant)
	}
	return requestcontext.WithIdentity(ctx, id.Identity{
		Actor:     id.UserID(uuid.New()),
		Superuser: true,
	})
}

// PrivilegedContext returns a context carrying the unscoped-read capability,
// as control-plane entry points establish it.
func PrivilegedContext() context.Context {
	return requestcontext.WithPrivileged(context.Background())
}

// WithRequestContext replaces the request's context, for handler tests that
// pre-establish what the middleware chain would.
func WithRequestContext(req *http.Request, ctx context.Context) *http.Request {
	return req.WithContext(ctx)
}
