package access

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/requestcontext"
)

// Service answers "may this principal perform this operation" for the current
// tenant binding.
type Service struct {
	overrides OverrideStore
	operation Matrix
	defaults  Matrix
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithOperationOverrides installs the top-priority, deployment-wide override
// matrix for specific operations.
func WithOperationOverrides(m Matrix) Option {
	return func(s *Service) { s.operation = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(overrides OverrideStore, opts ...Option) *Service {
	s := &Service{
		overrides: overrides,
		defaults:  Defaults(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AllowedRoles resolves the role set for a resource/method pair under the
// current tenant: operation overrides, then tenant configuration, then the
// global defaults. An empty result means nobody short of a superuser.
func (s *Service) AllowedRoles(ctx context.Context, resource, method string) ([]id.Role, error) {
	if roles, ok := s.operation.Roles(resource, method); ok {
		return roles, nil
	}

	if tenant, bound := requestcontext.Tenant(ctx); bound && s.overrides != nil {
		rule, err := s.overrides.Rule(ctx, tenant, resource, method)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			// fall through to defaults
		case err != nil:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant access configuration")
		default:
			switch rule.Kind {
			case KindAllowRoles:
				return rule.Roles, nil
			case KindDenyAll:
				return nil, nil
			case KindPassthrough:
				// Unknown shape: resolution ignores it rather than trusting it.
			}
		}
	}

	roles, _ := s.defaults.Roles(resource, method)
	return roles, nil
}

// Authorize checks the current principal against the resolved role set.
// Superusers bypass role resolution but not tenant scoping: a superuser still
// only sees the tenant bound in context unless using the escape hatch.
func (s *Service) Authorize(ctx context.Context, resource, method string) error {
	identity, ok := requestcontext.Identity(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if identity.Superuser {
		return nil
	}

	tenant, bound := requestcontext.Tenant(ctx)
	if !bound {
		return dErrors.New(dErrors.CodeUnauthorized, "no tenant bound for this request")
	}
	membership, ok := identity.MembershipIn(tenant)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "no active membership in tenant")
	}

	allowed, err := s.AllowedRoles(ctx, resource, method)
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, membership.Role) {
		s.logger.WarnContext(ctx, "access denied",
			"resource", resource,
			"method", method,
			"role", string(membership.Role),
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.New(dErrors.CodeForbidden, "role not permitted for this operation")
	}
	return nil
}

// RequireSuperuser gates platform-level surfaces such as the platform ledger
// listing and tenant lifecycle operations.
func (s *Service) RequireSuperuser(ctx context.Context) error {
	identity, ok := requestcontext.Identity(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !identity.Superuser {
		return dErrors.New(dErrors.CodeForbidden, "platform administrator capability required")
	}
	return nil
}
