// Package auth authenticates requests with bearer JWTs and establishes the
// principal's identity (actor, tenant memberships, superuser capability) in
// the request context.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/httputil"
	"keel/pkg/requestcontext"
)

// membershipClaim is the wire form of one tenant membership.
type membershipClaim struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// accessClaims is the token payload. Subject carries the actor ID.
type accessClaims struct {
	jwt.RegisteredClaims
	Memberships []membershipClaim `json:"memberships,omitempty"`
	Superuser   bool              `json:"superuser,omitempty"`
}

// Validator parses and verifies access tokens signed with HMAC-SHA256.
type Validator struct {
	secret []byte
	issuer string
}

func NewValidator(secret []byte, issuer string) *Validator {
	return &Validator{secret: secret, issuer: issuer}
}

// Validate verifies the token and converts its claims to an Identity.
func (v *Validator) Validate(tokenString string) (id.Identity, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return id.Identity{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid or expired token")
	}

	actor, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return id.Identity{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token subject is not a valid actor")
	}

	identity := id.Identity{Actor: actor, Superuser: claims.Superuser}
	for _, m := range claims.Memberships {
		tenant, err := id.ParseTenantID(m.TenantID)
		if err != nil {
			return id.Identity{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token membership carries an invalid tenant")
		}
		identity.Memberships = append(identity.Memberships, id.Membership{
			Tenant: tenant,
			Role:   id.Role(m.Role),
			Active: m.Active,
		})
	}
	return identity, nil
}

// Sign issues a token for the identity, for tooling and tests.
func (v *Validator) Sign(identity id.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   identity.Actor.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Superuser: identity.Superuser,
	}
	for _, m := range identity.Memberships {
		claims.Memberships = append(claims.Memberships, membershipClaim{
			TenantID: m.Tenant.String(),
			Role:     string(m.Role),
			Active:   m.Active,
		})
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resulting identity in the context.
func RequireAuth(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			identity, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(ctx, identity)))
		})
	}
}
