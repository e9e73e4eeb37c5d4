package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "keel/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTenantID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTenantID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTenantID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		parsed, err := ParseTenantID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, TenantID(valid), parsed)
		assert.False(t, parsed.IsNil())
	})

	t.Run("round-trips through String", func(t *testing.T) {
		userID := UserID(uuid.New())
		parsed, err := ParseUserID(userID.String())
		require.NoError(t, err)
		assert.Equal(t, userID, parsed)
	})
}

func TestMembershipIn(t *testing.T) {
	tenantA := TenantID(uuid.New())
	tenantB := TenantID(uuid.New())

	identity := Identity{
		Actor: UserID(uuid.New()),
		Memberships: []Membership{
			{Tenant: tenantA, Role: RoleAdmin, Active: true},
			{Tenant: tenantB, Role: RoleViewer, Active: false},
		},
	}

	t.Run("finds active membership", func(t *testing.T) {
		m, ok := identity.MembershipIn(tenantA)
		require.True(t, ok)
		assert.Equal(t, RoleAdmin, m.Role)
	})

	t.Run("ignores inactive membership", func(t *testing.T) {
		_, ok := identity.MembershipIn(tenantB)
		assert.False(t, ok)
	})

	t.Run("no membership in unknown tenant", func(t *testing.T) {
		_, ok := identity.MembershipIn(TenantID(uuid.New()))
		assert.False(t, ok)
	})
}
