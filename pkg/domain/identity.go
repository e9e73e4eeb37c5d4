package domain

// Role names a capability level inside one tenant.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Membership ties a principal to a role within one tenant. Inactive
// memberships exist so access can be suspended without losing history.
type Membership struct {
	Tenant TenantID
	Role   Role
	Active bool
}

// Identity is the authenticated principal for a unit of work, as established
// by the auth middleware from token claims. Superuser is a platform-level
// capability: it bypasses role checks but never tenant scoping.
type Identity struct {
	Actor       UserID
	Memberships []Membership
	Superuser   bool
}

// MembershipIn returns the active membership for the given tenant, if any.
func (i Identity) MembershipIn(tenant TenantID) (Membership, bool) {
	for _, m := range i.Memberships {
		if m.Tenant == tenant && m.Active {
			return m, true
		}
	}
	return Membership{}, false
}
