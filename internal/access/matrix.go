// Package access resolves which roles may call which resource operations and
// authorizes the current principal against that resolution. The matrix is
// layered: operation-specific overrides win over per-tenant configuration,
// which wins over the global defaults.
package access

import (
	id "keel/pkg/domain"
)

// Resource keys used across the matrix. Handlers pass these together with the
// HTTP method they serve.
const (
	ResourceCommissionPlans = "commission_plans"
	ResourceInvoices        = "invoices"
	ResourceLedger          = "ledger"
	ResourceFiscalDocuments = "fiscal_documents"
	ResourceTenants         = "tenants"
)

// Matrix maps resource -> method -> allowed roles.
type Matrix map[string]map[string][]id.Role

// Roles returns the configured role set for a resource/method pair, if any.
func (m Matrix) Roles(resource, method string) ([]id.Role, bool) {
	methods, ok := m[resource]
	if !ok {
		return nil, false
	}
	roles, ok := methods[method]
	return roles, ok
}

// Defaults is the global fallback matrix. Reads are broad, writes narrow, and
// the ledger is restricted to roles with an audit mandate.
func Defaults() Matrix {
	return Matrix{
		ResourceCommissionPlans: {
			"GET":    {id.RoleOwner, id.RoleAdmin, id.RoleManager, id.RoleOperator, id.RoleViewer},
			"POST":   {id.RoleOwner, id.RoleAdmin, id.RoleManager},
			"PUT":    {id.RoleOwner, id.RoleAdmin, id.RoleManager},
			"DELETE": {id.RoleOwner, id.RoleAdmin},
		},
		ResourceInvoices: {
			"GET":  {id.RoleOwner, id.RoleAdmin, id.RoleManager, id.RoleOperator, id.RoleViewer},
			"POST": {id.RoleOwner, id.RoleAdmin, id.RoleManager, id.RoleOperator},
			"PUT":  {id.RoleOwner, id.RoleAdmin, id.RoleManager, id.RoleOperator},
		},
		ResourceLedger: {
			"GET": {id.RoleOwner, id.RoleAdmin},
		},
		ResourceFiscalDocuments: {
			"GET":  {id.RoleOwner, id.RoleAdmin, id.RoleManager, id.RoleOperator},
			"POST": {id.RoleOwner, id.RoleAdmin, id.RoleManager},
		},
	}
}
