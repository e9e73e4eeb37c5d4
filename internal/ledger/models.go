// Package ledger implements the tamper-evident audit trail. Entries form
// per-scope hash chains: each entry's hash covers its own fields plus the hash
// of its predecessor, and storage-level uniqueness on (chain, prev_hash)
// guarantees linear, non-forking growth under concurrent appenders without
// any lock around the append.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "keel/pkg/domain"
)

// Scope selects which chain family an entry belongs to.
type Scope string

const (
	// ScopeTenant entries land on the bound tenant's own chain.
	ScopeTenant Scope = "TENANT"
	// ScopePlatform entries land on the single platform chain shared by
	// control-plane events (tenant lifecycle, configuration changes).
	ScopePlatform Scope = "PLATFORM"
)

// GenesisHash is the fixed predecessor value for a chain's first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainID names one logical chain. Chains are never merged or forked across
// scopes.
type ChainID string

// PlatformChain is the shared chain for platform-scope events.
const PlatformChain ChainID = "platform"

// TenantChain returns the chain for one tenant's audit trail.
func TenantChain(tenant id.TenantID) ChainID {
	return ChainID("tenant:" + tenant.String())
}

// Entry is one immutable audit record. Entries are created exactly once per
// domain event, inside the same transaction as the mutation they describe,
// and are never updated or deleted.
type Entry struct {
	ID         uuid.UUID
	Scope      Scope
	Tenant     id.TenantID // nil unless Scope == ScopeTenant
	Chain      ChainID
	PrevHash   string
	EntryHash  string
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Before     json.RawMessage
	After      json.RawMessage
	RequestID  string
	ClientIP   string
	UserAgent  string
	Timestamp  time.Time
}

// Well-known actions recorded on the chains.
const (
	ActionPlanCreated      = "commission_plan_created"
	ActionPlanUpdated      = "commission_plan_updated"
	ActionInvoiceCreated   = "invoice_created"
	ActionInvoicePaid      = "invoice_paid"
	ActionCommissionAccrue = "commission_accrued"
	ActionFiscalRequested  = "fiscal_document_requested"
	ActionFiscalAuthorized = "fiscal_document_authorized"
	ActionFiscalRejected   = "fiscal_document_rejected"
	ActionTenantCreated    = "tenant_created"
	ActionTenantSuspended  = "tenant_suspended"
	ActionTenantResumed    = "tenant_resumed"
)
