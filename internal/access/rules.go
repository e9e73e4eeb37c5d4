package access

import (
	"encoding/json"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
)

// RuleKind tags the known per-tenant override rule shapes. Tenant-configured
// rules arrive as JSON; rather than dispatching on loosely typed payloads at
// use time, they are parsed into this tagged union at the boundary.
type RuleKind string

const (
	// KindAllowRoles grants the listed roles for a resource/method pair.
	KindAllowRoles RuleKind = "allow_roles"
	// KindDenyAll removes tenant access for the pair entirely.
	KindDenyAll RuleKind = "deny_all"
	// KindPassthrough preserves a rule shape this version does not understand.
	// It never affects resolution; the raw payload is kept for round-tripping.
	KindPassthrough RuleKind = "passthrough"
)

// Rule is one parsed tenant override.
type Rule struct {
	Kind  RuleKind
	Roles []id.Role
	Raw   json.RawMessage
}

type rulePayload struct {
	Kind  string   `json:"kind"`
	Roles []string `json:"roles,omitempty"`
}

// ParseRule validates a tenant-configured rule payload. Unknown kinds become
// passthrough variants instead of being trusted or rejected, so a newer
// control plane can store shapes an older node ignores safely.
func ParseRule(raw json.RawMessage) (Rule, error) {
	var payload rulePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Rule{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed access rule")
	}
	switch RuleKind(payload.Kind) {
	case KindAllowRoles:
		if len(payload.Roles) == 0 {
			return Rule{}, dErrors.New(dErrors.CodeInvalidInput, "allow_roles rule requires at least one role")
		}
		roles := make([]id.Role, 0, len(payload.Roles))
		for _, r := range payload.Roles {
			roles = append(roles, id.Role(r))
		}
		return Rule{Kind: KindAllowRoles, Roles: roles, Raw: raw}, nil
	case KindDenyAll:
		return Rule{Kind: KindDenyAll, Raw: raw}, nil
	default:
		return Rule{Kind: KindPassthrough, Raw: raw}, nil
	}
}
