package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// hashPayload is the deterministic serialization of the fields covered by an
// entry's hash. The entry ID is excluded: identity is storage bookkeeping, the
// hash is over what happened. PrevHash is mixed in as a prefix, not a field,
// so the linkage is part of the digest input by construction.
type hashPayload struct {
	Scope      string          `json:"scope"`
	Tenant     string          `json:"tenant,omitempty"`
	Chain      string          `json:"chain"`
	Actor      string          `json:"actor,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	ClientIP   string          `json:"client_ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// ComputeEntryHash derives the SHA-256 hex digest of an entry given the hash
// of its predecessor (or GenesisHash). Serialization is canonical JSON
// (RFC 8785) so independently computed digests agree byte for byte.
func ComputeEntryHash(prev string, e Entry) (string, error) {
	payload := hashPayload{
		Scope:      string(e.Scope),
		Chain:      string(e.Chain),
		Actor:      e.Actor,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Before:     e.Before,
		After:      e.After,
		RequestID:  e.RequestID,
		ClientIP:   e.ClientIP,
		UserAgent:  e.UserAgent,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Scope == ScopeTenant {
		payload.Tenant = e.Tenant.String()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ledger entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize ledger entry: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
