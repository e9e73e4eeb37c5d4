// Package inbox deduplicates at-least-once delivered events. A record's
// existence is the sole idempotency check: inserting it first, inside the same
// transaction as the resulting mutation, means a rollback undoes both and a
// commit guarantees both happened exactly once.
package inbox

import (
	"time"

	"github.com/google/uuid"

	id "keel/pkg/domain"
)

// Record marks one externally delivered event as seen. Records are never
// updated; retention/purging is a separate concern.
type Record struct {
	ID         uuid.UUID
	Tenant     id.TenantID // nil for platform-scope events
	EventID    string
	EventType  string
	ReceivedAt time.Time
}
