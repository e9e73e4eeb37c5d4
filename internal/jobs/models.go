// Package jobs runs externally side-effecting operations with bounded retries.
// A job is claimed atomically by one worker, executed, and either succeeds,
// is re-queued with exponential backoff, or fails terminally once the attempt
// budget is spent. Permanently invalid conditions fail fast without consuming
// the budget.
package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	id "keel/pkg/domain"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	// StatusFailed is retry-pending: eligible to be claimed again once
	// NextRetryAt has elapsed.
	StatusFailed Status = "failed"
	// Terminal states. Never re-claimed.
	StatusSucceeded      Status = "succeeded"
	StatusFailedTerminal Status = "failed_terminal"
)

// Job is one retryable unit of external work.
type Job struct {
	ID          uuid.UUID
	Tenant      id.TenantID // nil for platform-scope work
	Kind        string
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	LastError   string
	NextRetryAt time.Time
	ClaimedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the job can never run again.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailedTerminal
}

// terminalError marks a failure as permanently invalid (unsupported provider,
// malformed payload) so the worker fails the job immediately instead of
// burning the retry budget on something retrying cannot fix.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err as a fail-fast condition.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
