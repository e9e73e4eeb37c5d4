package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"keel/pkg/platform/sentinel"
)

// Store persists jobs. Claim must be atomic: a job handed to one worker is
// never handed to another until it is released or goes stale.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error
	// Claim picks one eligible job, moves it to processing with attempts
	// incremented, and returns it. Eligible means queued, failed with the
	// retry delay elapsed, or processing claimed before staleBefore.
	// Returns sentinel.ErrNotFound when nothing is eligible.
	Claim(ctx context.Context, now, staleBefore time.Time) (*Job, error)
	// Release writes a worker's outcome for a claimed job. The write only
	// lands while the job is still processing; sentinel.ErrConflict means
	// something settled the job out of band first and the outcome must be
	// dropped. Terminal states are permanent.
	Release(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID uuid.UUID) (*Job, error)
}

// InMemory is the memory-backed job store.
type InMemory struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
}

func NewInMemory() *InMemory {
	return &InMemory{jobs: make(map[uuid.UUID]Job)}
}

func (s *InMemory) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return sentinel.ErrConflict
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *InMemory) Claim(ctx context.Context, now, staleBefore time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pick *Job
	for key := range s.jobs {
		job := s.jobs[key]
		if !eligible(&job, now, staleBefore) {
			continue
		}
		if pick == nil || job.CreatedAt.Before(pick.CreatedAt) {
			picked := job
			pick = &picked
		}
	}
	if pick == nil {
		return nil, sentinel.ErrNotFound
	}

	pick.Status = StatusProcessing
	pick.Attempts++
	claimed := now
	pick.ClaimedAt = &claimed
	pick.UpdatedAt = now
	s.jobs[pick.ID] = *pick

	claimedCopy := *pick
	return &claimedCopy, nil
}

func eligible(job *Job, now, staleBefore time.Time) bool {
	switch job.Status {
	case StatusQueued:
		return true
	case StatusFailed:
		return !job.NextRetryAt.After(now)
	case StatusProcessing:
		// The worker died mid-flight; hand the job to someone else.
		return job.ClaimedAt != nil && job.ClaimedAt.Before(staleBefore)
	default:
		return false
	}
}

func (s *InMemory) Release(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.jobs[job.ID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if current.Status != StatusProcessing {
		return sentinel.ErrConflict
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *InMemory) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *InMemory) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return &job, nil
}
