package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/requestcontext"
)

// Service enqueues jobs and applies out-of-band completions.
type Service struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("keel/jobs"),
	}
}

// Enqueue creates a queued job. The tenant bound to the context, if any,
// travels with the job and is re-bound when a worker executes it.
func (s *Service) Enqueue(ctx context.Context, kind string, payload any) (*Job, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.enqueue",
		trace.WithAttributes(attribute.String("job.kind", kind)))
	defer span.End()

	if kind == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "job requires a kind")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "job payload is not serializable")
	}

	var tenant id.TenantID
	if bound, ok := requestcontext.Tenant(ctx); ok {
		tenant = bound
	}

	now := requestcontext.Now(ctx)
	job := &Job{
		ID:        uuid.New(),
		Tenant:    tenant,
		Kind:      kind,
		Payload:   raw,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue job")
	}
	s.logger.InfoContext(ctx, "job enqueued", "job_id", job.ID, "kind", kind)
	return job, nil
}

// ConfirmSucceeded marks a job succeeded from an out-of-band signal, e.g. a
// provider webhook confirming the work landed after the job itself gave up.
// Idempotent: confirming an already succeeded job is a no-op.
func (s *Service) ConfirmSucceeded(ctx context.Context, jobID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "jobs.confirm_succeeded")
	defer span.End()

	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load job")
	}
	if job.Status == StatusSucceeded {
		return nil
	}

	job.Status = StatusSucceeded
	job.LastError = ""
	job.ClaimedAt = nil
	job.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, job); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm job")
	}
	s.logger.InfoContext(ctx, "job confirmed out of band", "job_id", job.ID, "kind", job.Kind)
	return nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load job")
	}
	return job, nil
}
