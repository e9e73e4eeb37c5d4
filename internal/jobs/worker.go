package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"keel/internal/jobs/metrics"
	"keel/pkg/platform/sentinel"
	"keel/pkg/requestcontext"
)

// Handler executes one kind of job. A plain error is treated as recoverable
// and re-queued with backoff; wrap with Terminal to fail fast.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

// Config tunes the worker pool.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	// StaleAfter is how long a processing claim may sit before another
	// worker may assume the claimant died and take the job over.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	return c
}

// Worker drains the job store with a fixed-size pool.
type Worker struct {
	store    Store
	cfg      Config
	handlers map[string]Handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewWorker(store Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		store:    store,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  m,
	}
}

// Register installs the handler for a job kind. Not safe to call after Run.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				claimed, err := w.Tick(ctx)
				if err != nil {
					w.logger.ErrorContext(ctx, "job tick failed", "error", err)
				}
				if claimed {
					// More work may be waiting; skip the idle sleep.
					continue
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(w.cfg.PollInterval):
				}
			}
		})
	}
	return g.Wait()
}

// Tick claims and runs at most one job. It reports whether a job was claimed,
// so callers (and tests) can drain the store deterministically.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	now := requestcontext.Now(ctx)
	job, err := w.store.Claim(ctx, now, now.Add(-w.cfg.StaleAfter))
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	w.run(ctx, job)
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *Job) {
	if !job.Tenant.IsNil() {
		ctx = requestcontext.Bind(ctx, job.Tenant)
	}

	handler, ok := w.handlers[job.Kind]
	execErr := Terminal(fmt.Errorf("no handler registered for kind %q", job.Kind))
	if ok {
		started := time.Now()
		execErr = handler.Execute(ctx, job)
		w.metrics.ObserveDuration(job.Kind, time.Since(started).Seconds())
	}

	now := requestcontext.Now(ctx)
	job.UpdatedAt = now
	job.ClaimedAt = nil

	switch {
	case execErr == nil:
		job.Status = StatusSucceeded
		job.LastError = ""
		w.metrics.IncSucceeded(job.Kind)
	case IsTerminal(execErr):
		job.Status = StatusFailedTerminal
		job.LastError = execErr.Error()
		w.metrics.IncTerminal(job.Kind)
		w.logger.ErrorContext(ctx, "job failed terminally",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"error", execErr,
		)
	case job.Attempts >= w.cfg.MaxAttempts:
		job.Status = StatusFailedTerminal
		job.LastError = execErr.Error()
		w.metrics.IncTerminal(job.Kind)
		w.logger.ErrorContext(ctx, "job exhausted its attempt budget",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"error", execErr,
		)
	default:
		job.Status = StatusFailed
		job.LastError = execErr.Error()
		job.NextRetryAt = now.Add(Backoff(w.cfg.BackoffBase, w.cfg.BackoffCap, job.Attempts))
		w.metrics.IncRetried(job.Kind)
		w.logger.WarnContext(ctx, "job failed, will retry",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"next_retry_at", job.NextRetryAt,
			"error", execErr,
		)
	}

	switch err := w.store.Release(ctx, job); {
	case errors.Is(err, sentinel.ErrConflict):
		// An out-of-band confirmation settled the job while it ran; the
		// settled state wins over this worker's outcome.
		w.logger.InfoContext(ctx, "job settled out of band, dropping worker outcome",
			"job_id", job.ID,
			"kind", job.Kind,
		)
	case err != nil:
		w.logger.ErrorContext(ctx, "failed to persist job outcome",
			"job_id", job.ID,
			"kind", job.Kind,
			"error", err,
		)
	}
}
