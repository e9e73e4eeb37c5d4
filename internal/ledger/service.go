package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ledgermetrics "keel/internal/ledger/metrics"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/requestcontext"
)

// maxAppendAttempts bounds the tail race retry loop. Exhausting it surfaces
// as a LedgerAppendConflict and the caller's transaction must roll back.
const maxAppendAttempts = 5

// List limits for the read surface.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Store persists chain entries. Insert must enforce uniqueness on
// (chain, prev_hash) and on entry_hash, returning sentinel.ErrConflict when
// either rejects the write — that signal drives the append retry.
type Store interface {
	// Tail returns the entry hash of the chain's current tail, or GenesisHash
	// for an empty chain.
	Tail(ctx context.Context, chain ChainID) (string, error)
	Insert(ctx context.Context, entry *Entry) error
	// List returns entries newest-first, up to limit.
	List(ctx context.Context, chain ChainID, limit int) ([]Entry, error)
	// Chain returns all of a chain's entries in no particular order;
	// OrderChain derives linkage order.
	Chain(ctx context.Context, chain ChainID) ([]Entry, error)
}

// TailCache is an optional hint for the chain tail, saving the tail lookup on
// the happy path. Correctness never depends on it: a stale hint just costs one
// conflicted insert before the store is consulted.
type TailCache interface {
	Get(ctx context.Context, chain ChainID) (string, bool)
	Set(ctx context.Context, chain ChainID, hash string)
}

// Service is the append/read surface of the audit ledger.
type Service struct {
	store   Store
	cache   TailCache
	metrics *ledgermetrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Service)

func WithTailCache(cache TailCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("keel/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes one entry to the chain selected by draft.Scope. Tenant-scoped
// entries always land on the ambient tenant's chain; the caller cannot choose
// a chain directly. Actor, correlation and timestamp default from context.
//
// The append races on the storage uniqueness constraint instead of taking a
// lock: read the tail, hash against it, insert; if another appender claimed
// that position first, re-read and retry. Appenders to different chains never
// contend.
func (s *Service) Append(ctx context.Context, draft Entry) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(attribute.String("ledger.action", draft.Action)))
	defer span.End()

	switch draft.Scope {
	case ScopeTenant:
		tenant, ok := requestcontext.Tenant(ctx)
		if !ok {
			return nil, dErrors.New(dErrors.CodeMissingTenant, "tenant-scoped ledger append requires a bound tenant")
		}
		draft.Tenant = tenant
		draft.Chain = TenantChain(tenant)
	case ScopePlatform:
		draft.Tenant = id.TenantID{}
		draft.Chain = PlatformChain
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown ledger scope")
	}
	if draft.Action == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ledger entry requires an action")
	}

	if draft.Timestamp.IsZero() {
		draft.Timestamp = requestcontext.Now(ctx)
	}
	draft.Timestamp = draft.Timestamp.UTC()
	if draft.Actor == "" {
		if identity, ok := requestcontext.Identity(ctx); ok {
			draft.Actor = identity.Actor.String()
		}
	}
	if draft.RequestID == "" {
		draft.RequestID = requestcontext.RequestID(ctx)
	}
	if draft.ClientIP == "" {
		draft.ClientIP = requestcontext.ClientIP(ctx)
	}
	if draft.UserAgent == "" {
		draft.UserAgent = requestcontext.UserAgent(ctx)
	}

	span.SetAttributes(attribute.String("ledger.chain", string(draft.Chain)))

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		tail, err := s.tail(ctx, draft.Chain, attempt)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain tail")
		}

		draft.PrevHash = tail
		hash, err := ComputeEntryHash(tail, draft)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash ledger entry")
		}
		draft.EntryHash = hash
		draft.ID = uuid.New()

		err = s.store.Insert(ctx, &draft)
		if err == nil {
			if s.cache != nil {
				s.cache.Set(ctx, draft.Chain, draft.EntryHash)
			}
			s.metrics.IncAppends()
			return &draft, nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			// Another appender won this position; re-read the tail and retry.
			s.metrics.IncAppendConflicts()
			continue
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert ledger entry")
	}

	s.metrics.IncAppendsExhausted()
	s.logger.ErrorContext(ctx, "ledger append exhausted retry budget",
		"chain", string(draft.Chain),
		"action", draft.Action,
		"request_id", draft.RequestID,
	)
	return nil, dErrors.New(dErrors.CodeLedgerConflict, "ledger append lost the tail race repeatedly")
}

// tail resolves the chain tail, consulting the cache hint only on the first
// attempt. After a conflict the store is authoritative.
func (s *Service) tail(ctx context.Context, chain ChainID, attempt int) (string, error) {
	if attempt == 1 && s.cache != nil {
		if hash, ok := s.cache.Get(ctx, chain); ok {
			return hash, nil
		}
	}
	return s.store.Tail(ctx, chain)
}

// ListTenant returns the ambient tenant's entries newest-first. The limit is
// clamped to [1, MaxListLimit]; zero or negative selects the default.
func (s *Service) ListTenant(ctx context.Context, limit int) ([]Entry, error) {
	tenant, ok := requestcontext.Tenant(ctx)
	if !ok {
		// Fail closed: no binding reads as an empty trail, not all tenants.
		return nil, nil
	}
	return s.store.List(ctx, TenantChain(tenant), clampLimit(limit))
}

// ListPlatform returns platform-chain entries newest-first. Callers must gate
// this behind the platform-administrator check.
func (s *Service) ListPlatform(ctx context.Context, limit int) ([]Entry, error) {
	return s.store.List(ctx, PlatformChain, clampLimit(limit))
}

// VerifyChain replays a whole chain and reports the first integrity failure.
func (s *Service) VerifyChain(ctx context.Context, chain ChainID) error {
	entries, err := s.store.Chain(ctx, chain)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain")
	}
	if err := Verify(entries); err != nil {
		s.metrics.IncVerificationErrors()
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "ledger chain failed verification")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
