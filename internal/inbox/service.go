package inbox

import (
	"context"
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

// Service is the idempotency gate for event-driven entry points.
type Service struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("keel/inbox"),
	}
}

// RecordIfNew marks an event as seen. It returns true on first delivery;
// false means a duplicate, which the caller must absorb by skipping all
// further processing and reporting success. Call it inside the transaction
// whose side effects it guards.
func (s *Service) RecordIfNew(ctx context.Context, tenant id.TenantID, eventID, eventType string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "inbox.record",
		trace.WithAttributes(attribute.String("event.type", eventType)))
	defer span.End()

	if eventID == "" {
		return false, dErrors.New(dErrors.CodeBadRequest, "event requires an idempotency key")
	}

	record := &Record{
		ID:         uuid.New(),
		Tenant:     tenant,
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: requestcontext.Now(ctx),
	}
	err := s.store.Insert(ctx, record)
	if errors.Is(err, sentinel.ErrDuplicate) {
		// Redelivery is expected under at-least-once semantics; not an error.
		s.logger.InfoContext(ctx, "duplicate event absorbed",
			"event_id", eventID,
			"event_type", eventType,
		)
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record inbound event")
	}
	return true, nil
}
