package billing

import (
	"context"
	"encoding/json"
	"log/slog"

	"keel/internal/platform/kafka/consumer"
	id "keel/pkg/domain"
	"keel/pkg/requestcontext"
)

// PaymentHandler consumes payment events from the payments topic and applies
// them through the billing service. Malformed messages are logged and
// committed; only processing failures hold a record back for redelivery.
type PaymentHandler struct {
	svc    *Service
	logger *slog.Logger
}

func NewPaymentHandler(svc *Service, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// paymentPayload matches the JSON structure emitted by the payment provider.
type paymentPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	TenantID  string `json:"tenant_id"`
	InvoiceID string `json:"invoice_id"`
}

func (h *PaymentHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload paymentPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.WarnContext(ctx, "skipping malformed payment event",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}
	if payload.EventType != "payment.paid" {
		return nil
	}
	if payload.EventID == "" {
		h.logger.WarnContext(ctx, "skipping payment event without event_id",
			"topic", msg.Topic,
		)
		return nil
	}

	tenant, err := id.ParseTenantID(payload.TenantID)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping payment event with invalid tenant",
			"event_id", payload.EventID,
			"error", err,
		)
		return nil
	}
	invoice, err := id.ParseInvoiceID(payload.InvoiceID)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping payment event with invalid invoice",
			"event_id", payload.EventID,
			"error", err,
		)
		return nil
	}

	ctx = requestcontext.Bind(ctx, tenant)
	return h.svc.HandlePaymentPaid(ctx, PaymentEvent{
		EventID: payload.EventID,
		Invoice: invoice,
	})
}
