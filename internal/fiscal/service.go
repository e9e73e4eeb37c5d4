package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"keel/internal/access"
	"keel/internal/jobs"
	"keel/internal/ledger"
	id "keel/pkg/domain"
	dErrors "keel/pkg/domain-errors"
	"keel/pkg/platform/sentinel"
	"keel/pkg/platform/tx"
	"keel/pkg/requestcontext"
)

// JobKindIssue is the submission job kind.
const JobKindIssue = "fiscal.issue"

type issuePayload struct {
	DocumentID string `json:"document_id"`
}

// Enqueuer is the job surface the fiscal service needs. Satisfied by
// jobs.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (*jobs.Job, error)
	ConfirmSucceeded(ctx context.Context, jobID uuid.UUID) error
}

// Inbox is the idempotency gate for provider webhook deliveries.
type Inbox interface {
	RecordIfNew(ctx context.Context, tenant id.TenantID, eventID, eventType string) (bool, error)
}

// Service requests fiscal documents, submits them through the provider and
// settles provider confirmations.
type Service struct {
	store    Store
	access   *access.Service
	ledger   *ledger.Service
	jobs     Enqueuer
	inbox    Inbox
	provider Provider
	runner   tx.Runner
	logger   *slog.Logger
}

func NewService(store Store, accessSvc *access.Service, ledgerSvc *ledger.Service, enqueuer Enqueuer, inbox Inbox, provider Provider, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		access:   accessSvc,
		ledger:   ledgerSvc,
		jobs:     enqueuer,
		inbox:    inbox,
		provider: provider,
		runner:   runner,
		logger:   logger,
	}
}

// RequestDocument creates a document and queues its submission. The record,
// the job and the audit entry commit together.
func (s *Service) RequestDocument(ctx context.Context, invoiceID id.InvoiceID) (*Document, error) {
	if err := s.access.Authorize(ctx, access.ResourceFiscalDocuments, http.MethodPost); err != nil {
		return nil, err
	}
	if invoiceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "fiscal document requires an invoice id")
	}

	now := requestcontext.Now(ctx)
	doc := &Document{
		ID:        id.DocumentID(uuid.New()),
		Invoice:   invoiceID,
		Status:    StatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		job, err := s.jobs.Enqueue(ctx, JobKindIssue, issuePayload{DocumentID: doc.ID.String()})
		if err != nil {
			return err
		}
		doc.JobID = job.ID
		if err := s.store.Create(ctx, doc); err != nil {
			return storeError(err, "failed to create fiscal document")
		}
		after, _ := json.Marshal(map[string]any{
			"invoice_id": invoiceID.String(),
			"status":     string(StatusRequested),
		})
		_, err = s.ledger.Append(ctx, ledger.Entry{
			Scope:      ledger.ScopeTenant,
			Action:     ledger.ActionFiscalRequested,
			Resource:   "fiscal_document",
			ResourceID: doc.ID.String(),
			After:      after,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// JobHandler returns the submission handler for the worker pool. An
// unsupported document is a terminal failure; provider outages are plain
// errors and retried with backoff.
func (s *Service) JobHandler() jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		var payload issuePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return jobs.Terminal(err)
		}
		docID, err := id.ParseDocumentID(payload.DocumentID)
		if err != nil {
			return jobs.Terminal(err)
		}

		doc, err := s.store.Get(ctx, docID)
		if err != nil {
			return storeError(err, "failed to load fiscal document for submission")
		}
		if doc.Status != StatusRequested {
			// A stale re-claim after the original worker already submitted.
			return nil
		}

		ref, err := s.provider.Submit(ctx, doc)
		if errors.Is(err, ErrUnsupported) {
			txErr := s.runner.RunInTx(ctx, func(ctx context.Context) error {
				doc.Status = StatusRejected
				doc.Reason = err.Error()
				doc.UpdatedAt = requestcontext.Now(ctx)
				if updateErr := s.store.Update(ctx, doc); updateErr != nil {
					return storeError(updateErr, "failed to reject fiscal document")
				}
				return s.appendOutcome(ctx, doc)
			})
			if txErr != nil {
				return txErr
			}
			return jobs.Terminal(err)
		}
		if err != nil {
			return err
		}

		return s.runner.RunInTx(ctx, func(ctx context.Context) error {
			doc.Status = StatusSubmitted
			doc.ProviderRef = ref
			doc.UpdatedAt = requestcontext.Now(ctx)
			if err := s.store.Update(ctx, doc); err != nil {
				return storeError(err, "failed to mark fiscal document submitted")
			}
			return nil
		})
	})
}

// Settle applies a provider outcome delivered by webhook exactly once. The
// inbox record and the settlement are one unit of work: a failed settlement
// rolls the dedup marker back with it, so the provider's retry is processed
// fresh instead of being absorbed as a duplicate. Returns false when the
// event id was already seen.
func (s *Service) Settle(ctx context.Context, eventID string, docID id.DocumentID, authorized bool, reason string) (bool, error) {
	if eventID == "" {
		return false, dErrors.New(dErrors.CodeBadRequest, "webhook requires an event id")
	}
	tenant, ok := requestcontext.Tenant(ctx)
	if !ok {
		return false, dErrors.New(dErrors.CodeMissingTenant, "webhook requires a bound tenant")
	}

	var fresh bool
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.inbox.RecordIfNew(ctx, tenant, eventID, "fiscal.outcome")
		if err != nil || !fresh {
			return err
		}
		return s.settle(ctx, docID, authorized, reason)
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

// Confirm settles a provider outcome directly, without an idempotency key.
// Re-delivering the same outcome is a no-op, and a confirmation that arrives
// after the submission job gave up still settles the job.
func (s *Service) Confirm(ctx context.Context, docID id.DocumentID, authorized bool, reason string) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		return s.settle(ctx, docID, authorized, reason)
	})
}

func (s *Service) settle(ctx context.Context, docID id.DocumentID, authorized bool, reason string) error {
	target := StatusAuthorized
	if !authorized {
		target = StatusRejected
	}

	doc, err := s.store.Get(ctx, docID)
	if err != nil {
		return storeError(err, "failed to load fiscal document for confirmation")
	}
	if doc.Status == target {
		return nil
	}
	if doc.Status == StatusAuthorized || doc.Status == StatusRejected {
		return dErrors.New(dErrors.CodeConflict, "fiscal document outcome already settled")
	}

	doc.Status = target
	doc.Reason = reason
	doc.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, doc); err != nil {
		return storeError(err, "failed to settle fiscal document")
	}
	if err := s.appendOutcome(ctx, doc); err != nil {
		return err
	}
	if authorized {
		// The provider did the work even if the job exhausted its retries.
		if err := s.jobs.ConfirmSucceeded(ctx, doc.JobID); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "fiscal document settled",
		"document_id", doc.ID.String(),
		"status", string(doc.Status),
	)
	return nil
}

func (s *Service) GetDocument(ctx context.Context, docID id.DocumentID) (*Document, error) {
	if err := s.access.Authorize(ctx, access.ResourceFiscalDocuments, http.MethodGet); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, docID)
	if err != nil {
		return nil, storeError(err, "failed to load fiscal document")
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]*Document, error) {
	if err := s.access.Authorize(ctx, access.ResourceFiscalDocuments, http.MethodGet); err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list fiscal documents")
	}
	return docs, nil
}

func (s *Service) appendOutcome(ctx context.Context, doc *Document) error {
	action := ledger.ActionFiscalAuthorized
	if doc.Status == StatusRejected {
		action = ledger.ActionFiscalRejected
	}
	after, _ := json.Marshal(map[string]any{
		"status":       string(doc.Status),
		"provider_ref": doc.ProviderRef,
		"reason":       doc.Reason,
	})
	_, err := s.ledger.Append(ctx, ledger.Entry{
		Scope:      ledger.ScopeTenant,
		Action:     action,
		Resource:   "fiscal_document",
		ResourceID: doc.ID.String(),
		After:      after,
	})
	return err
}

func storeError(err error, msg string) error {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "fiscal document not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "fiscal document already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
