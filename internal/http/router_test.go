package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/access"
	"keel/internal/billing"
	billinghandler "keel/internal/billing/handler"
	"keel/internal/commission"
	commissionhandler "keel/internal/commission/handler"
	"keel/internal/fiscal"
	fiscalhandler "keel/internal/fiscal/handler"
	httpapi "keel/internal/http"
	"keel/internal/inbox"
	"keel/internal/jobs"
	"keel/internal/ledger"
	ledgerhandler "keel/internal/ledger/handler"
	ledgermem "keel/internal/ledger/store/memory"
	"keel/internal/tenant"
	tenanthandler "keel/internal/tenant/handler"
	id "keel/pkg/domain"
	"keel/pkg/platform/middleware/auth"
	tenantmw "keel/pkg/platform/middleware/tenant"
	"keel/pkg/platform/tx"
	"keel/pkg/platform/webhook"
)

var webhookSecret = []byte("test-webhook-secret")

type env struct {
	router    http.Handler
	validator *auth.Validator
	tenants   *tenant.Service
	jobs      *jobs.InMemory
	worker    *jobs.Worker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.Default()
	runner := tx.Passthrough{}

	ledgerSvc := ledger.NewService(ledgermem.New())
	accessSvc := access.NewService(access.NewInMemoryOverrides())
	inboxSvc := inbox.NewService(inbox.NewInMemory(), logger)
	jobStore := jobs.NewInMemory()
	jobsSvc := jobs.NewService(jobStore, logger)
	commissionSvc := commission.NewService(commission.NewInMemory(), accessSvc, ledgerSvc, runner, logger)
	billingSvc := billing.NewService(billing.NewInMemory(), accessSvc, ledgerSvc, inboxSvc, commissionSvc, runner, logger)
	fiscalSvc := fiscal.NewService(fiscal.NewInMemory(), accessSvc, ledgerSvc, jobsSvc, inboxSvc, fiscal.NewHTTPProvider("", nil), runner, logger)
	tenantSvc := tenant.NewService(tenant.NewInMemory(), accessSvc, ledgerSvc, runner, logger)

	worker := jobs.NewWorker(jobStore, jobs.Config{MaxAttempts: 3}, logger, nil)
	worker.Register(fiscal.JobKindIssue, fiscalSvc.JobHandler())

	validator := auth.NewValidator([]byte("router-test-secret"), "keel")
	router := httpapi.NewRouter(httpapi.Deps{
		Logger:        logger,
		Validator:     validator,
		TenantChecker: tenantSvc,
		Commission:    commissionhandler.New(commissionSvc, logger),
		Billing:       billinghandler.New(billingSvc, commissionSvc, logger),
		Fiscal:        fiscalhandler.New(fiscalSvc, webhookSecret, logger),
		Ledger:        ledgerhandler.New(ledgerSvc, accessSvc, logger),
		Tenants:       tenanthandler.New(tenantSvc, logger),
	})
	return &env{router: router, validator: validator, tenants: tenantSvc, jobs: jobStore, worker: worker}
}

func (e *env) token(t *testing.T, identity id.Identity) string {
	t.Helper()
	token, err := e.validator.Sign(identity, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *env) superToken(t *testing.T) string {
	return e.token(t, id.Identity{Actor: id.UserID(uuid.New()), Superuser: true})
}

func (e *env) memberToken(t *testing.T, tenantID id.TenantID, role id.Role) string {
	return e.token(t, id.Identity{
		Actor:       id.UserID(uuid.New()),
		Memberships: []id.Membership{{Tenant: tenantID, Role: role, Active: true}},
	})
}

type request struct {
	method string
	path   string
	body   any
	token  string
	tenant string
}

func (e *env) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.tenant != "" {
		req.Header.Set(tenantmw.HeaderTenantID, r.tenant)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// createTenant provisions an active tenant through the admin API.
func (e *env) createTenant(t *testing.T, name string) id.TenantID {
	t.Helper()
	rec := e.do(t, request{
		method: http.MethodPost,
		path:   "/platform/tenants",
		body:   map[string]string{"name": name},
		token:  e.superToken(t),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[tenant.Tenant](t, rec)
	return created.ID
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, request{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	t.Run("data plane requires a token", func(t *testing.T) {
		rec := e.do(t, request{method: http.MethodGet, path: "/commission/plans"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		rec := e.do(t, request{method: http.MethodGet, path: "/commission/plans", token: "garbage"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("every response echoes a request id", func(t *testing.T) {
		rec := e.do(t, request{method: http.MethodGet, path: "/healthz"})
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}

func TestTenantControlPlane(t *testing.T) {
	e := newEnv(t)

	t.Run("superuser provisions and suspends a tenant", func(t *testing.T) {
		tenantID := e.createTenant(t, "Acme Brokerage")

		rec := e.do(t, request{
			method: http.MethodPost,
			path:   fmt.Sprintf("/platform/tenants/%s/suspend", tenantID),
			token:  e.superToken(t),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		suspended := decode[tenant.Tenant](t, rec)
		assert.Equal(t, tenant.StatusSuspended, suspended.Status)

		// A suspended tenant is cut off at the middleware.
		member := e.memberToken(t, tenantID, id.RoleOwner)
		rec = e.do(t, request{
			method: http.MethodGet,
			path:   "/commission/plans",
			token:  member,
			tenant: tenantID.String(),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tenant members cannot reach the control plane", func(t *testing.T) {
		tenantID := e.createTenant(t, "Globex Insurance")
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/platform/tenants",
			body:   map[string]string{"name": "Sneaky"},
			token:  e.memberToken(t, tenantID, id.RoleOwner),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		e.createTenant(t, "Initech")
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/platform/tenants",
			body:   map[string]string{"name": "initech"},
			token:  e.superToken(t),
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestCommissionPlanRoutes(t *testing.T) {
	e := newEnv(t)
	tenantID := e.createTenant(t, "Acme Brokerage")
	admin := e.memberToken(t, tenantID, id.RoleAdmin)

	t.Run("admin creates and reads a plan", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/commission/plans",
			body:   map[string]any{"name": "Fleet", "rate_basis_points": 1000},
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		plan := decode[commission.Plan](t, rec)
		assert.Equal(t, tenantID, plan.Tenant)

		rec = e.do(t, request{
			method: http.MethodGet,
			path:   "/commission/plans/" + plan.ID.String(),
			token:  admin,
			tenant: tenantID.String(),
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("viewer cannot create plans", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/commission/plans",
			body:   map[string]any{"name": "Side", "rate_basis_points": 100},
			token:  e.memberToken(t, tenantID, id.RoleViewer),
			tenant: tenantID.String(),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("another tenant sees nothing", func(t *testing.T) {
		otherID := e.createTenant(t, "Globex Insurance")
		rec := e.do(t, request{
			method: http.MethodGet,
			path:   "/commission/plans",
			token:  e.memberToken(t, otherID, id.RoleAdmin),
			tenant: otherID.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		plans := decode[[]commission.Plan](t, rec)
		assert.Empty(t, plans)
	})

	t.Run("invalid rate is a validation error", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/commission/plans",
			body:   map[string]any{"name": "Bad", "rate_basis_points": 20000},
			token:  admin,
			tenant: tenantID.String(),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBillingRoutes(t *testing.T) {
	e := newEnv(t)
	tenantID := e.createTenant(t, "Acme Brokerage")
	admin := e.memberToken(t, tenantID, id.RoleAdmin)

	createPlan := func(t *testing.T) commission.Plan {
		t.Helper()
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/commission/plans",
			body:   map[string]any{"name": "Fleet " + uuid.NewString(), "rate_basis_points": 1000},
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[commission.Plan](t, rec)
	}

	createInvoice := func(t *testing.T, plan commission.Plan) billing.Invoice {
		t.Helper()
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/billing/invoices",
			body: map[string]any{
				"plan_id":  plan.ID.String(),
				"customer": "Acme Fleet",
				"lines": []map[string]any{
					{"description": "liability premium", "amount_cents": 20000},
					{"description": "cargo premium", "amount_cents": 5000},
				},
			},
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[billing.Invoice](t, rec)
	}

	t.Run("invoice lifecycle over HTTP", func(t *testing.T) {
		plan := createPlan(t)
		invoice := createInvoice(t, plan)
		assert.Equal(t, int64(25000), invoice.TotalCents)

		// Pay it through the ingestion endpoint.
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   fmt.Sprintf("/billing/invoices/%s/payments", invoice.ID),
			body:   map[string]string{"event_id": "pay-1"},
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		rec = e.do(t, request{
			method: http.MethodGet,
			path:   "/billing/invoices/" + invoice.ID.String(),
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		paid := decode[billing.Invoice](t, rec)
		assert.Equal(t, billing.InvoicePaid, paid.Status)

		rec = e.do(t, request{
			method: http.MethodGet,
			path:   fmt.Sprintf("/billing/invoices/%s/accruals", invoice.ID),
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		accruals := decode[[]commission.Accrual](t, rec)
		require.Len(t, accruals, 1)
		assert.Equal(t, int64(2500), accruals[0].AmountCents)
	})

	t.Run("duplicate payment delivery is absorbed", func(t *testing.T) {
		plan := createPlan(t)
		invoice := createInvoice(t, plan)

		for range 2 {
			rec := e.do(t, request{
				method: http.MethodPost,
				path:   fmt.Sprintf("/billing/invoices/%s/payments", invoice.ID),
				body:   map[string]string{"event_id": "pay-dup"},
				token:  admin,
				tenant: tenantID.String(),
			})
			require.Equal(t, http.StatusAccepted, rec.Code)
		}

		rec := e.do(t, request{
			method: http.MethodGet,
			path:   fmt.Sprintf("/billing/invoices/%s/accruals", invoice.ID),
			token:  admin,
			tenant: tenantID.String(),
		})
		accruals := decode[[]commission.Accrual](t, rec)
		assert.Len(t, accruals, 1)
	})
}

func TestLedgerRoutes(t *testing.T) {
	e := newEnv(t)
	tenantID := e.createTenant(t, "Acme Brokerage")
	admin := e.memberToken(t, tenantID, id.RoleAdmin)

	rec := e.do(t, request{
		method: http.MethodPost,
		path:   "/commission/plans",
		body:   map[string]any{"name": "Fleet", "rate_basis_points": 1000},
		token:  admin,
		tenant: tenantID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("admin reads the tenant trail", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodGet,
			path:   "/ledger/entries?limit=10",
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		entries := decode[[]ledger.Entry](t, rec)
		require.Len(t, entries, 1)
		assert.Equal(t, ledger.ActionPlanCreated, entries[0].Action)
	})

	t.Run("operator cannot read the trail", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodGet,
			path:   "/ledger/entries",
			token:  e.memberToken(t, tenantID, id.RoleOperator),
			tenant: tenantID.String(),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("platform chain requires superuser", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodGet,
			path:   "/platform/ledger/entries",
			token:  admin,
			tenant: tenantID.String(),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = e.do(t, request{
			method: http.MethodGet,
			path:   "/platform/ledger/entries",
			token:  e.superToken(t),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		entries := decode[[]ledger.Entry](t, rec)
		require.NotEmpty(t, entries)
		assert.Equal(t, ledger.ActionTenantCreated, entries[0].Action)
	})

	t.Run("platform chain verifies", func(t *testing.T) {
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/platform/ledger/verify",
			token:  e.superToken(t),
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestFiscalWebhook(t *testing.T) {
	e := newEnv(t)
	tenantID := e.createTenant(t, "Acme Brokerage")
	admin := e.memberToken(t, tenantID, id.RoleAdmin)

	requestDocument := func(t *testing.T) fiscal.Document {
		t.Helper()
		rec := e.do(t, request{
			method: http.MethodPost,
			path:   "/fiscal/documents",
			body:   map[string]string{"invoice_id": uuid.NewString()},
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		return decode[fiscal.Document](t, rec)
	}

	signedWebhook := func(t *testing.T, payload map[string]any) *httptest.ResponseRecorder {
		t.Helper()
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/fiscal", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(fiscalhandler.SignatureHeader, webhook.Sign(webhookSecret, body))
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("unsigned callback is rejected", func(t *testing.T) {
		doc := requestDocument(t)
		body, _ := json.Marshal(map[string]any{
			"event_id":    "evt-1",
			"tenant_id":   tenantID.String(),
			"document_id": doc.ID.String(),
			"status":      "authorized",
		})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/fiscal", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("signed authorization settles the document", func(t *testing.T) {
		doc := requestDocument(t)
		rec := signedWebhook(t, map[string]any{
			"event_id":    "evt-auth-1",
			"tenant_id":   tenantID.String(),
			"document_id": doc.ID.String(),
			"status":      "authorized",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = e.do(t, request{
			method: http.MethodGet,
			path:   "/fiscal/documents/" + doc.ID.String(),
			token:  admin,
			tenant: tenantID.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		settled := decode[fiscal.Document](t, rec)
		assert.Equal(t, fiscal.StatusAuthorized, settled.Status)
	})

	t.Run("redelivered callback reports duplicate", func(t *testing.T) {
		doc := requestDocument(t)
		payload := map[string]any{
			"event_id":    "evt-dup-1",
			"tenant_id":   tenantID.String(),
			"document_id": doc.ID.String(),
			"status":      "rejected",
			"reason":      "schema mismatch",
		}
		rec := signedWebhook(t, payload)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

		rec = signedWebhook(t, payload)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())
	})
}
