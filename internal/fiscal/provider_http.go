package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"keel/pkg/platform/circuit"
)

// ErrProviderDown reports a tripped provider breaker. Submissions fail fast
// and stay retryable; the worker's backoff gives the gateway room to recover.
var ErrProviderDown = errors.New("fiscal provider circuit open")

// HTTPProvider submits issuance requests to the fiscal authority's REST
// gateway. The authorization outcome arrives asynchronously on the webhook.
// A circuit breaker keeps a gateway outage from burning every job's retry
// budget on timeouts.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker

	mu      sync.Mutex
	retryAt time.Time
}

// breakerCooldown is how long an open breaker fails fast before probing the
// gateway again.
const breakerCooldown = 30 * time.Second

func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: circuit.New("fiscal-provider", circuit.WithFailureThreshold(5)),
	}
}

type submitRequest struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
	InvoiceID  string `json:"invoice_id"`
}

type submitResponse struct {
	ProviderRef string `json:"provider_ref"`
}

func (p *HTTPProvider) Submit(ctx context.Context, doc *Document) (string, error) {
	if p.baseURL == "" {
		return "", ErrUnsupported
	}
	if p.breaker.IsOpen() && !p.probeDue() {
		return "", ErrProviderDown
	}

	body, err := json.Marshal(submitRequest{
		DocumentID: doc.ID.String(),
		TenantID:   doc.Tenant.String(),
		InvoiceID:  doc.Invoice.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/documents", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure()
		return "", fmt.Errorf("submit fiscal document: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// A definitive answer, not an outage.
		p.breaker.RecordSuccess()
		return "", ErrUnsupported
	case resp.StatusCode >= http.StatusInternalServerError:
		p.recordFailure()
		return "", fmt.Errorf("fiscal provider returned status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return "", fmt.Errorf("fiscal provider returned status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if out.ProviderRef == "" {
		return "", errors.New("fiscal provider returned no reference")
	}
	p.breaker.RecordSuccess()
	return out.ProviderRef, nil
}

func (p *HTTPProvider) probeDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !time.Now().Before(p.retryAt)
}

func (p *HTTPProvider) recordFailure() {
	if open, _ := p.breaker.RecordFailure(); open {
		p.mu.Lock()
		p.retryAt = time.Now().Add(breakerCooldown)
		p.mu.Unlock()
	}
}
