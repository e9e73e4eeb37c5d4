package fiscal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/fiscal"
	id "keel/pkg/domain"
)

func testDocument() *fiscal.Document {
	return &fiscal.Document{
		ID:      id.DocumentID(uuid.New()),
		Tenant:  id.TenantID(uuid.New()),
		Invoice: id.InvoiceID(uuid.New()),
	}
}

func TestHTTPProviderSubmit(t *testing.T) {
	t.Run("returns the provider reference", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_ = json.NewEncoder(w).Encode(map[string]string{"provider_ref": "ref-42"})
		}))
		defer srv.Close()

		provider := fiscal.NewHTTPProvider(srv.URL, srv.Client())
		ref, err := provider.Submit(context.Background(), testDocument())
		require.NoError(t, err)
		assert.Equal(t, "ref-42", ref)
		assert.Equal(t, "/documents", gotPath)
	})

	t.Run("unprocessable means unsupported", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		provider := fiscal.NewHTTPProvider(srv.URL, srv.Client())
		_, err := provider.Submit(context.Background(), testDocument())
		assert.ErrorIs(t, err, fiscal.ErrUnsupported)
	})

	t.Run("no configured gateway means unsupported", func(t *testing.T) {
		provider := fiscal.NewHTTPProvider("", nil)
		_, err := provider.Submit(context.Background(), testDocument())
		assert.ErrorIs(t, err, fiscal.ErrUnsupported)
	})

	t.Run("an outage trips the breaker and fails fast", func(t *testing.T) {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		provider := fiscal.NewHTTPProvider(srv.URL, srv.Client())
		for range 5 {
			_, err := provider.Submit(context.Background(), testDocument())
			require.Error(t, err)
		}
		require.Equal(t, 5, hits)

		// Breaker is open now; the gateway is not called again during cooldown.
		_, err := provider.Submit(context.Background(), testDocument())
		assert.ErrorIs(t, err, fiscal.ErrProviderDown)
		assert.Equal(t, 5, hits)
	})
}
