package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vlabcloud/vlab/internal/accounting/domain"
	"github.com/vlabcloud/vlab/internal/config"
	"go.uber.org/zap"
)

func newClient(baseURL string) domain.Service {
	return NewHTTPClient(Params{
		Config: config.Config{
			Accounting: config.AccountingConfig{
				BaseURL:   baseURL,
				AuthToken: "secret",
			},
		},
		Log: zap.NewNop(),
	})
}

func creditRequestFixture() domain.CreditRequest {
	return domain.CreditRequest{
		VirtualLabID: 100,
		UserID:       200,
		Amount:       50,
		Reference:    "usage-1",
		ExpiresAt:    time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCredit_Success(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/ledger/credits", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": "acct_tx_9",
			"amount":         50,
		})
	}))
	defer ts.Close()

	tx, err := newClient(ts.URL).Credit(context.Background(), creditRequestFixture())
	assert.NoError(t, err)
	assert.Equal(t, "acct_tx_9", tx.ID)
	assert.Equal(t, int64(50), tx.Amount)

	assert.Equal(t, "100", got["virtual_lab_id"])
	assert.Equal(t, "usage-1", got["reference"])
	assert.Equal(t, "2025-09-01T00:00:00Z", got["expires_at"])
}

func TestCredit_ServerErrorIsAmbiguous(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newClient(ts.URL).Credit(context.Background(), creditRequestFixture())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestCredit_ClientErrorIsDefinitive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	_, err := newClient(ts.URL).Credit(context.Background(), creditRequestFixture())
	assert.ErrorIs(t, err, domain.ErrRejected)
}

func TestCredit_MissingTransactionID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"amount": 50})
	}))
	defer ts.Close()

	_, err := newClient(ts.URL).Credit(context.Background(), creditRequestFixture())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestCredit_UnreachableBackend(t *testing.T) {
	_, err := newClient("http://127.0.0.1:1").Credit(context.Background(), creditRequestFixture())
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	_, err = newClient("").Credit(context.Background(), creditRequestFixture())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestCredit_RejectsInvalidRequest(t *testing.T) {
	req := creditRequestFixture()
	req.Amount = 0
	_, err := newClient("http://example.invalid").Credit(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrRejected)
}
