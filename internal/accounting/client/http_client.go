package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vlabcloud/vlab/internal/accounting/domain"
	"github.com/vlabcloud/vlab/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Holder *config.RedemptionConfigHolder
	Log    *zap.Logger
}

type httpClient struct {
	baseURL   string
	authToken string
	holder    *config.RedemptionConfigHolder
	log       *zap.Logger
	client    *http.Client
}

func NewHTTPClient(p Params) domain.Service {
	return &httpClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(p.Config.Accounting.BaseURL), "/"),
		authToken: strings.TrimSpace(p.Config.Accounting.AuthToken),
		holder:    p.Holder,
		log:       p.Log.Named("accounting.client"),
		client:    &http.Client{},
	}
}

type creditRequest struct {
	VirtualLabID string `json:"virtual_lab_id"`
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	Reference    string `json:"reference"`
	ExpiresAt    string `json:"expires_at"`
}

type creditResponse struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

// Credit posts one credit grant. Exactly one attempt per call: an ambiguous
// outcome is reported as ErrUnavailable and resolved by the caller, never
// papered over with a retry that could double-grant.
func (c *httpClient) Credit(ctx context.Context, req domain.CreditRequest) (*domain.Transaction, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: base url not configured", domain.ErrUnavailable)
	}
	if req.Amount <= 0 || req.Reference == "" {
		return nil, fmt.Errorf("%w: invalid credit request", domain.ErrRejected)
	}

	timeout := config.DefaultRedemptionConfig().AccountingTimeout()
	if c.holder != nil {
		timeout = c.holder.Current().AccountingTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(creditRequest{
		VirtualLabID: req.VirtualLabID.String(),
		UserID:       req.UserID.String(),
		Amount:       req.Amount,
		Reference:    req.Reference,
		ExpiresAt:    req.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ledger/credits", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.log.Warn("accounting credit call failed",
			zap.String("reference", req.Reference),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", domain.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: status %d", domain.ErrRejected, resp.StatusCode)
	}

	var body creditResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if body.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", domain.ErrUnavailable)
	}

	return &domain.Transaction{
		ID:     body.TransactionID,
		Amount: body.Amount,
	}, nil
}
