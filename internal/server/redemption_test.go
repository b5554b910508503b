package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	accountingdomain "github.com/vlabcloud/vlab/internal/accounting/domain"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	redemptiondomain "github.com/vlabcloud/vlab/internal/redemption/domain"
)

type fakeRedemptionService struct {
	result     *redemptiondomain.RedemptionResult
	err        error
	lastRedeem redemptiondomain.RedeemRequest
}

func (f *fakeRedemptionService) Redeem(_ context.Context, req redemptiondomain.RedeemRequest) (*redemptiondomain.RedemptionResult, error) {
	f.lastRedeem = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRedemptionService) CanRedeem(_ context.Context, req redemptiondomain.RedeemRequest) (*redemptiondomain.CanRedeemResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &redemptiondomain.CanRedeemResult{CanRedeem: true, Code: req.Code, CreditsAmount: 100}, nil
}

func (f *fakeRedemptionService) Stats(_ context.Context, codeID snowflake.ID) (*redemptiondomain.CodeStats, error) {
	return &redemptiondomain.CodeStats{PromotionCodeID: codeID}, nil
}

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(_ context.Context, _ string, _ string, _ string, _ string) error {
	return nil
}

func newRedeemRouter(svc *fakeRedemptionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	srv := &Server{
		redemptionSvc: svc,
		authzSvc:      allowAllAuthz{},
	}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	lab := router.Group("/v1/virtual-labs/:lab_id", srv.RequireUser())
	lab.POST("/promo-codes/redeem", srv.RedeemPromoCode)
	lab.GET("/promo-codes/can-redeem", srv.CanRedeemPromoCode)
	return router
}

func redeemCall(router *gin.Engine, userID string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/virtual-labs/100/promo-codes/redeem", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUser, userID)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestRedeemPromoCode_Success(t *testing.T) {
	svc := &fakeRedemptionService{
		result: &redemptiondomain.RedemptionResult{
			Code:           "WELCOME100",
			CreditsGranted: 100,
			AccountingTxID: "acct_tx_1",
		},
	}
	router := newRedeemRouter(svc)

	resp := redeemCall(router, "200", `{"code":" welcome100 "}`)
	assert.Equal(t, http.StatusOK, resp.Code)

	var out redemptiondomain.RedemptionResult
	assert.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, int64(100), out.CreditsGranted)

	assert.Equal(t, "WELCOME100", svc.lastRedeem.Code)
	assert.Equal(t, snowflake.ID(200), svc.lastRedeem.UserID)
	assert.Equal(t, snowflake.ID(100), svc.lastRedeem.VirtualLabID)
}

func TestRedeemPromoCode_MissingIdentityHeader(t *testing.T) {
	router := newRedeemRouter(&fakeRedemptionService{})

	resp := redeemCall(router, "", `{"code":"WELCOME100"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRedeemPromoCode_RejectionStatuses(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{"not_found", promodomain.ErrCodeNotFound, http.StatusNotFound, "code_not_found"},
		{"expired", &promodomain.ExpiredError{Code: "X", ValidUntil: time.Now()}, http.StatusUnprocessableEntity, "code_expired"},
		{"already_used", &promodomain.AlreadyUsedError{Code: "X", Limit: 1}, http.StatusUnprocessableEntity, "already_used"},
		{"usage_limit", &promodomain.UsageLimitError{Code: "X", Limit: 5}, http.StatusUnprocessableEntity, "usage_limit_reached"},
		{"accounting", accountingdomain.ErrUnavailable, http.StatusBadGateway, "accounting_failure"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRedeemRouter(&fakeRedemptionService{err: tc.err})

			resp := redeemCall(router, "200", `{"code":"WELCOME100"}`)
			assert.Equal(t, tc.wantStatus, resp.Code)

			var out errorResponse
			assert.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
			assert.Equal(t, tc.wantReason, out.Error.Reason)
		})
	}
}

func TestRedeemPromoCode_RateLimitedSetsRetryAfter(t *testing.T) {
	router := newRedeemRouter(&fakeRedemptionService{
		err: &redemptiondomain.RateLimitedError{
			Limit:      3,
			Window:     30 * time.Minute,
			RetryAfter: 90 * time.Second,
		},
	})

	resp := redeemCall(router, "200", `{"code":"WELCOME100"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "90", resp.Header().Get("Retry-After"))

	var out errorResponse
	assert.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "rate_limited", out.Error.Type)
}

func TestCanRedeemPromoCode(t *testing.T) {
	router := newRedeemRouter(&fakeRedemptionService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/virtual-labs/100/promo-codes/can-redeem?code=welcome100", nil)
	req.Header.Set(HeaderUser, "200")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	var out redemptiondomain.CanRedeemResult
	assert.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.True(t, out.CanRedeem)

	req = httptest.NewRequest(http.MethodGet, "/v1/virtual-labs/100/promo-codes/can-redeem", nil)
	req.Header.Set(HeaderUser, "200")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
