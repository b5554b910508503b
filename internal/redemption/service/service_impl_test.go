package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	accountingdomain "github.com/vlabcloud/vlab/internal/accounting/domain"
	auditdomain "github.com/vlabcloud/vlab/internal/audit/domain"
	"github.com/vlabcloud/vlab/internal/authorization"
	"github.com/vlabcloud/vlab/internal/clock"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	promorepo "github.com/vlabcloud/vlab/internal/promocode/repository"
	"github.com/vlabcloud/vlab/internal/redemption/domain"
	redemptionrepo "github.com/vlabcloud/vlab/internal/redemption/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockAccounting struct {
	mock.Mock
}

func (m *mockAccounting) Credit(ctx context.Context, req accountingdomain.CreditRequest) (*accountingdomain.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accountingdomain.Transaction), args.Error(1)
}

type recordingAudit struct {
	attempts []auditdomain.Attempt
}

func (a *recordingAudit) AppendAttempt(_ context.Context, attempt auditdomain.Attempt) error {
	a.attempts = append(a.attempts, attempt)
	return nil
}

func (a *recordingAudit) List(_ context.Context, _ auditdomain.ListAttemptsRequest) (auditdomain.ListAttemptsResponse, error) {
	return auditdomain.ListAttemptsResponse{}, nil
}

type fakeAuthz struct {
	err error
}

func (f *fakeAuthz) Authorize(_ context.Context, _ string, _ string, _ string, _ string) error {
	return f.err
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
	accounting *mockAccounting
	audit      *recordingAudit
	authz      *fakeAuthz
	svc        domain.Service
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&promodomain.PromotionCode{}, &domain.PromotionCodeUsage{}))

	node, _ := snowflake.NewNode(1)
	f := &fixture{
		db:         db,
		node:       node,
		clk:        clock.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)),
		accounting: &mockAccounting{},
		audit:      &recordingAudit{},
		authz:      &fakeAuthz{},
	}
	f.svc = NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      f.clk,
		CodeRepo:   promorepo.Provide(),
		UsageRepo:  redemptionrepo.Provide(),
		Audit:      f.audit,
		Accounting: f.accounting,
		Authz:      f.authz,
	})
	return f
}

func (f *fixture) seedCode(t *testing.T, mutate func(*promodomain.PromotionCode)) *promodomain.PromotionCode {
	t.Helper()
	now := f.clk.Now()
	code := &promodomain.PromotionCode{
		ID:                 f.node.Generate(),
		Code:               "WELCOME100",
		CreditsAmount:      100,
		ValidityPeriodDays: 30,
		MaxUsesPerUser:     1,
		Active:             true,
		ValidFrom:          now.Add(-time.Hour),
		ValidUntil:         now.Add(24 * time.Hour),
		CreatedBy:          f.node.Generate(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(code)
	}
	assert.NoError(t, f.db.Create(code).Error)
	return code
}

func (f *fixture) storedCode(t *testing.T, id snowflake.ID) *promodomain.PromotionCode {
	t.Helper()
	var code promodomain.PromotionCode
	assert.NoError(t, f.db.First(&code, "id = ?", id).Error)
	return &code
}

func (f *fixture) usageRows(t *testing.T, codeID snowflake.ID) []domain.PromotionCodeUsage {
	t.Helper()
	var rows []domain.PromotionCodeUsage
	assert.NoError(t, f.db.Find(&rows, "promotion_code_id = ?", codeID).Error)
	return rows
}

func TestRedeem_Success(t *testing.T) {
	f := newFixture(t, "redeem_success")
	code := f.seedCode(t, nil)
	userID := f.node.Generate()
	labID := f.node.Generate()

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_1", Amount: 100}, nil)

	result, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code:         "welcome100",
		UserID:       userID,
		VirtualLabID: labID,
	})
	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, code.ID, result.PromotionCodeID)
	assert.Equal(t, int64(100), result.CreditsGranted)
	assert.Equal(t, "acct_tx_1", result.AccountingTxID)
	assert.Equal(t, f.clk.Now().AddDate(0, 0, 30), result.ExpiresAt)

	call := f.accounting.Calls[0].Arguments.Get(1).(accountingdomain.CreditRequest)
	assert.Equal(t, labID, call.VirtualLabID)
	assert.Equal(t, result.UsageID.String(), call.Reference)

	rows := f.usageRows(t, code.ID)
	assert.Len(t, rows, 1)
	assert.Equal(t, domain.StatusCompleted, rows[0].Status)
	assert.NotNil(t, rows[0].AccountingTxID)
	assert.Equal(t, "acct_tx_1", *rows[0].AccountingTxID)

	assert.Equal(t, 1, f.storedCode(t, code.ID).CurrentTotalUses)

	assert.Len(t, f.audit.attempts, 1)
	assert.True(t, f.audit.attempts[0].Success)
	assert.Equal(t, "WELCOME100", f.audit.attempts[0].CodeAttempted)
}

func TestRedeem_AccountingFailureLeavesCounterUntouched(t *testing.T) {
	f := newFixture(t, "redeem_accounting_failure")
	code := f.seedCode(t, nil)

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(nil, accountingdomain.ErrUnavailable)

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code:         "WELCOME100",
		UserID:       f.node.Generate(),
		VirtualLabID: f.node.Generate(),
	})
	assert.ErrorIs(t, err, accountingdomain.ErrUnavailable)

	// Reservation rolled back with the transaction.
	assert.Equal(t, 0, f.storedCode(t, code.ID).CurrentTotalUses)

	// The evidence row carries the cause's text and the amount that was
	// about to be granted.
	rows := f.usageRows(t, code.ID)
	assert.Len(t, rows, 1)
	assert.Equal(t, domain.StatusFailed, rows[0].Status)
	assert.NotNil(t, rows[0].FailureReason)
	assert.Equal(t, accountingdomain.ErrUnavailable.Error(), *rows[0].FailureReason)
	assert.Equal(t, int64(100), rows[0].CreditsGranted)

	assert.Len(t, f.audit.attempts, 1)
	assert.False(t, f.audit.attempts[0].Success)
	assert.Equal(t, promodomain.ReasonAccountingError, *f.audit.attempts[0].FailureReason)
}

func TestRedeem_PerUserQuotaIsPerLab(t *testing.T) {
	f := newFixture(t, "redeem_per_lab_quota")
	code := f.seedCode(t, nil)
	userID := f.node.Generate()
	labA := f.node.Generate()
	labB := f.node.Generate()

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_1", Amount: 100}, nil)

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: userID, VirtualLabID: labA,
	})
	assert.NoError(t, err)

	// The same user tops up a different lab with the same code.
	result, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: userID, VirtualLabID: labB,
	})
	assert.NoError(t, err)
	assert.NotNil(t, result)

	rows := f.usageRows(t, code.ID)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, f.storedCode(t, code.ID).CurrentTotalUses)

	// The quota still holds within each lab.
	_, err = f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: userID, VirtualLabID: labA,
	})
	var used *promodomain.AlreadyUsedError
	assert.ErrorAs(t, err, &used)
}

func TestRedeem_UnexpectedFailureStillRecordsAttempt(t *testing.T) {
	f := newFixture(t, "redeem_unexpected_failure")
	code := f.seedCode(t, nil)

	boom := errors.New("connection reset mid-call")
	f.accounting.On("Credit", mock.Anything, mock.Anything).Return(nil, boom)

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: f.node.Generate(),
	})
	assert.ErrorIs(t, err, boom)

	// Rollback restored the counter and dropped the pending row, but the
	// attempt still left evidence.
	assert.Equal(t, 0, f.storedCode(t, code.ID).CurrentTotalUses)
	assert.Empty(t, f.usageRows(t, code.ID))
	assert.Len(t, f.audit.attempts, 1)
	assert.False(t, f.audit.attempts[0].Success)
	assert.Equal(t, promodomain.ReasonInternalError, *f.audit.attempts[0].FailureReason)
}

func TestRedeem_FailedAttemptDoesNotBlockRetry(t *testing.T) {
	f := newFixture(t, "redeem_retry_after_failure")
	code := f.seedCode(t, nil)
	userID := f.node.Generate()
	labID := f.node.Generate()
	req := domain.RedeemRequest{Code: "WELCOME100", UserID: userID, VirtualLabID: labID}

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(nil, accountingdomain.ErrUnavailable).Once()
	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_2", Amount: 100}, nil).Once()

	_, err := f.svc.Redeem(context.Background(), req)
	assert.ErrorIs(t, err, accountingdomain.ErrUnavailable)

	result, err := f.svc.Redeem(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, "acct_tx_2", result.AccountingTxID)
	assert.Equal(t, 1, f.storedCode(t, code.ID).CurrentTotalUses)
}

func TestRedeem_UnknownCode(t *testing.T) {
	f := newFixture(t, "redeem_unknown")
	f.seedCode(t, nil)

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code:         "NOPE",
		UserID:       f.node.Generate(),
		VirtualLabID: f.node.Generate(),
	})
	assert.ErrorIs(t, err, promodomain.ErrCodeNotFound)

	assert.Len(t, f.audit.attempts, 1)
	assert.Equal(t, promodomain.ReasonNotFound, *f.audit.attempts[0].FailureReason)
	assert.Nil(t, f.audit.attempts[0].PromotionCodeID)
}

func TestRedeem_SecondUseRejected(t *testing.T) {
	f := newFixture(t, "redeem_already_used")
	code := f.seedCode(t, nil)
	userID := f.node.Generate()
	labID := f.node.Generate()
	req := domain.RedeemRequest{Code: "WELCOME100", UserID: userID, VirtualLabID: labID}

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_1", Amount: 100}, nil)

	_, err := f.svc.Redeem(context.Background(), req)
	assert.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), req)
	var used *promodomain.AlreadyUsedError
	assert.ErrorAs(t, err, &used)

	// One completed row only; the rejected attempt wrote no usage.
	rows := f.usageRows(t, code.ID)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, f.storedCode(t, code.ID).CurrentTotalUses)
	f.accounting.AssertNumberOfCalls(t, "Credit", 1)

	assert.Len(t, f.audit.attempts, 2)
	assert.Equal(t, promodomain.ReasonAlreadyUsed, *f.audit.attempts[1].FailureReason)
}

func TestRedeem_TotalLimitExhausted(t *testing.T) {
	f := newFixture(t, "redeem_total_limit")
	limit := 1
	f.seedCode(t, func(c *promodomain.PromotionCode) {
		c.MaxTotalUses = &limit
	})
	labID := f.node.Generate()

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_1", Amount: 100}, nil)

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: labID,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: labID,
	})
	var limitErr *promodomain.UsageLimitError
	assert.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 1, limitErr.Limit)
	f.accounting.AssertNumberOfCalls(t, "Credit", 1)
}

func TestRedeem_ExpiredCode(t *testing.T) {
	f := newFixture(t, "redeem_expired")
	f.seedCode(t, nil)
	f.clk.Advance(48 * time.Hour)

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: f.node.Generate(),
	})
	var expired *promodomain.ExpiredError
	assert.ErrorAs(t, err, &expired)
	f.accounting.AssertNumberOfCalls(t, "Credit", 0)
}

func TestRedeem_AuthorizationDenied(t *testing.T) {
	f := newFixture(t, "redeem_forbidden")
	code := f.seedCode(t, nil)
	f.authz.err = authorization.ErrForbidden

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: f.node.Generate(),
	})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.Empty(t, f.usageRows(t, code.ID))
	assert.Len(t, f.audit.attempts, 1)
	assert.Equal(t, promodomain.ReasonUnauthorized, *f.audit.attempts[0].FailureReason)
}

func TestRedeem_InvalidRequest(t *testing.T) {
	f := newFixture(t, "redeem_invalid")

	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{Code: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, f.audit.attempts)
}

func TestCanRedeem(t *testing.T) {
	f := newFixture(t, "can_redeem")
	limit := 10
	f.seedCode(t, func(c *promodomain.PromotionCode) {
		c.MaxTotalUses = &limit
		c.CurrentTotalUses = 4
	})
	userID := f.node.Generate()
	labID := f.node.Generate()

	out, err := f.svc.CanRedeem(context.Background(), domain.RedeemRequest{
		Code: "welcome100", UserID: userID, VirtualLabID: labID,
	})
	assert.NoError(t, err)
	assert.True(t, out.CanRedeem)
	assert.Nil(t, out.Reason)
	assert.Equal(t, int64(100), out.CreditsAmount)
	assert.NotNil(t, out.RemainingUses)
	assert.Equal(t, int64(6), *out.RemainingUses)

	// Dry run wrote nothing.
	assert.Empty(t, f.audit.attempts)
	f.accounting.AssertNumberOfCalls(t, "Credit", 0)
}

func TestCanRedeem_ReportsReasonWithoutError(t *testing.T) {
	f := newFixture(t, "can_redeem_reason")
	f.seedCode(t, nil)
	userID := f.node.Generate()
	labID := f.node.Generate()

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_1", Amount: 100}, nil)
	_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: userID, VirtualLabID: labID,
	})
	assert.NoError(t, err)

	out, err := f.svc.CanRedeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: userID, VirtualLabID: labID,
	})
	assert.NoError(t, err)
	assert.False(t, out.CanRedeem)
	assert.NotNil(t, out.Reason)
	assert.Equal(t, promodomain.ReasonAlreadyUsed, *out.Reason)
	assert.Equal(t, []string{promodomain.ReasonAlreadyUsed}, out.Reasons)

	out, err = f.svc.CanRedeem(context.Background(), domain.RedeemRequest{
		Code: "MISSING", UserID: userID, VirtualLabID: labID,
	})
	assert.NoError(t, err)
	assert.False(t, out.CanRedeem)
	assert.Equal(t, promodomain.ReasonNotFound, *out.Reason)
}

func TestCanRedeem_CollectsEveryFailure(t *testing.T) {
	f := newFixture(t, "can_redeem_collect")
	limit := 1
	f.seedCode(t, func(c *promodomain.PromotionCode) {
		c.MaxTotalUses = &limit
		c.CurrentTotalUses = 1
	})
	f.clk.Advance(48 * time.Hour)

	out, err := f.svc.CanRedeem(context.Background(), domain.RedeemRequest{
		Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: f.node.Generate(),
	})
	assert.NoError(t, err)
	assert.False(t, out.CanRedeem)
	assert.Equal(t, promodomain.ReasonExpired, *out.Reason)
	assert.Contains(t, out.Reasons, promodomain.ReasonExpired)
	assert.Contains(t, out.Reasons, promodomain.ReasonUsageLimit)
}

func TestStats(t *testing.T) {
	f := newFixture(t, "redeem_stats")
	limit := 5
	code := f.seedCode(t, func(c *promodomain.PromotionCode) {
		c.MaxTotalUses = &limit
	})
	labID := f.node.Generate()

	f.accounting.On("Credit", mock.Anything, mock.Anything).
		Return(&accountingdomain.Transaction{ID: "acct_tx_1", Amount: 100}, nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Redeem(context.Background(), domain.RedeemRequest{
			Code: "WELCOME100", UserID: f.node.Generate(), VirtualLabID: labID,
		})
		assert.NoError(t, err)
	}

	stats, err := f.svc.Stats(context.Background(), code.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRedemptions)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(200), stats.CreditsGranted)
	assert.NotNil(t, stats.RemainingUses)
	assert.Equal(t, int64(3), *stats.RemainingUses)
}
