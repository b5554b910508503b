package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountingdomain "github.com/vlabcloud/vlab/internal/accounting/domain"
	auditdomain "github.com/vlabcloud/vlab/internal/audit/domain"
	"github.com/vlabcloud/vlab/internal/authorization"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/internal/observability/metrics"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	"github.com/vlabcloud/vlab/internal/promocode/validate"
	"github.com/vlabcloud/vlab/internal/ratelimit"
	"github.com/vlabcloud/vlab/internal/redemption/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	CodeRepo   promodomain.Repository
	UsageRepo  domain.Repository
	Audit      auditdomain.Service
	Accounting accountingdomain.Service
	Limiter    *ratelimit.RedemptionLimiter `optional:"true"`
	Authz      authorization.Service
	Metrics    *metrics.RedemptionMetrics
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	codeRepo   promodomain.Repository
	usageRepo  domain.Repository
	audit      auditdomain.Service
	accounting accountingdomain.Service
	limiter    *ratelimit.RedemptionLimiter
	authz      authorization.Service
	metrics    *metrics.RedemptionMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("redemption.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		codeRepo:   p.CodeRepo,
		usageRepo:  p.UsageRepo,
		audit:      p.Audit,
		accounting: p.Accounting,
		limiter:    p.Limiter,
		authz:      p.Authz,
		metrics:    p.Metrics,
	}
}

// Redeem is the full pipeline. The code row stays locked from lookup
// through the accounting call so concurrent redemptions of the same code
// serialize on the row instead of racing the usage counter.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (*domain.RedemptionResult, error) {
	code := promodomain.NormalizeCode(req.Code)
	if code == "" || req.UserID == 0 || req.VirtualLabID == 0 {
		return nil, domain.ErrInvalidRequest
	}

	if err := s.allowAttempt(ctx, code, req); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, code, req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		result   *domain.RedemptionResult
		resolved *promodomain.PromotionCode
	)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.codeRepo.FindForUpdate(ctx, tx, code, now)
		if err != nil {
			return err
		}
		resolved = row

		uses := 0
		if row != nil {
			uses, err = s.usageRepo.CountInPeriod(ctx, tx, row.ID, req.UserID, req.VirtualLabID, row.ValidFrom, row.ValidUntil)
			if err != nil {
				return err
			}
		}
		if err := validate.Run(row, validate.Input{Now: now, UserUsesInPeriod: uses}); err != nil {
			return err
		}

		applied, err := s.codeRepo.IncrementUsage(ctx, tx, row.ID, now)
		if err != nil {
			return err
		}
		if !applied {
			limit := 0
			if row.MaxTotalUses != nil {
				limit = *row.MaxTotalUses
			}
			return &promodomain.UsageLimitError{Code: row.Code, Limit: limit}
		}

		expiresAt := now.AddDate(0, 0, row.ValidityPeriodDays)
		usage := &domain.PromotionCodeUsage{
			ID:              s.genID.Generate(),
			PromotionCodeID: row.ID,
			UserID:          req.UserID,
			VirtualLabID:    req.VirtualLabID,
			CreditsGranted:  row.CreditsAmount,
			ExpiresAt:       &expiresAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.usageRepo.OpenPending(ctx, tx, usage); err != nil {
			return err
		}

		start := time.Now()
		grant, err := s.accounting.Credit(ctx, accountingdomain.CreditRequest{
			VirtualLabID: req.VirtualLabID,
			UserID:       req.UserID,
			Amount:       row.CreditsAmount,
			Reference:    usage.ID.String(),
			ExpiresAt:    expiresAt,
		})
		s.metrics.ObserveAccountingCall(time.Since(start), err)
		if err != nil {
			return err
		}

		redeemedAt := s.clock.Now()
		if err := s.usageRepo.Finalize(ctx, tx, usage.ID, domain.FinalizeUpdate{
			Status:         domain.StatusCompleted,
			AccountingTxID: &grant.ID,
			RedeemedAt:     &redeemedAt,
			ExpiresAt:      &expiresAt,
		}); err != nil {
			return err
		}

		result = &domain.RedemptionResult{
			UsageID:         usage.ID,
			PromotionCodeID: row.ID,
			Code:            row.Code,
			CreditsGranted:  row.CreditsAmount,
			AccountingTxID:  grant.ID,
			ExpiresAt:       expiresAt,
			RedeemedAt:      redeemedAt,
		}
		return nil
	})

	if txErr != nil {
		return nil, s.recordFailure(ctx, code, resolved, req, txErr)
	}

	s.metrics.ObserveAttempt(metrics.OutcomeCompleted, "")
	s.metrics.ObserveCredits(result.CreditsGranted)
	s.appendAttempt(ctx, code, &result.PromotionCodeID, req, true, nil, map[string]any{
		"usage_id":         result.UsageID.String(),
		"credits_granted":  result.CreditsGranted,
		"accounting_tx_id": result.AccountingTxID,
	})
	s.log.Info("promotion code redeemed",
		zap.String("code", code),
		zap.String("user_id", req.UserID.String()),
		zap.Int64("credits_granted", result.CreditsGranted),
	)
	return result, nil
}

// CanRedeem is the dry-run. It reads without locks, consumes no rate limit
// budget and writes nothing, so the answer can race a concurrent redeem.
func (s *Service) CanRedeem(ctx context.Context, req domain.RedeemRequest) (*domain.CanRedeemResult, error) {
	code := promodomain.NormalizeCode(req.Code)
	if code == "" || req.UserID == 0 || req.VirtualLabID == 0 {
		return nil, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	row, err := s.codeRepo.FindActiveCandidate(ctx, s.db, code, now)
	if err != nil {
		return nil, err
	}

	uses := 0
	if row != nil {
		uses, err = s.usageRepo.CountInPeriod(ctx, s.db, row.ID, req.UserID, req.VirtualLabID, row.ValidFrom, row.ValidUntil)
		if err != nil {
			return nil, err
		}
	}

	out := &domain.CanRedeemResult{Code: code, UserUsesInCode: uses}
	if failures := validate.Collect(row, validate.Input{Now: now, UserUsesInPeriod: uses}); len(failures) > 0 {
		for _, failure := range failures {
			reason := promodomain.FailureReason(failure)
			if reason == "" {
				return nil, failure
			}
			out.Reasons = append(out.Reasons, reason)
		}
		out.Reason = &out.Reasons[0]
		return out, nil
	}

	out.CanRedeem = true
	out.CreditsAmount = row.CreditsAmount
	if row.MaxTotalUses != nil {
		remaining := int64(*row.MaxTotalUses - row.CurrentTotalUses)
		if remaining < 0 {
			remaining = 0
		}
		out.RemainingUses = &remaining
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context, codeID snowflake.ID) (*domain.CodeStats, error) {
	row, err := s.codeRepo.GetByID(ctx, s.db, codeID)
	if err != nil {
		return nil, err
	}
	stats, err := s.usageRepo.Stats(ctx, s.db, codeID)
	if err != nil {
		return nil, err
	}
	if row.MaxTotalUses != nil {
		remaining := int64(*row.MaxTotalUses - row.CurrentTotalUses)
		if remaining < 0 {
			remaining = 0
		}
		stats.RemainingUses = &remaining
	}
	return stats, nil
}

// allowAttempt consults the rate limiter. Rejections land in the attempt
// log with their own reason so fraud aggregates can exclude them.
func (s *Service) allowAttempt(ctx context.Context, code string, req domain.RedeemRequest) error {
	if !s.limiter.Enabled() {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, req.UserID)
	if err != nil {
		// A broken limiter backend must not take redemption down with it.
		s.log.Warn("rate limiter unavailable, admitting attempt",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err),
		)
		return nil
	}
	if decision.Allowed {
		return nil
	}

	s.metrics.ObserveAttempt(metrics.OutcomeRateLimit, promodomain.ReasonRateLimited)
	reason := promodomain.ReasonRateLimited
	s.appendAttempt(ctx, code, nil, req, false, &reason, map[string]any{
		"retry_after_seconds": int64(decision.RetryAfter.Seconds() + 0.999),
		"limit":               decision.Limit,
	})
	return &domain.RateLimitedError{
		Limit:      decision.Limit,
		Window:     decision.Window,
		RetryAfter: decision.RetryAfter,
	}
}

func (s *Service) authorize(ctx context.Context, code string, req domain.RedeemRequest) error {
	actor := fmt.Sprintf("user:%s", req.UserID.String())
	err := s.authz.Authorize(ctx, actor, req.VirtualLabID.String(), authorization.ObjectPromoCode, authorization.ActionPromoCodeRedeem)
	if err == nil {
		return nil
	}
	if errors.Is(err, authorization.ErrForbidden) {
		s.metrics.ObserveAttempt(metrics.OutcomeDeniedAuth, promodomain.ReasonUnauthorized)
		reason := promodomain.ReasonUnauthorized
		s.appendAttempt(ctx, code, nil, req, false, &reason, nil)
	}
	return err
}

// recordFailure runs after the transaction rolled back; nothing from the
// attempt survived, so the failure evidence is written in fresh
// transactions of its own. Every exit appends exactly one attempt row.
func (s *Service) recordFailure(ctx context.Context, code string, resolved *promodomain.PromotionCode, req domain.RedeemRequest, cause error) error {
	var codeID *snowflake.ID
	if resolved != nil {
		id := resolved.ID
		codeID = &id
	}

	if reason := promodomain.FailureReason(cause); reason != "" {
		s.metrics.ObserveAttempt(metrics.OutcomeRejected, reason)
		s.appendAttempt(ctx, code, codeID, req, false, &reason, nil)
		return cause
	}

	if errors.Is(cause, accountingdomain.ErrUnavailable) || errors.Is(cause, accountingdomain.ErrRejected) {
		reason := promodomain.ReasonAccountingError
		s.metrics.ObserveAttempt(metrics.OutcomeFailed, reason)
		s.recordFailedUsage(ctx, resolved, req, cause)
		s.appendAttempt(ctx, code, codeID, req, false, &reason, map[string]any{
			"cause": cause.Error(),
		})
		s.log.Error("accounting call failed during redemption",
			zap.String("code", code),
			zap.String("user_id", req.UserID.String()),
			zap.Error(cause),
		)
		return cause
	}

	reason := promodomain.ReasonInternalError
	s.metrics.ObserveAttempt(metrics.OutcomeFailed, reason)
	s.appendAttempt(ctx, code, codeID, req, false, &reason, map[string]any{
		"cause": cause.Error(),
	})
	s.log.Error("redemption failed",
		zap.String("code", code),
		zap.String("user_id", req.UserID.String()),
		zap.Error(cause),
	)
	return cause
}

// recordFailedUsage persists a FAILED usage row for an attempt whose
// reservation was rolled back. The counter was restored by the rollback;
// only the evidence row is written here, carrying the cause's text and
// the amount that would have been granted.
func (s *Service) recordFailedUsage(ctx context.Context, resolved *promodomain.PromotionCode, req domain.RedeemRequest, cause error) {
	if resolved == nil {
		return
	}
	now := s.clock.Now()
	failure := cause.Error()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		usage := &domain.PromotionCodeUsage{
			ID:              s.genID.Generate(),
			PromotionCodeID: resolved.ID,
			UserID:          req.UserID,
			VirtualLabID:    req.VirtualLabID,
			CreditsGranted:  resolved.CreditsAmount,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.usageRepo.OpenPending(ctx, tx, usage); err != nil {
			return err
		}
		return s.usageRepo.Finalize(ctx, tx, usage.ID, domain.FinalizeUpdate{
			Status:        domain.StatusFailed,
			FailureReason: &failure,
		})
	})
	if err != nil {
		s.log.Warn("failed to record failed usage row", zap.Error(err))
	}
}

func (s *Service) appendAttempt(ctx context.Context, code string, codeID *snowflake.ID, req domain.RedeemRequest, success bool, reason *string, metadata map[string]any) {
	labID := req.VirtualLabID
	attempt := auditdomain.Attempt{
		CodeAttempted:   code,
		PromotionCodeID: codeID,
		UserID:          req.UserID,
		Success:         success,
		FailureReason:   reason,
		Metadata:        metadata,
	}
	if labID != 0 {
		attempt.VirtualLabID = &labID
	}
	if err := s.audit.AppendAttempt(ctx, attempt); err != nil {
		s.log.Warn("failed to append redemption attempt",
			zap.String("code", code),
			zap.Error(err),
		)
	}
}
