package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrUsageAlreadyFinal = errors.New("usage_already_final")
	ErrUsageNotFound     = errors.New("usage_not_found")
	ErrInvalidRequest    = errors.New("invalid_redeem_request")
)

// RateLimitedError is returned when the caller exhausted their redemption
// attempts for the current window.
type RateLimitedError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("redemption rate limit of %d per %s exceeded, retry in %s", e.Limit, e.Window, e.RetryAfter)
}

// RedeemRequest identifies who is redeeming what, for which lab's balance.
type RedeemRequest struct {
	Code         string
	UserID       snowflake.ID
	VirtualLabID snowflake.ID
	RequestID    string
	IPAddress    string
	UserAgent    string
}

// RedemptionResult is returned on a completed redemption.
type RedemptionResult struct {
	UsageID         snowflake.ID `json:"usage_id,string"`
	PromotionCodeID snowflake.ID `json:"promotion_code_id,string"`
	Code            string       `json:"code"`
	CreditsGranted  int64        `json:"credits_granted"`
	AccountingTxID  string       `json:"accounting_tx_id"`
	ExpiresAt       time.Time    `json:"expires_at"`
	RedeemedAt      time.Time    `json:"redeemed_at"`
}

// CanRedeemResult is the dry-run answer. Reason is set when CanRedeem is
// false and carries the same tags the redeem path reports.
type CanRedeemResult struct {
	CanRedeem bool    `json:"can_redeem"`
	Reason    *string `json:"reason,omitempty"`
	// Reasons lists every failed check, not just the first; the dry run is
	// a pre-flight display and should show the caller the whole picture.
	Reasons        []string `json:"reasons,omitempty"`
	Code           string   `json:"code"`
	CreditsAmount  int64    `json:"credits_amount,omitempty"`
	RemainingUses  *int64   `json:"remaining_uses,omitempty"`
	UserUsesInCode int      `json:"-"`
}

type Service interface {
	// Redeem runs the full pipeline: rate limit, authorization, locked
	// validation, accounting credit, finalization, audit.
	Redeem(ctx context.Context, req RedeemRequest) (*RedemptionResult, error)

	// CanRedeem answers whether Redeem would currently succeed without
	// consuming anything. No locks, no accounting, no counter movement.
	CanRedeem(ctx context.Context, req RedeemRequest) (*CanRedeemResult, error)

	Stats(ctx context.Context, codeID snowflake.ID) (*CodeStats, error)
}
