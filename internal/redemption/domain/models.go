package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Usage row lifecycle. PENDING rows reserve a slot before the accounting
// call; they count against per-user and total limits so a crash between
// reserve and finalize can never over-grant.
const (
	StatusPending    = "PENDING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusRolledBack = "ROLLED_BACK"
)

// PromotionCodeUsage is one redemption of a code by a user. Append-only
// except for the PENDING -> terminal transition.
type PromotionCodeUsage struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id,string"`
	PromotionCodeID snowflake.ID `gorm:"index:idx_usage_code_user" json:"promotion_code_id,string"`
	UserID          snowflake.ID `gorm:"index:idx_usage_code_user" json:"user_id,string"`
	VirtualLabID    snowflake.ID `gorm:"index" json:"virtual_lab_id,string"`
	Status          string       `gorm:"type:varchar(16);index" json:"status"`
	CreditsGranted  int64        `json:"credits_granted"`
	AccountingTxID  *string      `gorm:"type:varchar(128)" json:"accounting_tx_id,omitempty"`
	FailureReason   *string      `gorm:"type:varchar(64)" json:"failure_reason,omitempty"`
	RedeemedAt      *time.Time   `json:"redeemed_at,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (PromotionCodeUsage) TableName() string { return "promotion_code_usages" }

// Terminal reports whether the row can no longer change state.
func (u *PromotionCodeUsage) Terminal() bool {
	return u.Status != StatusPending
}

// CodeStats aggregates completed redemptions for one code.
type CodeStats struct {
	PromotionCodeID  snowflake.ID `json:"promotion_code_id,string"`
	TotalRedemptions int64        `json:"total_redemptions"`
	UniqueUsers      int64        `json:"unique_users"`
	CreditsGranted   int64        `json:"credits_granted"`
	RemainingUses    *int64       `json:"remaining_uses,omitempty"`
}
