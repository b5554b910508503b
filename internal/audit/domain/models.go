package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RedemptionAttempt is one row of the append-only attempt log. Every
// redemption attempt lands here, successful or not, including attempts
// against codes that do not exist.
type RedemptionAttempt struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	CodeAttempted   string            `gorm:"type:varchar(64);index" json:"code_attempted"`
	PromotionCodeID *snowflake.ID     `gorm:"index" json:"promotion_code_id,string,omitempty"`
	UserID          snowflake.ID      `gorm:"index" json:"user_id,string"`
	VirtualLabID    *snowflake.ID     `json:"virtual_lab_id,string,omitempty"`
	Success         bool              `json:"success"`
	FailureReason   *string           `gorm:"type:varchar(64)" json:"failure_reason,omitempty"`
	IPAddress       *string           `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent       *string           `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	AttemptedAt     time.Time         `gorm:"index" json:"attempted_at"`
}

func (RedemptionAttempt) TableName() string { return "promotion_code_redemption_attempts" }

// AttemptCursor is the keyset position for attempt listings.
type AttemptCursor struct {
	ID          snowflake.ID
	AttemptedAt time.Time
}

// ListFilter narrows attempt listings. Zero-valued fields are ignored.
type ListFilter struct {
	CodeAttempted   string
	PromotionCodeID *snowflake.ID
	UserID          *snowflake.ID
	Success         *bool
	FailureReason   string
	StartAt         *time.Time
	EndAt           *time.Time
	Cursor          *AttemptCursor
	Limit           int
}
