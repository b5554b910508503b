// Package domain contains persistence models for the promo-code service.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PromotionCode is a named, time-boxed credit grant definition. Several rows
// may share one code string with different validity windows (seasonal
// reissues); lookups resolve the ambiguity with a fixed selection order.
type PromotionCode struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Code               string       `gorm:"type:text;not null;index:ix_promotion_codes_code" json:"code"`
	Description        string       `gorm:"type:text" json:"description"`
	CreditsAmount      int64        `gorm:"not null" json:"credits_amount"`
	ValidityPeriodDays int          `gorm:"not null;default:365" json:"validity_period_days"`
	MaxUsesPerUser     int          `gorm:"not null;default:1" json:"max_uses_per_user"`
	MaxTotalUses       *int         `gorm:"" json:"max_total_uses"`
	CurrentTotalUses   int          `gorm:"not null;default:0" json:"current_total_uses"`
	Active             bool         `gorm:"not null;default:true" json:"active"`
	ValidFrom          time.Time    `gorm:"not null" json:"valid_from"`
	ValidUntil         time.Time    `gorm:"not null" json:"valid_until"`
	CreatedBy          snowflake.ID `gorm:"not null" json:"created_by"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PromotionCode) TableName() string { return "promotion_codes" }

// NormalizeCode trims and upper-cases a user-submitted code string.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CurrentlyValid reports whether now lies inside the validity window.
func (p *PromotionCode) CurrentlyValid(now time.Time) bool {
	return !now.Before(p.ValidFrom) && !now.After(p.ValidUntil)
}

// TotalUsesExhausted reports whether the total-use ceiling is hit.
func (p *PromotionCode) TotalUsesExhausted() bool {
	return p.MaxTotalUses != nil && p.CurrentTotalUses >= *p.MaxTotalUses
}
