package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreatePromotionCodeRequest is the administrative creation payload.
type CreatePromotionCodeRequest struct {
	Code               string
	Description        string
	CreditsAmount      int64
	ValidityPeriodDays int
	MaxUsesPerUser     int
	MaxTotalUses       *int
	ValidFrom          time.Time
	ValidUntil         time.Time
	CreatedBy          snowflake.ID
}

// UpdatePromotionCodeRequest mutates the whitelisted fields only.
type UpdatePromotionCodeRequest struct {
	Description  *string
	Active       *bool
	ValidUntil   *time.Time
	MaxTotalUses *int
	ClearMaxUses bool
}

// Service is the administrative surface over the code store. Redemption has
// its own orchestrator; codes are never hard-deleted, only deactivated.
type Service interface {
	Create(ctx context.Context, req CreatePromotionCodeRequest) (*PromotionCode, error)
	Get(ctx context.Context, id snowflake.ID) (*PromotionCode, error)
	List(ctx context.Context, filter ListFilter) ([]*PromotionCode, error)
	Update(ctx context.Context, id snowflake.ID, req UpdatePromotionCodeRequest) (*PromotionCode, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
}
