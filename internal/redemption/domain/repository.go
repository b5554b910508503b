package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// FinalizeUpdate moves a PENDING usage row to a terminal state.
type FinalizeUpdate struct {
	Status         string
	AccountingTxID *string
	FailureReason  *string
	RedeemedAt     *time.Time
	ExpiresAt      *time.Time
}

type Repository interface {
	// OpenPending inserts a new usage row in PENDING state.
	OpenPending(ctx context.Context, db *gorm.DB, usage *PromotionCodeUsage) error

	// Finalize transitions a PENDING row to update.Status. Rows already in
	// a terminal state are left untouched and ErrUsageAlreadyFinal is
	// returned.
	Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, update FinalizeUpdate) error

	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PromotionCodeUsage, error)

	// CountInPeriod counts a user's PENDING and COMPLETED uses of one code
	// for one virtual lab within the code's validity window. The same user
	// redeeming the same code for a different lab is a separate quota.
	CountInPeriod(ctx context.Context, db *gorm.DB, codeID, userID, labID snowflake.ID, from, until time.Time) (int, error)

	Stats(ctx context.Context, db *gorm.DB, codeID snowflake.ID) (*CodeStats, error)
}
