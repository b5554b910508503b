package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows admin code listings.
type ListFilter struct {
	Active *bool
	Code   string
	Limit  int
	Offset int
}

// SafeFieldUpdate carries the only mutable fields of a code. Everything else
// is frozen after creation; the usage counter moves only through
// IncrementUsage.
type SafeFieldUpdate struct {
	Description  *string
	Active       *bool
	ValidUntil   *time.Time
	MaxTotalUses *int
	ClearMaxUses bool
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, code *PromotionCode) error
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PromotionCode, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*PromotionCode, error)

	// FindActiveCandidate resolves a code string to the single row a caller
	// means "right now": currently-valid windows first, then future windows
	// by ascending valid_from, then newest created_at.
	FindActiveCandidate(ctx context.Context, db *gorm.DB, code string, now time.Time) (*PromotionCode, error)

	// FindForUpdate is FindActiveCandidate plus a row-level write lock held
	// for the enclosing transaction.
	FindForUpdate(ctx context.Context, db *gorm.DB, code string, now time.Time) (*PromotionCode, error)

	// IncrementUsage bumps current_total_uses atomically in SQL, guarded by
	// max_total_uses. Returns false when the guard rejected the update.
	IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	UpdateSafeFields(ctx context.Context, db *gorm.DB, id snowflake.ID, update SafeFieldUpdate) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
