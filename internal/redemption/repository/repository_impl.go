package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vlabcloud/vlab/internal/redemption/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) OpenPending(ctx context.Context, db *gorm.DB, usage *domain.PromotionCodeUsage) error {
	usage.Status = domain.StatusPending
	return db.WithContext(ctx).Create(usage).Error
}

func (r *repo) Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.FinalizeUpdate) error {
	values := map[string]interface{}{
		"status":           update.Status,
		"accounting_tx_id": update.AccountingTxID,
		"failure_reason":   update.FailureReason,
		"redeemed_at":      update.RedeemedAt,
		"expires_at":       update.ExpiresAt,
	}
	tx := db.WithContext(ctx).
		Model(&domain.PromotionCodeUsage{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(values)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		// Either the row does not exist or it already reached a terminal
		// state. Distinguish for the caller.
		var count int64
		if err := db.WithContext(ctx).
			Model(&domain.PromotionCodeUsage{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrUsageNotFound
		}
		return domain.ErrUsageAlreadyFinal
	}
	return nil
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PromotionCodeUsage, error) {
	var usage domain.PromotionCodeUsage
	err := db.WithContext(ctx).Where("id = ?", id).First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUsageNotFound
		}
		return nil, err
	}
	return &usage, nil
}

func (r *repo) CountInPeriod(ctx context.Context, db *gorm.DB, codeID, userID, labID snowflake.ID, from, until time.Time) (int, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.PromotionCodeUsage{}).
		Where("promotion_code_id = ? AND user_id = ? AND virtual_lab_id = ?", codeID, userID, labID).
		Where("status IN ?", []string{domain.StatusPending, domain.StatusCompleted}).
		Where("created_at >= ? AND created_at <= ?", from, until).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, codeID snowflake.ID) (*domain.CodeStats, error) {
	var row struct {
		TotalRedemptions int64
		UniqueUsers      int64
		CreditsGranted   int64
	}
	err := db.WithContext(ctx).
		Model(&domain.PromotionCodeUsage{}).
		Select("COUNT(*) AS total_redemptions, COUNT(DISTINCT user_id) AS unique_users, COALESCE(SUM(credits_granted), 0) AS credits_granted").
		Where("promotion_code_id = ? AND status = ?", codeID, domain.StatusCompleted).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &domain.CodeStats{
		PromotionCodeID:  codeID,
		TotalRedemptions: row.TotalRedemptions,
		UniqueUsers:      row.UniqueUsers,
		CreditsGranted:   row.CreditsGranted,
	}, nil
}
