package repository

import (
	"context"
	"strings"

	"github.com/vlabcloud/vlab/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.RedemptionAttempt) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO promotion_code_redemption_attempts (
			id, code_attempted, promotion_code_id, user_id, virtual_lab_id,
			success, failure_reason, ip_address, user_agent, metadata, attempted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.CodeAttempted,
		entry.PromotionCodeID,
		entry.UserID,
		entry.VirtualLabID,
		entry.Success,
		entry.FailureReason,
		entry.IPAddress,
		entry.UserAgent,
		entry.Metadata,
		entry.AttemptedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.RedemptionAttempt, error) {
	var attempts []*domain.RedemptionAttempt
	stmt := db.WithContext(ctx).Model(&domain.RedemptionAttempt{})

	if code := strings.TrimSpace(filter.CodeAttempted); code != "" {
		stmt = stmt.Where("code_attempted = ?", strings.ToUpper(code))
	}
	if filter.PromotionCodeID != nil {
		stmt = stmt.Where("promotion_code_id = ?", *filter.PromotionCodeID)
	}
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.Success != nil {
		stmt = stmt.Where("success = ?", *filter.Success)
	}
	if reason := strings.TrimSpace(filter.FailureReason); reason != "" {
		stmt = stmt.Where("failure_reason = ?", reason)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("attempted_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("attempted_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(attempted_at < ?) OR (attempted_at = ? AND id < ?)",
			filter.Cursor.AttemptedAt,
			filter.Cursor.AttemptedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("attempted_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}
