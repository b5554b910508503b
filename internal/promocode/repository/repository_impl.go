package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vlabcloud/vlab/internal/promocode/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, code *domain.PromotionCode) error {
	if code == nil {
		return errors.New("promotion code is required")
	}
	return db.WithContext(ctx).Create(code).Error
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PromotionCode, error) {
	var code domain.PromotionCode
	if err := db.WithContext(ctx).First(&code, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.PromotionCode, error) {
	var codes []*domain.PromotionCode
	stmt := db.WithContext(ctx).Model(&domain.PromotionCode{})

	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if code := domain.NormalizeCode(filter.Code); code != "" {
		stmt = stmt.Where("code = ?", code)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}

	if err := stmt.Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// candidateQuery ranks rows sharing one code string: currently-valid windows
// first, then future windows by ascending valid_from, then newest creation.
const candidateQuery = `SELECT id, code, description, credits_amount, validity_period_days,
		max_uses_per_user, max_total_uses, current_total_uses, active,
		valid_from, valid_until, created_by, created_at, updated_at
	 FROM promotion_codes
	 WHERE code = ? AND active = ?
	 ORDER BY
		CASE
			WHEN valid_from <= ? AND valid_until >= ? THEN 0
			WHEN valid_from > ? THEN 1
			ELSE 2
		END ASC,
		CASE WHEN valid_from > ? THEN valid_from ELSE NULL END ASC,
		created_at DESC
	 LIMIT 1`

func (r *repo) FindActiveCandidate(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.PromotionCode, error) {
	return r.findCandidate(ctx, db, code, now, false)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.PromotionCode, error) {
	return r.findCandidate(ctx, db, code, now, true)
}

func (r *repo) findCandidate(ctx context.Context, db *gorm.DB, code string, now time.Time, forUpdate bool) (*domain.PromotionCode, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, nil
	}

	query := candidateQuery
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	now = now.UTC()
	var row domain.PromotionCode
	err := db.WithContext(ctx).Raw(query, normalized, true, now, now, now, now).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	// Atomic bump in SQL; the guard keeps the counter at or below
	// max_total_uses even if a caller skips the locked read.
	result := db.WithContext(ctx).Exec(
		`UPDATE promotion_codes
		 SET current_total_uses = current_total_uses + 1, updated_at = ?
		 WHERE id = ?
		   AND (max_total_uses IS NULL OR current_total_uses < max_total_uses)`,
		now.UTC(),
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateSafeFields(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.SafeFieldUpdate) error {
	fields := map[string]any{}
	if update.Description != nil {
		fields["description"] = strings.TrimSpace(*update.Description)
	}
	if update.Active != nil {
		fields["active"] = *update.Active
	}
	if update.ValidUntil != nil {
		fields["valid_until"] = update.ValidUntil.UTC()
	}
	if update.ClearMaxUses {
		fields["max_total_uses"] = nil
	} else if update.MaxTotalUses != nil {
		fields["max_total_uses"] = *update.MaxTotalUses
	}
	if len(fields) == 0 {
		return nil
	}

	result := db.WithContext(ctx).Model(&domain.PromotionCode{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCodeNotFound
	}
	return nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	result := db.WithContext(ctx).Model(&domain.PromotionCode{}).Where("id = ?", id).Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCodeNotFound
	}
	return nil
}
