package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/vlabcloud/vlab/internal/virtuallab/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateLab(ctx context.Context, lab domain.VirtualLab) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO virtual_labs (id, name, slug, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		lab.ID,
		lab.Name,
		lab.Slug,
		lab.CreatedAt,
		lab.UpdatedAt,
	).Error
}

func (r *repository) GetLab(ctx context.Context, id snowflake.ID) (*domain.VirtualLab, error) {
	var lab domain.VirtualLab
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lab).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLabNotFound
		}
		return nil, err
	}
	return &lab, nil
}

func (r *repository) AddMember(ctx context.Context, member domain.LabMember) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO lab_members (id, virtual_lab_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ID,
		member.VirtualLabID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	).Error
}

func (r *repository) RemoveMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) error {
	result := r.db.WithContext(ctx).Exec(
		`DELETE FROM lab_members WHERE virtual_lab_id = ? AND user_id = ?`,
		labID,
		userID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

func (r *repository) GetMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (*domain.LabMember, error) {
	var member domain.LabMember
	err := r.db.WithContext(ctx).
		Where("virtual_lab_id = ? AND user_id = ?", labID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *repository) CountMembersByRole(ctx context.Context, labID snowflake.ID, role string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.LabMember{}).
		Where("virtual_lab_id = ? AND role = ?", labID, role).
		Count(&count).Error
	return count, err
}

func (r *repository) ListLabsByUser(ctx context.Context, userID snowflake.ID) ([]domain.LabListItem, error) {
	var items []domain.LabListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT l.id, l.name, m.role, l.created_at
		 FROM virtual_labs l
		 JOIN lab_members m ON m.virtual_lab_id = l.id
		 WHERE m.user_id = ?
		 ORDER BY l.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) IsMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.LabMember{}).
		Where("virtual_lab_id = ? AND user_id = ?", labID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
