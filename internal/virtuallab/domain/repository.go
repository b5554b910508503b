package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type LabListItem struct {
	ID        snowflake.ID
	Name      string
	Role      string
	CreatedAt time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateLab(ctx context.Context, lab VirtualLab) error
	GetLab(ctx context.Context, id snowflake.ID) (*VirtualLab, error)
	AddMember(ctx context.Context, member LabMember) error
	RemoveMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) error
	GetMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (*LabMember, error)
	CountMembersByRole(ctx context.Context, labID snowflake.ID, role string) (int64, error)
	ListLabsByUser(ctx context.Context, userID snowflake.ID) ([]LabListItem, error)
	IsMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (bool, error)
}
