package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateLabRequest) (*LabResponse, error)
	GetByID(ctx context.Context, id string) (*LabResponse, error)
	ListLabsByUser(ctx context.Context, userID snowflake.ID) ([]LabListResponseItem, error)
	AddMember(ctx context.Context, labID string, userID snowflake.ID, role string) error
	RemoveMember(ctx context.Context, labID string, userID snowflake.ID) error
	IsMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (bool, error)
}

type CreateLabRequest struct {
	Name string
}

type LabResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type LabListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidVirtualLab = errors.New("invalid_virtual_lab")
	ErrInvalidRole       = errors.New("invalid_role")
	ErrLabNotFound       = errors.New("lab_not_found")
	ErrMemberNotFound    = errors.New("member_not_found")
	ErrAlreadyMember     = errors.New("already_member")
	ErrLastOwner         = errors.New("last_owner_cannot_leave")
)
