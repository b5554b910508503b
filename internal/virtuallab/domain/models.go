// Package domain contains persistence models for the virtual lab service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// VirtualLab is the tenant whose compute balance promotion codes top up.
type VirtualLab struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	Slug      string            `gorm:"type:text;not null;uniqueIndex:ux_virtual_labs_slug" json:"slug"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (VirtualLab) TableName() string { return "virtual_labs" }

// LabMember represents membership of a user in a virtual lab.
type LabMember struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	VirtualLabID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_lab_user,priority:1" json:"virtual_lab_id"`
	UserID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_lab_user,priority:2" json:"user_id"`
	Role         string       `gorm:"type:text;not null" json:"role"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LabMember) TableName() string { return "lab_members" }
