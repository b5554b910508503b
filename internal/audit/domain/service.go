package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vlabcloud/vlab/pkg/db/pagination"
	"gorm.io/gorm"
)

// Attempt traces whether a pipeline outcome succeeded plus the taxonomy
// tag recorded when it did not.
type Attempt struct {
	CodeAttempted   string
	PromotionCodeID *snowflake.ID
	UserID          snowflake.ID
	VirtualLabID    *snowflake.ID
	Success         bool
	FailureReason   *string
	Metadata        map[string]any
}

type ListAttemptsRequest struct {
	pagination.Pagination
	CodeAttempted   string
	PromotionCodeID *snowflake.ID
	UserID          *snowflake.ID
	Success         *bool
	FailureReason   string
	StartAt         *time.Time
	EndAt           *time.Time
}

type ListAttemptsResponse struct {
	pagination.PageInfo
	Attempts []RedemptionAttempt `json:"attempts"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *RedemptionAttempt) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*RedemptionAttempt, error)
}

type Service interface {
	// AppendAttempt records one attempt. Client context fields are read
	// from the request context when present.
	AppendAttempt(ctx context.Context, attempt Attempt) error
	List(ctx context.Context, req ListAttemptsRequest) (ListAttemptsResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrMissingAttempt   = errors.New("missing_attempt_code")
)
