package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vlabcloud/vlab/internal/audit/domain"
	auditcontext "github.com/vlabcloud/vlab/internal/auditcontext"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AppendAttempt(ctx context.Context, attempt auditdomain.Attempt) error {
	code := strings.ToUpper(strings.TrimSpace(attempt.CodeAttempted))
	if code == "" {
		return auditdomain.ErrMissingAttempt
	}

	payload := map[string]any{}
	for key, value := range attempt.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.RedemptionAttempt{
		ID:              s.genID.Generate(),
		CodeAttempted:   code,
		PromotionCodeID: attempt.PromotionCodeID,
		UserID:          attempt.UserID,
		VirtualLabID:    attempt.VirtualLabID,
		Success:         attempt.Success,
		FailureReason:   normalizePointer(attempt.FailureReason),
		Metadata:        datatypes.JSONMap(payload),
		AttemptedAt:     s.clock.Now(),
	}
	if ipAddress := auditcontext.IPAddressFromContext(ctx); ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent := auditcontext.UserAgentFromContext(ctx); userAgent != "" {
		entry.UserAgent = &userAgent
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write redemption attempt",
			zap.String("code_attempted", code),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAttemptsRequest) (auditdomain.ListAttemptsResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AttemptCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidPageToken
		}
		attemptedAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AttemptCursor{
			ID:          id,
			AttemptedAt: attemptedAt,
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		CodeAttempted:   req.CodeAttempted,
		PromotionCodeID: req.PromotionCodeID,
		UserID:          req.UserID,
		Success:         req.Success,
		FailureReason:   req.FailureReason,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
		Cursor:          cursor,
		Limit:           int(pageSize),
	})
	if err != nil {
		return auditdomain.ListAttemptsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.RedemptionAttempt) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.AttemptedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	attempts := make([]auditdomain.RedemptionAttempt, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		attempts = append(attempts, *item)
	}

	resp := auditdomain.ListAttemptsResponse{Attempts: attempts}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
