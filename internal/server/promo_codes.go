package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/vlabcloud/vlab/internal/audit/domain"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	"github.com/vlabcloud/vlab/pkg/db/pagination"
)

type createPromoCodeRequest struct {
	Code               string `json:"code" binding:"required"`
	Description        string `json:"description"`
	CreditsAmount      int64  `json:"credits_amount" binding:"required"`
	ValidityPeriodDays int    `json:"validity_period_days"`
	MaxUsesPerUser     int    `json:"max_uses_per_user"`
	MaxTotalUses       *int   `json:"max_total_uses"`
	ValidFrom          string `json:"valid_from" binding:"required"`
	ValidUntil         string `json:"valid_until" binding:"required"`
}

func (s *Server) CreatePromoCode(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		return
	}

	var req createPromoCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	validFrom, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ValidFrom))
	if err != nil {
		AbortWithError(c, newValidationError("valid_from", "invalid_valid_from", "invalid valid_from"))
		return
	}
	validUntil, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ValidUntil))
	if err != nil {
		AbortWithError(c, newValidationError("valid_until", "invalid_valid_until", "invalid valid_until"))
		return
	}

	code, err := s.promoCodeSvc.Create(c.Request.Context(), promodomain.CreatePromotionCodeRequest{
		Code:               req.Code,
		Description:        strings.TrimSpace(req.Description),
		CreditsAmount:      req.CreditsAmount,
		ValidityPeriodDays: req.ValidityPeriodDays,
		MaxUsesPerUser:     req.MaxUsesPerUser,
		MaxTotalUses:       req.MaxTotalUses,
		ValidFrom:          validFrom,
		ValidUntil:         validUntil,
		CreatedBy:          userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, code)
}

type listPromoCodesQuery struct {
	Active string `form:"active"`
	Code   string `form:"code"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func (s *Server) ListPromoCodes(c *gin.Context) {
	var query listPromoCodesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	codes, err := s.promoCodeSvc.List(c.Request.Context(), promodomain.ListFilter{
		Active: active,
		Code:   strings.TrimSpace(query.Code),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"promotion_codes": codes})
}

func (s *Server) GetPromoCode(c *gin.Context) {
	codeID, ok := s.codeIDFromRoute(c)
	if !ok {
		return
	}

	code, err := s.promoCodeSvc.Get(c.Request.Context(), codeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if code == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, code)
}

type updatePromoCodeRequest struct {
	Description  *string `json:"description"`
	Active       *bool   `json:"active"`
	ValidUntil   *string `json:"valid_until"`
	MaxTotalUses *int    `json:"max_total_uses"`
	ClearMaxUses bool    `json:"clear_max_total_uses"`
}

func (s *Server) UpdatePromoCode(c *gin.Context) {
	codeID, ok := s.codeIDFromRoute(c)
	if !ok {
		return
	}

	var req updatePromoCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var validUntil *time.Time
	if req.ValidUntil != nil {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ValidUntil))
		if err != nil {
			AbortWithError(c, newValidationError("valid_until", "invalid_valid_until", "invalid valid_until"))
			return
		}
		validUntil = &parsed
	}

	code, err := s.promoCodeSvc.Update(c.Request.Context(), codeID, promodomain.UpdatePromotionCodeRequest{
		Description:  req.Description,
		Active:       req.Active,
		ValidUntil:   validUntil,
		MaxTotalUses: req.MaxTotalUses,
		ClearMaxUses: req.ClearMaxUses,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, code)
}

func (s *Server) DeactivatePromoCode(c *gin.Context) {
	codeID, ok := s.codeIDFromRoute(c)
	if !ok {
		return
	}

	if err := s.promoCodeSvc.Deactivate(c.Request.Context(), codeID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) PromoCodeStats(c *gin.Context) {
	codeID, ok := s.codeIDFromRoute(c)
	if !ok {
		return
	}

	stats, err := s.redemptionSvc.Stats(c.Request.Context(), codeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type listAttemptsQuery struct {
	PageToken     string `form:"page_token"`
	PageSize      int    `form:"page_size"`
	Code          string `form:"code"`
	CodeID        string `form:"code_id"`
	UserID        string `form:"user_id"`
	Success       string `form:"success"`
	FailureReason string `form:"failure_reason"`
	StartAt       string `form:"start_at"`
	EndAt         string `form:"end_at"`
}

func (s *Server) ListRedemptionAttempts(c *gin.Context) {
	var query listAttemptsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	codeID, err := parseOptionalSnowflakeID(query.CodeID)
	if err != nil {
		AbortWithError(c, newValidationError("code_id", "invalid_code_id", "invalid code_id"))
		return
	}
	userID, err := parseOptionalSnowflakeID(query.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}
	success, err := parseOptionalBool(query.Success)
	if err != nil {
		AbortWithError(c, newValidationError("success", "invalid_success", "invalid success"))
		return
	}
	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAttemptsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		CodeAttempted:   strings.TrimSpace(query.Code),
		PromotionCodeID: codeID,
		UserID:          userID,
		Success:         success,
		FailureReason:   strings.TrimSpace(query.FailureReason),
		StartAt:         startAt,
		EndAt:           endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ResetUserRateLimit(c *gin.Context) {
	if !s.limiter.Enabled() {
		c.Status(http.StatusNoContent)
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("user_id")))
	if err != nil || userID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	if err := s.limiter.Reset(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) codeIDFromRoute(c *gin.Context) (snowflake.ID, bool) {
	codeID, err := snowflake.ParseString(strings.TrimSpace(c.Param("code_id")))
	if err != nil || codeID == 0 {
		AbortWithError(c, newValidationError("code_id", "invalid_code_id", "invalid code id"))
		return 0, false
	}
	return codeID, true
}
