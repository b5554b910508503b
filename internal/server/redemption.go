package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	redemptiondomain "github.com/vlabcloud/vlab/internal/redemption/domain"
)

type redeemRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) RedeemPromoCode(c *gin.Context) {
	labID, ok := s.labIDFromRoute(c)
	if !ok {
		return
	}
	userID, ok := s.userIDFromContext(c)
	if !ok {
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	code := promodomain.NormalizeCode(req.Code)
	if code == "" {
		AbortWithError(c, newValidationError("code", "invalid_promotion_code", "code is required"))
		return
	}
	c.Set("promo_code", code)

	result, err := s.redemptionSvc.Redeem(c.Request.Context(), redemptiondomain.RedeemRequest{
		Code:         code,
		UserID:       userID,
		VirtualLabID: labID,
		RequestID:    strings.TrimSpace(c.GetString("request_id")),
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) CanRedeemPromoCode(c *gin.Context) {
	labID, ok := s.labIDFromRoute(c)
	if !ok {
		return
	}
	userID, ok := s.userIDFromContext(c)
	if !ok {
		return
	}

	code := promodomain.NormalizeCode(c.Query("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "invalid_promotion_code", "code is required"))
		return
	}
	c.Set("promo_code", code)

	result, err := s.redemptionSvc.CanRedeem(c.Request.Context(), redemptiondomain.RedeemRequest{
		Code:         code,
		UserID:       userID,
		VirtualLabID: labID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
