package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	virtuallabdomain "github.com/vlabcloud/vlab/internal/virtuallab/domain"
)

type createLabRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) CreateVirtualLab(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		return
	}

	var req createLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lab, err := s.virtualLabSvc.Create(c.Request.Context(), userID, virtuallabdomain.CreateLabRequest{
		Name: req.Name,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, lab)
}

func (s *Server) ListVirtualLabs(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		return
	}

	labs, err := s.virtualLabSvc.ListLabsByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"virtual_labs": labs})
}

func (s *Server) GetVirtualLab(c *gin.Context) {
	labID, ok := s.labIDFromRoute(c)
	if !ok {
		return
	}

	lab, err := s.virtualLabSvc.GetByID(c.Request.Context(), labID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, lab)
}

type addMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

func (s *Server) AddLabMember(c *gin.Context) {
	labID, ok := s.labIDFromRoute(c)
	if !ok {
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	memberID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || memberID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	if err := s.virtualLabSvc.AddMember(c.Request.Context(), labID.String(), memberID, req.Role); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveLabMember(c *gin.Context) {
	labID, ok := s.labIDFromRoute(c)
	if !ok {
		return
	}

	memberID, err := snowflake.ParseString(strings.TrimSpace(c.Param("user_id")))
	if err != nil || memberID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	if err := s.virtualLabSvc.RemoveMember(c.Request.Context(), labID.String(), memberID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
