package server

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditcontext "github.com/vlabcloud/vlab/internal/auditcontext"
	obscontext "github.com/vlabcloud/vlab/internal/observability/context"
)

const (
	HeaderUser       = "X-User-ID"
	contextUserIDKey = "user_id"
	contextLabIDKey  = "lab_id"
)

// RequireUser resolves the authenticated caller from the gateway-injected
// identity header. The edge proxy terminates sessions; this service only
// trusts its forwarded identity.
func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUser))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID.String())

		ctx := c.Request.Context()
		ctx = auditcontext.WithActor(ctx, "user", userID.String())
		ctx = obscontext.WithActor(ctx, "user", userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authorizeLabAction enforces the casbin policy for the lab named in the
// route before the handler runs.
func (s *Server) authorizeLabAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		labID, ok := s.labIDFromRoute(c)
		if !ok {
			return
		}
		userID, ok := s.userIDFromContext(c)
		if !ok {
			return
		}

		actor := fmt.Sprintf("user:%s", userID.String())
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, labID.String(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) userIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetString(contextUserIDKey))
	userID, err := snowflake.ParseString(raw)
	if err != nil || userID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return userID, true
}

func (s *Server) labIDFromRoute(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param("lab_id"))
	labID, err := snowflake.ParseString(raw)
	if err != nil || labID == 0 {
		AbortWithError(c, newValidationError("lab_id", "invalid_virtual_lab", "invalid virtual lab id"))
		return 0, false
	}

	c.Set(contextLabIDKey, labID.String())
	ctx := obscontext.WithLabID(c.Request.Context(), labID.String())
	c.Request = c.Request.WithContext(ctx)
	return labID, true
}
