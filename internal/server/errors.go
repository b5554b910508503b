package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountingdomain "github.com/vlabcloud/vlab/internal/accounting/domain"
	auditdomain "github.com/vlabcloud/vlab/internal/audit/domain"
	"github.com/vlabcloud/vlab/internal/authorization"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	redemptiondomain "github.com/vlabcloud/vlab/internal/redemption/domain"
	virtuallabdomain "github.com/vlabcloud/vlab/internal/virtuallab/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Reason  string            `json:"reason,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var rateLimited *redemptiondomain.RateLimitedError
		if errors.As(lastErr.Err, &rateLimited) {
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(rateLimited)))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var rateLimited *redemptiondomain.RateLimitedError
	if errors.As(err, &rateLimited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many redemption attempts",
			Reason:  promodomain.ReasonRateLimited,
		}
	}

	// The redemption taxonomy carries the same reason tags recorded in the
	// attempt log so clients and the log agree on vocabulary.
	if reason := promodomain.FailureReason(err); reason != "" {
		if reason == promodomain.ReasonNotFound {
			return http.StatusNotFound, errorPayload{
				Type:    "not_found",
				Message: "promotion code not found",
				Reason:  reason,
			}
		}
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "redemption_rejected",
			Message: err.Error(),
			Reason:  reason,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
			Reason:  promodomain.ReasonUnauthorized,
		}
	case errors.Is(err, accountingdomain.ErrUnavailable),
		errors.Is(err, accountingdomain.ErrRejected):
		return http.StatusBadGateway, errorPayload{
			Type:    "accounting_failure",
			Message: "credit could not be applied",
			Reason:  promodomain.ReasonAccountingError,
		}
	case errors.Is(err, virtuallabdomain.ErrLastOwner):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "the last owner cannot be removed",
		}
	case errors.Is(err, virtuallabdomain.ErrAlreadyMember):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "user is already a member of this lab",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, redemptiondomain.ErrInvalidRequest),
		errors.Is(err, promodomain.ErrInvalidCode),
		errors.Is(err, promodomain.ErrInvalidCredits),
		errors.Is(err, promodomain.ErrInvalidWindow),
		errors.Is(err, promodomain.ErrInvalidLimit),
		errors.Is(err, virtuallabdomain.ErrInvalidName),
		errors.Is(err, virtuallabdomain.ErrInvalidUser),
		errors.Is(err, virtuallabdomain.ErrInvalidVirtualLab),
		errors.Is(err, virtuallabdomain.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidVirtualLab),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, virtuallabdomain.ErrLabNotFound),
		errors.Is(err, virtuallabdomain.ErrMemberNotFound),
		errors.Is(err, redemptiondomain.ErrUsageNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, redemptiondomain.ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger so rejected codes can be
// demoted below info without parsing response bodies.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		return "validation_error", vErr.Errors[0].Code
	}
	var rateLimited *redemptiondomain.RateLimitedError
	if errors.As(err, &rateLimited) {
		return "rate_limited", promodomain.ReasonRateLimited
	}
	if reason := promodomain.FailureReason(err); reason != "" {
		return "validation_error", reason
	}
	if isValidationError(err) {
		return "validation_error", validationErrorCode(err)
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", "unauthorized"
	case errors.Is(err, ErrForbidden), errors.Is(err, authorization.ErrForbidden):
		return "forbidden", promodomain.ReasonUnauthorized
	case errors.Is(err, accountingdomain.ErrUnavailable), errors.Is(err, accountingdomain.ErrRejected):
		return "accounting_failure", promodomain.ReasonAccountingError
	case errors.Is(err, virtuallabdomain.ErrLastOwner):
		return "conflict", virtuallabdomain.ErrLastOwner.Error()
	case errors.Is(err, virtuallabdomain.ErrAlreadyMember):
		return "conflict", virtuallabdomain.ErrAlreadyMember.Error()
	case isNotFoundError(err):
		return "not_found", "not_found"
	default:
		return "internal_error", "internal_error"
	}
}

func retryAfterSeconds(err *redemptiondomain.RateLimitedError) int {
	seconds := int(err.RetryAfter.Seconds())
	if float64(seconds) < err.RetryAfter.Seconds() {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
