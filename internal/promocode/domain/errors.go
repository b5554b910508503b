package domain

import (
	"errors"
	"fmt"
	"time"
)

// Reason tags recorded on redemption attempt rows and surfaced to clients.
const (
	ReasonNotFound        = "code_not_found"
	ReasonNotYetValid     = "code_not_yet_valid"
	ReasonExpired         = "code_expired"
	ReasonUsageLimit      = "usage_limit_reached"
	ReasonAlreadyUsed     = "already_used"
	ReasonRateLimited     = "rate_limited"
	ReasonUnauthorized    = "unauthorized"
	ReasonAccountingError = "accounting_failure"
	ReasonInternalError   = "internal_error"
)

var (
	// ErrCodeNotFound covers both unknown and inactive codes so callers
	// cannot probe code lifecycle state.
	ErrCodeNotFound = errors.New("promotion_code_not_found")

	ErrInvalidCode    = errors.New("invalid_promotion_code")
	ErrInvalidCredits = errors.New("invalid_credits_amount")
	ErrInvalidWindow  = errors.New("invalid_validity_window")
	ErrInvalidLimit   = errors.New("invalid_usage_limit")
)

// NotYetValidError is returned when a code's window has not opened yet.
type NotYetValidError struct {
	Code      string
	ValidFrom time.Time
}

func (e *NotYetValidError) Error() string {
	return fmt.Sprintf("promotion code %s is not valid until %s", e.Code, e.ValidFrom.Format(time.RFC3339))
}

// ExpiredError is returned when a code's window has closed.
type ExpiredError struct {
	Code       string
	ValidUntil time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("promotion code %s expired at %s", e.Code, e.ValidUntil.Format(time.RFC3339))
}

// UsageLimitError is returned when the total-use ceiling is hit.
type UsageLimitError struct {
	Code  string
	Limit int
}

func (e *UsageLimitError) Error() string {
	return fmt.Sprintf("promotion code %s has reached its usage limit of %d", e.Code, e.Limit)
}

// AlreadyUsedError is returned when the caller exhausted the per-user quota
// for this code within its validity period.
type AlreadyUsedError struct {
	Code  string
	Limit int
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("promotion code %s was already redeemed the maximum %d time(s) in this period", e.Code, e.Limit)
}

// FailureReason classifies a validation error into an attempt-log reason tag.
// Unknown errors map to an empty string.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var notYet *NotYetValidError
	var expired *ExpiredError
	var limit *UsageLimitError
	var used *AlreadyUsedError
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return ReasonNotFound
	case errors.As(err, &notYet):
		return ReasonNotYetValid
	case errors.As(err, &expired):
		return ReasonExpired
	case errors.As(err, &limit):
		return ReasonUsageLimit
	case errors.As(err, &used):
		return ReasonAlreadyUsed
	default:
		return ""
	}
}

// IsValidationError reports whether err belongs to the client-side
// validation taxonomy (as opposed to server-side failures).
func IsValidationError(err error) bool {
	return FailureReason(err) != ""
}
