// Package validate holds the pure promo-code decision pipeline. It takes
// already-gathered inputs (the resolved row, usage counts, a timestamp) so
// it can be exercised without a database; the redemption service is the I/O
// shim that feeds it.
package validate

import (
	"time"

	"github.com/vlabcloud/vlab/internal/promocode/domain"
)

// Input carries everything the pipeline needs beyond the code row itself.
type Input struct {
	// Now is the single timestamp used for every window comparison in one
	// redemption attempt.
	Now time.Time
	// UserUsesInPeriod counts the caller's non-failed redemptions of this
	// code for the target lab within the code's validity window.
	UserUsesInPeriod int
}

// Run applies the ordered validation battery against a resolved code row,
// short-circuiting on the first failure. A nil code means the lookup found
// no active candidate.
func Run(code *domain.PromotionCode, in Input) error {
	for _, stage := range stages {
		if err := stage(code, in); err != nil {
			return err
		}
	}
	return nil
}

// Collect runs every stage and returns all failures, for non-mutating
// pre-flight display. An existence failure still short-circuits: the
// remaining stages are meaningless without a row.
func Collect(code *domain.PromotionCode, in Input) []error {
	var failures []error
	for _, stage := range stages {
		if err := stage(code, in); err != nil {
			failures = append(failures, err)
			if code == nil {
				break
			}
		}
	}
	return failures
}

type stageFunc func(*domain.PromotionCode, Input) error

// Stage order is cheap-to-expensive; the per-user count is the only input
// that costs a query, so callers may gather it lazily.
var stages = []stageFunc{
	checkExists,
	checkWindow,
	checkTotalLimit,
	checkUserLimit,
}

func checkExists(code *domain.PromotionCode, _ Input) error {
	// Inactive rows are filtered out at lookup; both cases surface as
	// not-found so lifecycle state does not leak.
	if code == nil || !code.Active {
		return domain.ErrCodeNotFound
	}
	return nil
}

func checkWindow(code *domain.PromotionCode, in Input) error {
	if code == nil {
		return nil
	}
	if in.Now.Before(code.ValidFrom) {
		return &domain.NotYetValidError{Code: code.Code, ValidFrom: code.ValidFrom}
	}
	if in.Now.After(code.ValidUntil) {
		return &domain.ExpiredError{Code: code.Code, ValidUntil: code.ValidUntil}
	}
	return nil
}

func checkTotalLimit(code *domain.PromotionCode, _ Input) error {
	if code == nil {
		return nil
	}
	if code.TotalUsesExhausted() {
		return &domain.UsageLimitError{Code: code.Code, Limit: *code.MaxTotalUses}
	}
	return nil
}

func checkUserLimit(code *domain.PromotionCode, in Input) error {
	if code == nil {
		return nil
	}
	limit := code.MaxUsesPerUser
	if limit < 1 {
		limit = 1
	}
	if in.UserUsesInPeriod >= limit {
		return &domain.AlreadyUsedError{Code: code.Code, Limit: limit}
	}
	return nil
}
