package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vlabcloud/vlab/internal/promocode/domain"
)

func intPtr(v int) *int { return &v }

func activeCode(now time.Time) *domain.PromotionCode {
	return &domain.PromotionCode{
		ID:                 1,
		Code:               "WELCOME100",
		CreditsAmount:      100,
		ValidityPeriodDays: 30,
		MaxUsesPerUser:     1,
		Active:             true,
		ValidFrom:          now.Add(-time.Hour),
		ValidUntil:         now.Add(time.Hour),
	}
}

func TestRun_NilCode(t *testing.T) {
	err := Run(nil, Input{Now: time.Now()})
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

func TestRun_InactiveCodeHidesAsNotFound(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.Active = false

	err := Run(code, Input{Now: now})
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

func TestRun_NotYetValid(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.ValidFrom = now.Add(time.Minute)

	err := Run(code, Input{Now: now})
	var notYet *domain.NotYetValidError
	assert.ErrorAs(t, err, &notYet)
	assert.Equal(t, code.ValidFrom, notYet.ValidFrom)
}

func TestRun_Expired(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.ValidUntil = now.Add(-time.Minute)

	err := Run(code, Input{Now: now})
	var expired *domain.ExpiredError
	assert.ErrorAs(t, err, &expired)
}

func TestRun_BoundaryInstantsAreValid(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.ValidFrom = now
	assert.NoError(t, Run(code, Input{Now: now}))

	code = activeCode(now)
	code.ValidUntil = now
	assert.NoError(t, Run(code, Input{Now: now}))
}

func TestRun_TotalLimitReached(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.MaxTotalUses = intPtr(5)
	code.CurrentTotalUses = 5

	err := Run(code, Input{Now: now})
	var limit *domain.UsageLimitError
	assert.ErrorAs(t, err, &limit)
	assert.Equal(t, 5, limit.Limit)
}

func TestRun_UnlimitedTotalUses(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.CurrentTotalUses = 1_000_000

	assert.NoError(t, Run(code, Input{Now: now}))
}

func TestRun_UserLimitReached(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.MaxUsesPerUser = 2

	assert.NoError(t, Run(code, Input{Now: now, UserUsesInPeriod: 1}))

	err := Run(code, Input{Now: now, UserUsesInPeriod: 2})
	var used *domain.AlreadyUsedError
	assert.ErrorAs(t, err, &used)
	assert.Equal(t, 2, used.Limit)
}

func TestRun_ZeroPerUserLimitDefaultsToOne(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.MaxUsesPerUser = 0

	assert.NoError(t, Run(code, Input{Now: now, UserUsesInPeriod: 0}))
	assert.Error(t, Run(code, Input{Now: now, UserUsesInPeriod: 1}))
}

func TestRun_WindowCheckedBeforeLimits(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.ValidUntil = now.Add(-time.Minute)
	code.MaxTotalUses = intPtr(1)
	code.CurrentTotalUses = 1

	err := Run(code, Input{Now: now, UserUsesInPeriod: 5})
	var expired *domain.ExpiredError
	assert.ErrorAs(t, err, &expired)
}

func TestCollect_ReturnsAllFailures(t *testing.T) {
	now := time.Now().UTC()
	code := activeCode(now)
	code.ValidUntil = now.Add(-time.Minute)
	code.MaxTotalUses = intPtr(1)
	code.CurrentTotalUses = 1

	failures := Collect(code, Input{Now: now, UserUsesInPeriod: 1})
	assert.Len(t, failures, 3)
}

func TestCollect_NilCodeShortCircuits(t *testing.T) {
	failures := Collect(nil, Input{Now: time.Now()})
	assert.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], domain.ErrCodeNotFound))
}
