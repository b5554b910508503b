package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/internal/promocode/domain"
	"github.com/vlabcloud/vlab/internal/promocode/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newServiceFixture(t *testing.T, name string) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.PromotionCode{}))

	node, _ := snowflake.NewNode(1)
	clk := clock.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, db, clk
}

func createRequest(clk *clock.FakeClock) domain.CreatePromotionCodeRequest {
	now := clk.Now()
	return domain.CreatePromotionCodeRequest{
		Code:          "spring50",
		Description:   "spring campaign",
		CreditsAmount: 50,
		ValidFrom:     now,
		ValidUntil:    now.AddDate(0, 0, 90),
	}
}

func TestCreate_AppliesDefaults(t *testing.T) {
	svc, _, clk := newServiceFixture(t, "promo_svc_create")

	code, err := svc.Create(context.Background(), createRequest(clk))
	assert.NoError(t, err)
	assert.Equal(t, "SPRING50", code.Code)
	assert.True(t, code.Active)
	assert.Equal(t, 1, code.MaxUsesPerUser)
	assert.Nil(t, code.MaxTotalUses)
	// Derived from the validity window when not set explicitly.
	assert.Equal(t, 90, code.ValidityPeriodDays)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, clk := newServiceFixture(t, "promo_svc_create_invalid")

	req := createRequest(clk)
	req.Code = "  "
	_, err := svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	req = createRequest(clk)
	req.CreditsAmount = 0
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidCredits)

	req = createRequest(clk)
	req.ValidUntil = req.ValidFrom
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	zero := 0
	req = createRequest(clk)
	req.MaxTotalUses = &zero
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)
}

func TestUpdate_CannotLowerCeilingBelowSpend(t *testing.T) {
	svc, db, clk := newServiceFixture(t, "promo_svc_update_ceiling")

	code, err := svc.Create(context.Background(), createRequest(clk))
	assert.NoError(t, err)
	assert.NoError(t, db.Model(code).Update("current_total_uses", 7).Error)

	five := 5
	_, err = svc.Update(context.Background(), code.ID, domain.UpdatePromotionCodeRequest{MaxTotalUses: &five})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)

	ten := 10
	updated, err := svc.Update(context.Background(), code.ID, domain.UpdatePromotionCodeRequest{MaxTotalUses: &ten})
	assert.NoError(t, err)
	assert.Equal(t, 10, *updated.MaxTotalUses)
}

func TestUpdate_RejectsWindowInversion(t *testing.T) {
	svc, _, clk := newServiceFixture(t, "promo_svc_update_window")

	code, err := svc.Create(context.Background(), createRequest(clk))
	assert.NoError(t, err)

	before := code.ValidFrom.Add(-time.Hour)
	_, err = svc.Update(context.Background(), code.ID, domain.UpdatePromotionCodeRequest{ValidUntil: &before})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestUpdate_UnknownCode(t *testing.T) {
	svc, _, _ := newServiceFixture(t, "promo_svc_update_missing")

	active := false
	_, err := svc.Update(context.Background(), 12345, domain.UpdatePromotionCodeRequest{Active: &active})
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

func TestDeactivateThenList(t *testing.T) {
	svc, _, clk := newServiceFixture(t, "promo_svc_deactivate")

	code, err := svc.Create(context.Background(), createRequest(clk))
	assert.NoError(t, err)
	assert.NoError(t, svc.Deactivate(context.Background(), code.ID))

	active := true
	codes, err := svc.List(context.Background(), domain.ListFilter{Active: &active})
	assert.NoError(t, err)
	assert.Empty(t, codes)

	active = false
	codes, err = svc.List(context.Background(), domain.ListFilter{Active: &active})
	assert.NoError(t, err)
	assert.Len(t, codes, 1)
}
