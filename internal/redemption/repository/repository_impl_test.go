package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/vlabcloud/vlab/internal/redemption/domain"
	"gorm.io/gorm"
)

func openUsageDB(t *testing.T, name string) (*gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.PromotionCodeUsage{}))
	node, _ := snowflake.NewNode(1)
	return db, node
}

func pendingUsage(node *snowflake.Node, codeID, userID, labID snowflake.ID) *domain.PromotionCodeUsage {
	now := time.Now().UTC()
	return &domain.PromotionCodeUsage{
		ID:              node.Generate(),
		PromotionCodeID: codeID,
		UserID:          userID,
		VirtualLabID:    labID,
		CreditsGranted:  100,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestOpenPending_ForcesPendingStatus(t *testing.T) {
	db, node := openUsageDB(t, "usage_open_pending")
	r := Provide()
	ctx := context.Background()

	usage := pendingUsage(node, node.Generate(), node.Generate(), node.Generate())
	usage.Status = "COMPLETED"
	assert.NoError(t, r.OpenPending(ctx, db, usage))

	stored, err := r.GetByID(ctx, db, usage.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.False(t, stored.Terminal())
}

func TestFinalize_TerminalStateIsImmutable(t *testing.T) {
	db, node := openUsageDB(t, "usage_finalize")
	r := Provide()
	ctx := context.Background()

	usage := pendingUsage(node, node.Generate(), node.Generate(), node.Generate())
	assert.NoError(t, r.OpenPending(ctx, db, usage))

	txID := "acct_tx_1"
	redeemedAt := time.Now().UTC()
	assert.NoError(t, r.Finalize(ctx, db, usage.ID, domain.FinalizeUpdate{
		Status:         domain.StatusCompleted,
		AccountingTxID: &txID,
		RedeemedAt:     &redeemedAt,
	}))

	stored, err := r.GetByID(ctx, db, usage.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.True(t, stored.Terminal())
	assert.Equal(t, "acct_tx_1", *stored.AccountingTxID)

	// A second transition is refused and the row keeps its state.
	reason := "accounting_failure"
	err = r.Finalize(ctx, db, usage.ID, domain.FinalizeUpdate{
		Status:        domain.StatusFailed,
		FailureReason: &reason,
	})
	assert.ErrorIs(t, err, domain.ErrUsageAlreadyFinal)

	stored, err = r.GetByID(ctx, db, usage.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Nil(t, stored.FailureReason)
}

func TestFinalize_UnknownUsage(t *testing.T) {
	db, node := openUsageDB(t, "usage_finalize_missing")
	r := Provide()

	err := r.Finalize(context.Background(), db, node.Generate(), domain.FinalizeUpdate{
		Status: domain.StatusCompleted,
	})
	assert.ErrorIs(t, err, domain.ErrUsageNotFound)
}

func TestCountInPeriod_ScopedToUserLabAndWindow(t *testing.T) {
	db, node := openUsageDB(t, "usage_count")
	r := Provide()
	ctx := context.Background()
	codeID := node.Generate()
	userID := node.Generate()
	labID := node.Generate()
	otherLab := node.Generate()

	completed := pendingUsage(node, codeID, userID, labID)
	assert.NoError(t, r.OpenPending(ctx, db, completed))
	assert.NoError(t, r.Finalize(ctx, db, completed.ID, domain.FinalizeUpdate{Status: domain.StatusCompleted}))

	pending := pendingUsage(node, codeID, userID, labID)
	assert.NoError(t, r.OpenPending(ctx, db, pending))

	failed := pendingUsage(node, codeID, userID, labID)
	assert.NoError(t, r.OpenPending(ctx, db, failed))
	assert.NoError(t, r.Finalize(ctx, db, failed.ID, domain.FinalizeUpdate{Status: domain.StatusFailed}))

	// Redemptions for another lab are a separate quota.
	elsewhere := pendingUsage(node, codeID, userID, otherLab)
	assert.NoError(t, r.OpenPending(ctx, db, elsewhere))

	// Rows outside the window do not count.
	old := pendingUsage(node, codeID, userID, labID)
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -60)
	assert.NoError(t, r.OpenPending(ctx, db, old))

	from := time.Now().UTC().AddDate(0, 0, -30)
	until := time.Now().UTC().AddDate(0, 0, 30)
	count, err := r.CountInPeriod(ctx, db, codeID, userID, labID, from, until)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = r.CountInPeriod(ctx, db, codeID, userID, otherLab, from, until)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	// Other users do not share the quota either.
	count, err = r.CountInPeriod(ctx, db, codeID, node.Generate(), labID, from, until)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStats_CountsCompletedOnly(t *testing.T) {
	db, node := openUsageDB(t, "usage_stats")
	r := Provide()
	ctx := context.Background()
	codeID := node.Generate()

	alice := node.Generate()
	for i := 0; i < 2; i++ {
		usage := pendingUsage(node, codeID, alice, node.Generate())
		assert.NoError(t, r.OpenPending(ctx, db, usage))
		assert.NoError(t, r.Finalize(ctx, db, usage.ID, domain.FinalizeUpdate{Status: domain.StatusCompleted}))
	}

	bob := node.Generate()
	usage := pendingUsage(node, codeID, bob, node.Generate())
	assert.NoError(t, r.OpenPending(ctx, db, usage))
	assert.NoError(t, r.Finalize(ctx, db, usage.ID, domain.FinalizeUpdate{Status: domain.StatusCompleted}))

	// Failed rows never count toward stats.
	failed := pendingUsage(node, codeID, bob, node.Generate())
	assert.NoError(t, r.OpenPending(ctx, db, failed))
	assert.NoError(t, r.Finalize(ctx, db, failed.ID, domain.FinalizeUpdate{Status: domain.StatusFailed}))

	stats, err := r.Stats(ctx, db, codeID)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRedemptions)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(300), stats.CreditsGranted)
}
