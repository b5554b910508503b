package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/vlabcloud/vlab/internal/config"
)

func newTestWindow(t *testing.T) *SlidingWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSlidingWindow(client)
}

func TestCastToInt(t *testing.T) {
	assert.Equal(t, int64(7), castToInt(int64(7)))
	assert.Equal(t, int64(7), castToInt(7))
	assert.Equal(t, int64(7), castToInt(7.9))
	assert.Equal(t, int64(0), castToInt("7"))
	assert.Equal(t, int64(0), castToInt(nil))
}

func TestSlidingWindow_InputValidation(t *testing.T) {
	w := NewSlidingWindow(nil)
	assert.Nil(t, w)

	_, err := w.Allow(context.Background(), "k", 3, time.Minute, time.Now())
	assert.Error(t, err)
	assert.Error(t, w.Reset(context.Background(), "k"))
}

func TestSlidingWindow_AdmitsUpToLimitThenDenies(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	window := 30 * time.Minute

	for i := 0; i < 3; i++ {
		decision, err := w.Allow(ctx, "user:1", 3, window, now)
		assert.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	// Fourth attempt in the same window is refused and the wait is pinned
	// to the oldest admitted entry.
	decision, err := w.Allow(ctx, "user:1", 3, window, now)
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, window, decision.RetryAfter)

	// Ten minutes later the oldest entry still has twenty minutes to live.
	decision, err = w.Allow(ctx, "user:1", 3, window, now.Add(10*time.Minute))
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 20*time.Minute, decision.RetryAfter)

	// Other keys are unaffected.
	decision, err = w.Allow(ctx, "user:2", 3, window, now)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestSlidingWindow_SlidesContinuously(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	window := 30 * time.Minute

	for i := 0; i < 3; i++ {
		decision, err := w.Allow(ctx, "user:1", 3, window, now)
		assert.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	// Just inside the window: still full.
	decision, err := w.Allow(ctx, "user:1", 3, window, now.Add(window-time.Millisecond))
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)

	// Once the first entries age out the caller is admitted again.
	decision, err = w.Allow(ctx, "user:1", 3, window, now.Add(window+time.Millisecond))
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestSlidingWindow_ResetClearsTheKey(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		_, err := w.Allow(ctx, "user:1", 2, time.Minute, now)
		assert.NoError(t, err)
	}
	decision, err := w.Allow(ctx, "user:1", 2, time.Minute, now)
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)

	assert.NoError(t, w.Reset(ctx, "user:1"))

	decision, err = w.Allow(ctx, "user:1", 2, time.Minute, now)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
}

func TestRedemptionLimiter_DisabledAdmitsEverything(t *testing.T) {
	cfg := config.Config{}
	limiter, err := NewRedemptionLimiter(cfg, nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	decision, err := limiter.Allow(context.Background(), 42)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, config.DefaultRedemptionConfig().RateLimitMaxAttempts, decision.Limit)

	assert.NoError(t, limiter.Reset(context.Background(), 42))
}
