package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/internal/config"
)

const keyRedeemUser = "promo:redeem:user:%s"

// RedemptionLimiter throttles redemption attempts per user. A nil or
// unconfigured limiter admits everything, so a missing redis is a degraded
// deployment rather than an outage.
type RedemptionLimiter struct {
	enabled bool

	window *SlidingWindow
	holder *config.RedemptionConfigHolder
	clock  clock.Clock
}

func NewRedemptionLimiter(cfg config.Config, holder *config.RedemptionConfigHolder, clk clock.Clock) (*RedemptionLimiter, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})

	return &RedemptionLimiter{
		enabled: true,
		window:  NewSlidingWindow(client),
		holder:  holder,
		clock:   clk,
	}, nil
}

func (l *RedemptionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow admits or rejects one redemption attempt for the user. Admitted
// attempts are counted immediately; rejected ones are not, so a rejected
// caller does not extend their own lockout.
func (l *RedemptionLimiter) Allow(ctx context.Context, userID snowflake.ID) (*Decision, error) {
	policy := l.policy()
	if !l.Enabled() {
		return &Decision{
			Allowed:   true,
			Limit:     policy.RateLimitMaxAttempts,
			Remaining: policy.RateLimitMaxAttempts,
			Window:    policy.RateLimitWindow(),
		}, nil
	}
	return l.window.Allow(
		ctx,
		fmt.Sprintf(keyRedeemUser, userID.String()),
		policy.RateLimitMaxAttempts,
		policy.RateLimitWindow(),
		l.clock.Now(),
	)
}

// Reset clears the user's window. Admin surface only.
func (l *RedemptionLimiter) Reset(ctx context.Context, userID snowflake.ID) error {
	if !l.Enabled() {
		return nil
	}
	return l.window.Reset(ctx, fmt.Sprintf(keyRedeemUser, userID.String()))
}

func (l *RedemptionLimiter) policy() config.RedemptionConfig {
	if l != nil && l.holder != nil {
		return l.holder.Current()
	}
	return config.DefaultRedemptionConfig()
}
