package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RedemptionConfig holds the operator-tunable promo-code redemption policy.
type RedemptionConfig struct {
	// RateLimitMaxAttempts is the number of redemption calls a single user
	// may make inside one sliding window, successful or not.
	RateLimitMaxAttempts int `mapstructure:"rateLimitMaxAttempts"`
	// RateLimitWindowMinutes is the sliding window length.
	RateLimitWindowMinutes int `mapstructure:"rateLimitWindowMinutes"`
	// AccountingTimeoutSeconds bounds the external ledger credit call.
	AccountingTimeoutSeconds int `mapstructure:"accountingTimeoutSeconds"`
}

func DefaultRedemptionConfig() RedemptionConfig {
	return RedemptionConfig{
		RateLimitMaxAttempts:     3,
		RateLimitWindowMinutes:   30,
		AccountingTimeoutSeconds: 10,
	}
}

func (c RedemptionConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

func (c RedemptionConfig) AccountingTimeout() time.Duration {
	return time.Duration(c.AccountingTimeoutSeconds) * time.Second
}

// RedemptionConfigHolder exposes the current policy and hot-reloads it when
// the backing file changes.
type RedemptionConfigHolder struct {
	current atomic.Value // holds RedemptionConfig
}

func NewRedemptionConfigHolder() (*RedemptionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("redemption")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/vlab/config") // Volume-mounted config
	v.AddConfigPath("/etc/vlab")            // System config
	v.AddConfigPath(".")                    // Current directory (dev mode)

	v.SetEnvPrefix("VLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRedemptionConfig()
	v.SetDefault("redemption.rateLimitMaxAttempts", defaults.RateLimitMaxAttempts)
	v.SetDefault("redemption.rateLimitWindowMinutes", defaults.RateLimitWindowMinutes)
	v.SetDefault("redemption.accountingTimeoutSeconds", defaults.AccountingTimeoutSeconds)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg RedemptionConfig
	if err := v.UnmarshalKey("redemption", &cfg); err != nil {
		return nil, err
	}
	if err := validateRedemptionConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RedemptionConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RedemptionConfig
		if err := v.UnmarshalKey("redemption", &updated); err != nil {
			log.Printf("[redemption-config] reload failed: %v", err)
			return
		}
		if err := validateRedemptionConfig(updated); err != nil {
			log.Printf("[redemption-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[redemption-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Current returns the active redemption policy.
func (h *RedemptionConfigHolder) Current() RedemptionConfig {
	if h == nil {
		return DefaultRedemptionConfig()
	}
	if cfg, ok := h.current.Load().(RedemptionConfig); ok {
		return cfg
	}
	return DefaultRedemptionConfig()
}

func validateRedemptionConfig(cfg RedemptionConfig) error {
	if cfg.RateLimitMaxAttempts <= 0 {
		return errors.New("redemption.rateLimitMaxAttempts must be positive")
	}
	if cfg.RateLimitWindowMinutes <= 0 {
		return errors.New("redemption.rateLimitWindowMinutes must be positive")
	}
	if cfg.AccountingTimeoutSeconds <= 0 {
		return errors.New("redemption.accountingTimeoutSeconds must be positive")
	}
	return nil
}
