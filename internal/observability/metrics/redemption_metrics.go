// Package metrics exposes prometheus instruments for the redemption engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeCompleted  = "completed"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
	OutcomeRateLimit  = "rate_limited"
	OutcomeDeniedAuth = "unauthorized"
)

// RedemptionMetrics captures promo-code redemption health signals.
type RedemptionMetrics struct {
	attempts           *prometheus.CounterVec
	creditsGranted     prometheus.Counter
	accountingDuration prometheus.Histogram
	accountingFailures prometheus.Counter
}

func NewRedemptionMetrics() *RedemptionMetrics {
	return &RedemptionMetrics{
		attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vlab",
			Subsystem: "promocode",
			Name:      "redemption_attempts_total",
			Help:      "Redemption calls by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		creditsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "vlab",
			Subsystem: "promocode",
			Name:      "credits_granted_total",
			Help:      "Credits granted through completed redemptions.",
		}),
		accountingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vlab",
			Subsystem: "promocode",
			Name:      "accounting_call_seconds",
			Help:      "Latency of external ledger credit calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		accountingFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "vlab",
			Subsystem: "promocode",
			Name:      "accounting_failures_total",
			Help:      "External ledger credit calls that failed or timed out.",
		}),
	}
}

func (m *RedemptionMetrics) ObserveAttempt(outcome, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.attempts.WithLabelValues(outcome, reason).Inc()
}

func (m *RedemptionMetrics) ObserveCredits(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsGranted.Add(float64(amount))
}

func (m *RedemptionMetrics) ObserveAccountingCall(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.accountingDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.accountingFailures.Inc()
	}
}
