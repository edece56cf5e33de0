package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fanvault"

// Outcome labels shared by webhook and reconciler counters.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// PaymentMetrics tracks webhook intake and reconciliation outcomes.
type PaymentMetrics struct {
	webhooks   *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	payouts    *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment collectors on reg. A nil registerer
// yields a metrics value whose methods are no-ops.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "events_total",
		Help:      "Reconciled payment events by type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "apply_duration_seconds",
		Help:      "Time spent applying one payment event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payouts",
		Name:      "transitions_total",
		Help:      "Payout status transitions by resulting status.",
	}, []string{"status"})
	reg.MustRegister(webhooks, reconciled, duration, payouts)
	return &PaymentMetrics{
		webhooks:   webhooks,
		reconciled: reconciled,
		duration:   duration,
		payouts:    payouts,
	}
}

func (m *PaymentMetrics) IncWebhook(provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncReconciled(eventType, outcome string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) ObserveApply(eventType string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(d.Seconds())
}

func (m *PaymentMetrics) IncPayout(status string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(status)).Inc()
}
