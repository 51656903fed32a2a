package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records payment-flow outcomes for the dashboards the back
// office reads.
type CheckoutMetrics struct {
	started      *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	started := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempts_started",
		Help: "Checkout attempts entered, split by fresh submissions and resumes.",
	}, []string{"mode"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempts_finished",
		Help: "Terminal checkout outcomes by state and failure kind.",
	}, []string{"state", "kind"})
	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_step_duration_seconds",
		Help:    "Duration of each backend call in the checkout sequence.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
	reg.MustRegister(started, outcomes, stepDuration)
	return &CheckoutMetrics{
		started:      started,
		outcomes:     outcomes,
		stepDuration: stepDuration,
	}
}

// IncStarted counts a fresh submission ("submit") or a resume ("resume").
func (c *CheckoutMetrics) IncStarted(mode string) {
	if c == nil || c.started == nil {
		return
	}
	c.started.WithLabelValues(normalizeLabel(mode)).Inc()
}

// IncOutcome counts a terminal state; kind is empty unless the state is failed.
func (c *CheckoutMetrics) IncOutcome(state, kind string) {
	if c == nil || c.outcomes == nil {
		return
	}
	c.outcomes.WithLabelValues(normalizeLabel(state), normalizeLabel(kind)).Inc()
}

// ObserveStep records the duration of one backend call.
func (c *CheckoutMetrics) ObserveStep(step string, duration time.Duration) {
	if c == nil || c.stepDuration == nil {
		return
	}
	c.stepDuration.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "none"
	}
	return strings.ReplaceAll(trimmed, " ", "_")
}
