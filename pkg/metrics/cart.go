package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoop    = "noop"
)

// CartMetrics records remote sync, merge, and storage health for the cart engine.
type CartMetrics struct {
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	merges         *prometheus.CounterVec
	corruption     prometheus.Counter
}

// NewCartMetrics registers the cart metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	remoteCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_remote_calls_total",
		Help: "Remote cart gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})
	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_remote_call_duration_seconds",
		Help:    "Latency of remote cart gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	merges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_merge_total",
		Help: "Guest cart merge attempts by outcome.",
	}, []string{"outcome"})
	corruption := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_persistence_corruption_total",
		Help: "Stored carts discarded because they could not be decoded.",
	})
	reg.MustRegister(remoteCalls, remoteDuration, merges, corruption)
	return &CartMetrics{
		remoteCalls:    remoteCalls,
		remoteDuration: remoteDuration,
		merges:         merges,
		corruption:     corruption,
	}
}

// ObserveRemote records the duration and outcome of one gateway call.
func (c *CartMetrics) ObserveRemote(op string, duration time.Duration, err error) {
	if c == nil || c.remoteCalls == nil {
		return
	}
	op = normalizeLabel(op)
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	c.remoteCalls.WithLabelValues(op, outcome).Inc()
	c.remoteDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncMerge increments the merge counter for the outcome.
func (c *CartMetrics) IncMerge(outcome string) {
	if c == nil || c.merges == nil {
		return
	}
	c.merges.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCorruption counts a discarded stored cart.
func (c *CartMetrics) IncCorruption() {
	if c == nil || c.corruption == nil {
		return
	}
	c.corruption.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
