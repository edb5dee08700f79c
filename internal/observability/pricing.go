package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PricingMetrics records quote calculations. It satisfies pricing.Recorder.
type PricingMetrics struct {
	quotes   *prometheus.CounterVec
	duration prometheus.Histogram
	degraded *prometheus.CounterVec
}

// NewPricingMetrics registers the engine collectors on registerer.
func NewPricingMetrics(registerer prometheus.Registerer) *PricingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &PricingMetrics{
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_quotes_total",
			Help: "Quote calculations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricing_calculation_duration_seconds",
			Help:    "End to end quote calculation latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_degraded_stages_total",
			Help: "Fail-open pricing stages that were skipped.",
		}, []string{"stage"}),
	}
	registerer.MustRegister(m.quotes, m.duration, m.degraded)
	return m
}

// QuoteCalculated counts one calculation and observes its latency.
func (m *PricingMetrics) QuoteCalculated(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// StageDegraded counts a skipped fail-open stage.
func (m *PricingMetrics) StageDegraded(stage string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(stage).Inc()
}
