// Package jobmetrics instruments background pricing jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	swept    prometheus.Counter
	events   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. A nil
// registerer uses the default Prometheus registerer, registered once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records duration and outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddSwept counts quotes removed by the expiry sweeper.
func (m *Metrics) AddSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

// EventHandled counts consumed quote events by transport.
func (m *Metrics) EventHandled(transport string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(transport).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricing_quotes_swept_total",
		Help: "Expired quotes deleted by the sweeper.",
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_quote_events_consumed_total",
		Help: "quote.calculated events consumed by the worker.",
	}, []string{"transport"})
	registerer.MustRegister(runs, failures, duration, swept, events)
	return &Metrics{runs: runs, failures: failures, duration: duration, swept: swept, events: events}
}
