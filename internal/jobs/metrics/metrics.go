package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks job execution outcomes per kind.
type Metrics struct {
	Succeeded *prometheus.CounterVec
	Retried   *prometheus.CounterVec
	Terminal  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

// New creates and registers the job metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a specific registerer; tests pass their own
// registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Succeeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_jobs_succeeded_total",
			Help: "Total job executions that succeeded",
		}, []string{"kind"}),
		Retried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_jobs_retried_total",
			Help: "Total job executions re-queued after a recoverable failure",
		}, []string{"kind"}),
		Terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_jobs_terminal_failures_total",
			Help: "Total jobs that reached failed_terminal",
		}, []string{"kind"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keel_jobs_execution_seconds",
			Help:    "Job execution latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncSucceeded(kind string) {
	if m != nil {
		m.Succeeded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncRetried(kind string) {
	if m != nil {
		m.Retried.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncTerminal(kind string) {
	if m != nil {
		m.Terminal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveDuration(kind string, seconds float64) {
	if m != nil {
		m.Duration.WithLabelValues(kind).Observe(seconds)
	}
}
