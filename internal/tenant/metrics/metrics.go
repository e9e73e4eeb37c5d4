package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks tenant lifecycle transitions.
type Metrics struct {
	Created   prometheus.Counter
	Suspended prometheus.Counter
	Resumed   prometheus.Counter
}

// New creates and registers the tenant metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a specific registerer; tests pass their own
// registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_tenants_created_total",
			Help: "Total tenants created",
		}),
		Suspended: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_tenants_suspended_total",
			Help: "Total tenant suspensions",
		}),
		Resumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_tenants_resumed_total",
			Help: "Total tenant resumptions",
		}),
	}
}

func (m *Metrics) IncCreated() {
	if m != nil {
		m.Created.Inc()
	}
}

func (m *Metrics) IncSuspended() {
	if m != nil {
		m.Suspended.Inc()
	}
}

func (m *Metrics) IncResumed() {
	if m != nil {
		m.Resumed.Inc()
	}
}
