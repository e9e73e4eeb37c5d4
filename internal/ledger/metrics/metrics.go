package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ledger append behavior. The conflict counters are the ones
// worth watching: retries are expected under contention, exhaustions are not.
type Metrics struct {
	Appends            prometheus.Counter
	AppendConflicts    prometheus.Counter
	AppendsExhausted   prometheus.Counter
	VerificationErrors prometheus.Counter
}

// New creates and registers the ledger metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a specific registerer; tests pass their own
// registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Appends: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_ledger_appends_total",
			Help: "Total ledger entries appended successfully",
		}),
		AppendConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_ledger_append_conflicts_total",
			Help: "Total chain-tail races retried during appends",
		}),
		AppendsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_ledger_appends_exhausted_total",
			Help: "Total appends that failed after exhausting the retry budget",
		}),
		VerificationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_ledger_verification_errors_total",
			Help: "Total chain verifications that detected tampering or corruption",
		}),
	}
}

func (m *Metrics) IncAppends() {
	if m != nil {
		m.Appends.Inc()
	}
}

func (m *Metrics) IncAppendConflicts() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

func (m *Metrics) IncAppendsExhausted() {
	if m != nil {
		m.AppendsExhausted.Inc()
	}
}

func (m *Metrics) IncVerificationErrors() {
	if m != nil {
		m.VerificationErrors.Inc()
	}
}
