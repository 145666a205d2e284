package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	merges        *prometheus.CounterVec
	malformed     *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	notifications prometheus.Counter
	storeSize     prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "engine",
			Name:      "merges_total",
			Help:      "Records merged into the store, by source and whether the id was new.",
		}, []string{"source", "kind"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "engine",
			Name:      "malformed_records_total",
			Help:      "Records rejected for missing identity, by source.",
		}, []string{"source"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "engine",
			Name:      "submissions_total",
			Help:      "Create submissions by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "engine",
			Name:      "notifications_total",
			Help:      "Notification entries appended.",
		}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txsync",
			Subsystem: "engine",
			Name:      "transactions",
			Help:      "Distinct transactions currently in the store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.merges, m.malformed, m.submissions, m.notifications, m.storeSize)
	}
	return m
}

func (m *Metrics) merged(source string, inserted bool, size int) {
	if m == nil {
		return
	}
	kind := "update"
	if inserted {
		kind = "insert"
	}
	m.merges.WithLabelValues(source, kind).Inc()
	m.storeSize.Set(float64(size))
}

func (m *Metrics) rejected(source string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(source).Inc()
}

func (m *Metrics) submitted(outcome SubmissionState) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) notified() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}
