// ABOUTME: Prometheus collectors for session broker activity
// ABOUTME: Nil-safe so registries built without metrics record nothing

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for session broker activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	sessionsActive prometheus.Gauge
	sessionsReaped prometheus.Counter
	eventsDropped  *prometheus.CounterVec
}

// MustNewMetrics constructs and registers the broker collectors with reg.
// Registration errors panic, mirroring promauto, so duplicate wiring shows up
// at startup. Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llm_gateway",
			Subsystem: "stream",
			Name:      "sessions_active",
			Help:      "Number of registered streaming sessions.",
		}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llm_gateway",
			Subsystem: "stream",
			Name:      "sessions_reaped_total",
			Help:      "Sessions removed by the stale-session reaper.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm_gateway",
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Events that could not be enqueued on a session channel.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.sessionsActive, m.sessionsReaped, m.eventsDropped)
	return m
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) reaped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.sessionsReaped.Add(float64(n))
}

func (m *Metrics) dropped(kind EventKind) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind.String()).Inc()
}
