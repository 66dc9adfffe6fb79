package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks relay sessions. A nil *Metrics records nothing.
type Metrics struct {
	sessions      *prometheus.CounterVec
	inflight      prometheus.Gauge
	stageDuration *prometheus.HistogramVec
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkv_relay_sessions_total",
				Help: "Relay sessions by terminal outcome",
			},
			[]string{"outcome"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkv_relay_sessions_inflight",
			Help: "Relay sessions currently running",
		}),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkv_relay_stage_duration_seconds",
				Help:    "Time spent in each relay stage",
				Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage", "outcome"},
		),
	}
	for _, c := range []prometheus.Collector{m.sessions, m.inflight, m.stageDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) sessionFinished(stage Stage) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.sessions.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) observeStage(stage Stage, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(time.Since(start).Seconds())
}
