package proxy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/metric"
)

// Metrics holds the proxy's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions *prometheus.CounterVec
	active   prometheus.Gauge
	frames   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the proxy collectors under the "proxy" service.
func NewMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "sessions_total",
			Help:      "Proxy sessions by outcome",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "sessions_active",
			Help:      "Proxy sessions currently open",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "frames_total",
			Help:      "Frames relayed by direction",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped from a full pre-connect queue",
		}, []string{"direction"}),
	}

	if err := registry.RegisterCounterVec("proxy", "sessions", m.sessions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("proxy", "sessions_active", m.active); err != nil {
		registry.Unregister("proxy", "sessions")
		return nil, err
	}
	if err := registry.RegisterCounterVec("proxy", "frames", m.frames); err != nil {
		registry.Unregister("proxy", "sessions")
		registry.Unregister("proxy", "sessions_active")
		return nil, err
	}
	if err := registry.RegisterCounterVec("proxy", "dropped_frames", m.dropped); err != nil {
		registry.Unregister("proxy", "sessions")
		registry.Unregister("proxy", "sessions_active")
		registry.Unregister("proxy", "frames")
		return nil, err
	}
	return m, nil
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) closed(outcome string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) rejected(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) frame(direction string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(direction).Inc()
}

func (m *Metrics) drop(direction string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(direction).Inc()
}
