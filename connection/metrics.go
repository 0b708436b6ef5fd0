package connection

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/metric"
)

// Metrics are shared by every engine registered against one registry.
type Metrics struct {
	transitions *prometheus.CounterVec
	dials       *prometheus.CounterVec
	backoffs    *prometheus.CounterVec
	backoffWait prometheus.Histogram
	frames      *prometheus.CounterVec
	malformed   *prometheus.CounterVec
	core        *metric.Metrics
}

// NewMetrics creates the engine metrics and registers them under the
// "connection" service. A nil registry yields nil metrics, which engines
// treat as disabled.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "State transitions by server and target state",
		}, []string{"server", "state"}),

		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "dials_total",
			Help:      "Socket dial attempts by server and protocol version",
		}, []string{"server", "version"}),

		backoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "backoff_cycles_total",
			Help:      "Times the endpoint list was exhausted and a backoff scheduled",
		}, []string{"server"}),

		backoffWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "backoff_delay_seconds",
			Help:      "Scheduled reconnect delay",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by server and event kind",
		}, []string{"server", "kind"}),

		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}, []string{"server"}),

		core: registry.CoreMetrics(),
	}

	const service = "connection"
	for name, c := range map[string]*prometheus.CounterVec{
		"transitions": m.transitions,
		"dials":       m.dials,
		"backoffs":    m.backoffs,
		"frames":      m.frames,
		"malformed":   m.malformed,
	} {
		if err := registry.RegisterCounterVec(service, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogram(service, "backoff_delay", m.backoffWait); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordState(server string, s State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(server, s.String()).Inc()
	if m.core != nil {
		m.core.RecordConnectionState(server, int(s))
	}
}

func (m *Metrics) recordDial(server, version string) {
	if m == nil {
		return
	}
	m.dials.WithLabelValues(server, version).Inc()
}

func (m *Metrics) recordBackoff(server string, seconds float64) {
	if m == nil {
		return
	}
	m.backoffs.WithLabelValues(server).Inc()
	m.backoffWait.Observe(seconds)
}

func (m *Metrics) recordFrame(server, kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(server, kind).Inc()
}

func (m *Metrics) recordMalformed(server string, err error) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(server).Inc()
	if m.core != nil {
		m.core.RecordError("connection", classOf(err))
	}
}

// Forget drops per-server series after a connection is removed.
func (m *Metrics) Forget(server string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"server": server}
	m.transitions.DeletePartialMatch(labels)
	m.dials.DeletePartialMatch(labels)
	m.backoffs.DeletePartialMatch(labels)
	m.frames.DeletePartialMatch(labels)
	m.malformed.DeletePartialMatch(labels)
	if m.core != nil {
		m.core.ForgetConnection(server)
	}
}
