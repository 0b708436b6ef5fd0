package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every streamview metric name.
const Namespace = "streamview"

// Metrics holds process-wide metrics shared by all components. Per-component
// metrics (engine transitions, proxy traffic, buffer usage) are registered by
// the owning component through MetricsRegistrar.
type Metrics struct {
	ConnectionState   *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection state per server (0=idle, 1=connecting, 2=connected, 3=reconnecting, 4=closed)",
			},
			[]string{"server"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectionState,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordConnectionState sets the numeric state for a server
func (c *Metrics) RecordConnectionState(server string, state int) {
	c.ConnectionState.WithLabelValues(server).Set(float64(state))
}

// ForgetConnection drops the state series of a removed server
func (c *Metrics) ForgetConnection(server string) {
	c.ConnectionState.DeleteLabelValues(server)
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(component).Set(boolToFloat(healthy))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
