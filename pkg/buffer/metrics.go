package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/metric"
)

type bufferMetrics struct {
	writes prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
}

func newBufferMetrics(registry metric.MetricsRegistrar, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of buffer write operations",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Total number of items dropped due to overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of items in buffer",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		registry.Unregister(prefix, "buffer_writes")
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		registry.Unregister(prefix, "buffer_writes")
		registry.Unregister(prefix, "buffer_drops")
		return nil, err
	}
	return m, nil
}

func (m *bufferMetrics) unregister(registry metric.MetricsRegistrar, prefix string) {
	registry.Unregister(prefix, "buffer_writes")
	registry.Unregister(prefix, "buffer_drops")
	registry.Unregister(prefix, "buffer_size")
}
