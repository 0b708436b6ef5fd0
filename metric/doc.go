// Package metric provides the Prometheus registry shared by streamview components.
//
// A single MetricsRegistry is created by the binary and injected into every
// component that records metrics. It registers a small set of core metrics
// (connection state per server, error counts, health, NATS status) plus the
// Go runtime and process collectors. Components register their own
// collectors through MetricsRegistrar, keyed by component and metric name:
//
//	registry := metric.NewMetricsRegistry()
//	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "connection",
//	    Name:      "transitions_total",
//	    Help:      "State transitions",
//	}, []string{"server", "to"})
//	if err := registry.RegisterCounterVec("engine-host1", "transitions_total", transitions); err != nil {
//	    return err
//	}
//
// Registering the same key twice returns an invalid-class error. Handler
// exposes the registry in Prometheus text or OpenMetrics format:
//
//	mux.Handle("/metrics", metric.Handler(registry))
package metric
