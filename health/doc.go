// Package health tracks the health of streamview's moving parts.
//
// Three states are reported: healthy, degraded and unhealthy. A connection
// that is connected is healthy, one that is connecting or reconnecting is
// degraded, and a closed one is unhealthy. The NATS relay reports its client
// the same way.
//
// A Monitor holds statuses either pushed with Update or pulled from
// registered Checkers:
//
//	monitor := health.NewMonitor()
//	monitor.Register("connection:metrics-1", engine)
//	http.Handle("/health", health.Handler(monitor, "streamview"))
//
// Aggregation is worst-wins: any unhealthy status makes the aggregate
// unhealthy, otherwise any degraded status makes it degraded.
//
// Error messages passed through FromError are scrubbed of URLs, paths,
// addresses and credentials before they are exposed.
package health
