// Package streamview is the backend of a live telemetry dashboard.
//
// Metrics aggregator daemons stream statistics over WebSocket. streamview
// keeps one self-healing connection per aggregator, merges the samples into
// time series and redraws the dashboard's graphs on a fixed cadence.
//
// # Architecture
//
//	aggregator ──ws──▶ connection.Engine ──▶ protocol.Adapter ──▶ MetricSink
//	                        ▲                                       │
//	               endpoint.Resolver                     (output/natsrelay)
//	                                                                 ▼
//	                         render.Scheduler ◀── series.Graph ◀── dashboard.Dashboard
//
// Packages:
//
//   - endpoint: expands a server spec into ordered direct and proxied URLs
//   - connection: the per-server state machine (connect, heartbeat, backoff)
//   - protocol: decodes V1 and V2 frames into catalog and report events
//   - series: per-graph sample storage, merge policies and render windows
//   - render: the paced redraw loop
//   - catalog: the service/metric tree offered to the graph picker
//   - dashboard: graphs, subscriptions, shareable URL fragments, the
//     connection registry and the HTTP read surface
//   - proxy: the server-side WebSocket relay for aggregators the browser
//     cannot reach directly
//   - output/natsrelay: optional republishing of reports to NATS
//
// Supporting packages: config (layered JSON + STREAMVIEW_* overrides),
// errors (classified errors), metric (Prometheus registry), health,
// natsclient, and pkg/ helpers for retry, buffers, workers, TLS and time.
//
// # Running
//
//	STREAMVIEW_SERVERS=db1,db2 STREAMVIEW_PROXY_ENABLED=true ./streamview --log-format=text
//
// The process serves /health, /metrics, /api/graphs, /api/fragment and,
// when enabled, the proxy at /v1/proxy/stream.
package streamview
