// Package config loads streamview configuration.
//
// Configuration is built in layers: built-in defaults, then each JSON file
// added with AddLayer (later files override earlier ones field by field),
// then STREAMVIEW_* environment variables. Validate runs last.
//
//	loader := config.NewLoader()
//	loader.AddLayer("streamview.json")
//	cfg, err := loader.Load()
//
// Duration fields accept Go duration strings ("5s") or whole days ("1d").
//
// The two settings the dashboard depends on are:
//
//	proxy_enabled                    STREAMVIEW_PROXY_ENABLED
//	metrics_aggregator_daemon_ports  STREAMVIEW_METRICS_AGGREGATOR_DAEMON_PORTS (comma separated)
//
// Other overrides: STREAMVIEW_HTTP_ADDR, STREAMVIEW_SITE_URL,
// STREAMVIEW_SERVERS, STREAMVIEW_NATS_ENABLED, STREAMVIEW_NATS_URLS,
// STREAMVIEW_NATS_SUBJECT_PREFIX, STREAMVIEW_NATS_USERNAME,
// STREAMVIEW_NATS_PASSWORD and STREAMVIEW_NATS_TOKEN.
//
// Config files must have a .json extension and are size and depth limited.
package config
