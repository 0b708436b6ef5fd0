package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/pkg/tlsutil"
)

// DefaultAggregatorPorts are the ports tried for a server given without one.
var DefaultAggregatorPorts = []string{"7090"}

// Config is the complete application configuration.
type Config struct {
	// ProxyEnabled turns on the server-side WebSocket proxy and makes the
	// resolver offer proxied endpoints.
	ProxyEnabled bool `json:"proxy_enabled"`
	// AggregatorPorts are tried in order for servers given without a port.
	AggregatorPorts []string `json:"metrics_aggregator_daemon_ports"`
	// ProxyTLS verifies wss aggregators dialed by the proxy.
	ProxyTLS tlsutil.ClientConfig `json:"proxy_tls"`

	// Proxy tunes the proxy's upstream dial and frame writes.
	Proxy ProxyConfig `json:"proxy"`

	HTTP       HTTPConfig       `json:"http"`
	Connection ConnectionConfig `json:"connection"`
	Render     RenderConfig     `json:"render"`
	NATS       NATSConfig       `json:"nats"`

	// Servers are connected at startup.
	Servers []string `json:"servers,omitempty"`
	// Fragment restores a saved dashboard at startup.
	Fragment string `json:"fragment,omitempty"`
}

// HTTPConfig defines the HTTP surface.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// SiteURL is the public base URL the dashboard is served from. Its
	// scheme decides whether the site is secure and it is the base of
	// proxied endpoints.
	SiteURL string `json:"site_url,omitempty"`
	// TLS serves the listener over https when a certificate is set.
	TLS tlsutil.ServerConfig `json:"tls"`
}

// ProxyConfig tunes proxy sessions.
type ProxyConfig struct {
	DialTimeout  time.Duration `json:"dial_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// ConnectionConfig tunes every connection engine.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	BackoffBase       time.Duration `json:"backoff_base"`
	BackoffFactor     float64       `json:"backoff_factor"`
	BackoffMax        time.Duration `json:"backoff_max"`
}

// RenderConfig tunes the redraw loop and history.
type RenderConfig struct {
	Continuous bool          `json:"continuous"`
	Retention  time.Duration `json:"retention"`
}

// NATSConfig defines the optional NATS relay.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`

	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout   time.Duration `json:"drain_timeout,omitempty"`
	PublishTimeout time.Duration `json:"publish_timeout,omitempty"`
}

// durationKeys lists the duration fields that accept strings such as "5s".
var durationKeys = map[string][]string{
	"connection": {"connect_timeout", "heartbeat_interval", "backoff_base", "backoff_max"},
	"render":     {"retention"},
	"proxy":      {"dial_timeout", "write_timeout"},
	"nats":       {"reconnect_wait", "connect_timeout", "ping_interval", "drain_timeout", "publish_timeout"},
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		AggregatorPorts: append([]string(nil), DefaultAggregatorPorts...),
		Proxy: ProxyConfig{
			DialTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Connection: ConnectionConfig{
			ConnectTimeout:    5 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			BackoffBase:       2 * time.Second,
			BackoffFactor:     1.5,
			BackoffMax:        60 * time.Second,
		},
		Render: RenderConfig{
			Retention: 10 * time.Minute,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "streamview.telemetry",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,

			ConnectTimeout: 5 * time.Second,
			PingInterval:   30 * time.Second,
			DrainTimeout:   5 * time.Second,
			PublishTimeout: time.Second,
		},
	}
}

// Validate checks the configuration and normalizes ports.
func (c *Config) Validate() error {
	if len(c.AggregatorPorts) == 0 {
		return invalid("metrics_aggregator_daemon_ports must list at least one port")
	}
	for i, p := range c.AggregatorPorts {
		p = strings.TrimSpace(p)
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return invalid("metrics_aggregator_daemon_ports[%d]: %q is not a port", i, p)
		}
		c.AggregatorPorts[i] = p
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if c.HTTP.SiteURL != "" {
		u, err := url.Parse(c.HTTP.SiteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("http.site_url %q must be an absolute http(s) URL", c.HTTP.SiteURL)
		}
	}

	if tls := c.HTTP.TLS; tls.Enabled() && (tls.CertFile == "" || tls.KeyFile == "") {
		return invalid("http.tls needs both cert_file and key_file")
	}
	if !tlsutil.ValidVersion(c.HTTP.TLS.MinVersion) || !tlsutil.ValidVersion(c.ProxyTLS.MinVersion) {
		return invalid("tls min_version must be 1.2 or 1.3")
	}

	cc := c.Connection
	if cc.ConnectTimeout <= 0 || cc.HeartbeatInterval <= 0 {
		return invalid("connection timeouts must be positive")
	}
	if cc.BackoffBase <= 0 || cc.BackoffMax < cc.BackoffBase || cc.BackoffFactor < 1 {
		return invalid("connection backoff must have base > 0, max >= base and factor >= 1")
	}

	if c.Proxy.DialTimeout <= 0 || c.Proxy.WriteTimeout <= 0 {
		return invalid("proxy timeouts must be positive")
	}

	if c.Render.Retention <= 0 {
		return invalid("render.retention must be positive")
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when nats is enabled")
		}
		if !isValidSubjectPrefix(c.NATS.SubjectPrefix) {
			return invalid("nats.subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix)
		}
		n := c.NATS
		if n.ConnectTimeout <= 0 || n.PingInterval <= 0 || n.DrainTimeout <= 0 || n.PublishTimeout <= 0 {
			return invalid("nats timeouts and ping interval must be positive")
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "validate configuration")
}

// isValidSubjectPrefix accepts dot-separated tokens of letters, digits,
// dashes and underscores.
func isValidSubjectPrefix(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// SiteURL parses HTTP.SiteURL. It returns nil when unset.
func (c *Config) SiteURL() *url.URL {
	if c.HTTP.SiteURL == "" {
		return nil
	}
	u, err := url.Parse(c.HTTP.SiteURL)
	if err != nil {
		return nil
	}
	return u
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "STREAMVIEW",
	}
}

// AddLayer adds a configuration file layer; later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load applies defaults, every file layer and then environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds so they
// unmarshal into time.Duration fields.
func parseDurations(data map[string]any) error {
	for section, keys := range durationKeys {
		m, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			d, err := parseDurationWithDays(s)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, key, err)
			}
			m[key] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "1d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies <prefix>_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, val != "", nil
	}
	parseBool := func(name string, dst *bool) error {
		val, ok, err := get(name)
		if err != nil || !ok {
			return err
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_"+name)
		}
		*dst = b
		return nil
	}
	setString := func(name string, dst *string) error {
		val, ok, err := get(name)
		if ok {
			*dst = val
		}
		return err
	}
	setList := func(name string, dst *[]string) error {
		val, ok, err := get(name)
		if ok {
			*dst = splitList(val)
		}
		return err
	}

	steps := []func() error{
		func() error { return parseBool("PROXY_ENABLED", &cfg.ProxyEnabled) },
		func() error { return setList("METRICS_AGGREGATOR_DAEMON_PORTS", &cfg.AggregatorPorts) },
		func() error { return setString("HTTP_ADDR", &cfg.HTTP.Addr) },
		func() error { return setString("SITE_URL", &cfg.HTTP.SiteURL) },
		func() error { return setList("SERVERS", &cfg.Servers) },
		func() error { return parseBool("NATS_ENABLED", &cfg.NATS.Enabled) },
		func() error { return setList("NATS_URLS", &cfg.NATS.URLs) },
		func() error { return setString("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix) },
		func() error { return setString("NATS_USERNAME", &cfg.NATS.Username) },
		func() error { return setString("NATS_PASSWORD", &cfg.NATS.Password) },
		func() error { return setString("NATS_TOKEN", &cfg.NATS.Token) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
