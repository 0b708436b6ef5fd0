package dashboard

import (
	"log/slog"
	"sync"

	"github.com/c360/streamview/connection"
	"github.com/c360/streamview/health"
	"github.com/c360/streamview/protocol"
)

// Palette is the color cycle handed to connections in the order they are added.
var Palette = []string{
	"#e31a1c", "#1f78b4", "#33a02c", "#6a3d9a", "#fdbf6f", "#b15928",
	"#ff7f00", "#cab2d6", "#fb9a99", "#a6cee3", "#40c9ff", "#b2df8a",
	"#8dd3c7", "#ffffb3", "#bebada", "#fb8072", "#80b1d3", "#fdb462",
	"#b3de69", "#fccde5", "#d9d9d9", "#bc80bd", "#ccebc5", "#ffed6f",
}

// Conn is one server the registry connects to.
type Conn struct {
	Server string
	Color  string
	Engine *connection.Engine
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEngineOptions passes options to every engine the registry creates.
func WithEngineOptions(opts ...connection.Option) RegistryOption {
	return func(r *Registry) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithSink routes engine events to sink instead of the dashboard, e.g. a
// relay that forwards to the dashboard after publishing.
func WithSink(sink protocol.MetricSink) RegistryOption {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithHealth registers every connection with monitor.
func WithHealth(monitor *health.Monitor) RegistryOption {
	return func(r *Registry) { r.health = monitor }
}

// WithConnectionMetrics shares engine metrics across connections.
func WithConnectionMetrics(m *connection.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry owns the set of live connections and the color cursor. It
// replays the dashboard's subscriptions whenever a connection opens.
type Registry struct {
	resolver   connection.Resolver
	dashboard  *Dashboard
	sink       protocol.MetricSink
	engineOpts []connection.Option
	health     *health.Monitor
	metrics    *connection.Metrics
	logger     *slog.Logger

	mu      sync.RWMutex
	conns   []*Conn
	index   map[string]*Conn
	colorID int
}

// NewRegistry binds a registry to d. Engines deliver events to d unless
// WithSink says otherwise.
func NewRegistry(resolver connection.Resolver, d *Dashboard, opts ...RegistryOption) *Registry {
	r := &Registry{
		resolver:  resolver,
		dashboard: d,
		sink:      d,
		logger:    slog.Default(),
		index:     make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	d.setConnections(r)
	return r
}

// ConnectToServer starts a connection to server. Adding a server twice
// returns the existing connection.
func (r *Registry) ConnectToServer(server string) (*Conn, error) {
	r.mu.Lock()
	if c, ok := r.index[server]; ok {
		r.mu.Unlock()
		return c, nil
	}

	opts := append([]connection.Option{
		connection.WithLogger(r.logger),
		connection.WithMetrics(r.metrics),
		connection.WithListener(connection.Listener{
			OnOpened: r.opened,
			OnClosed: r.closed,
		}),
	}, r.engineOpts...)

	engine, err := connection.New(server, r.resolver, r.sink, opts...)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	c := &Conn{Server: server, Color: r.nextColor(), Engine: engine}
	r.conns = append(r.conns, c)
	r.index[server] = c
	r.mu.Unlock()

	if r.health != nil {
		r.health.Register(healthName(server), engine)
	}
	r.logger.Info("Connecting to server", "server", server, "color", c.Color)
	engine.Connect()
	return c, nil
}

// Connect implements Connections.
func (r *Registry) Connect(server string) error {
	_, err := r.ConnectToServer(server)
	return err
}

// Remove shuts the engine for server down, waits for it to exit and drops
// its series from every graph. It reports whether the server was known.
func (r *Registry) Remove(server string) bool {
	r.mu.Lock()
	c, ok := r.index[server]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.index, server)
	for i, conn := range r.conns {
		if conn == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	c.Engine.Shutdown()
	<-c.Engine.Done()
	r.dashboard.Disconnect(server)
	r.metrics.Forget(server)
	if r.health != nil {
		r.health.Remove(healthName(server))
	}
	r.logger.Info("Removed server", "server", server)
	return true
}

// Connections returns the connections in the order they were added.
func (r *Registry) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Conn(nil), r.conns...)
}

// Get returns the connection for server.
func (r *Registry) Get(server string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[server]
	return c, ok
}

// Servers implements Connections.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.conns))
	for i, c := range r.conns {
		out[i] = c.Server
	}
	return out
}

// Subscribers implements Connections.
func (r *Registry) Subscribers() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, len(r.conns))
	for i, c := range r.conns {
		out[i] = c.Engine
	}
	return out
}

// Close shuts every connection down.
func (r *Registry) Close() {
	for _, c := range r.Connections() {
		r.Remove(c.Server)
	}
}

// nextColor returns the next palette entry. Callers hold r.mu.
func (r *Registry) nextColor() string {
	color := Palette[r.colorID%len(Palette)]
	r.colorID++
	return color
}

func (r *Registry) opened(e *connection.Engine) {
	r.dashboard.SubscribeOpened(e)
}

func (r *Registry) closed(e *connection.Engine) {
	r.logger.Debug("Connection socket closed", "server", e.Server())
}

func healthName(server string) string {
	return "connection:" + server
}
