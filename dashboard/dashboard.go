// Package dashboard ties connections to graphs.
//
// A Dashboard owns the graphs (one per MetricSpec), the list of active
// subscriptions, the pause state and the view window. It implements
// protocol.MetricSink: catalog events feed the metric catalog and data
// reports are routed to the graph whose id matches the report's spec. A
// Registry owns the connections and replays the subscription list on every
// connection that opens.
package dashboard

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/catalog"
	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/protocol"
	"github.com/c360/streamview/render"
	"github.com/c360/streamview/series"
)

// Dashboard view modes carried in the fragment.
const (
	ViewGraph = "graph"
	ViewGauge = "gauge"
)

// Subscriber sends subscribe and unsubscribe commands to one connection.
type Subscriber interface {
	Subscribe(spec protocol.MetricSpec)
	Unsubscribe(spec protocol.MetricSpec)
}

// Connections is the dashboard's view of the connection registry.
type Connections interface {
	Servers() []string
	Subscribers() []Subscriber
	Connect(server string) error
}

// FrameSink receives rendered frames.
type FrameSink interface {
	DrawFrame(f series.Frame)
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dashboard) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock replaces the wall clock used by graphs.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRetention sets the history kept per series.
func WithRetention(r time.Duration) Option {
	return func(d *Dashboard) {
		if r > 0 {
			d.retention = r
		}
	}
}

// WithScheduler registers every graph with s; each frame is rendered and
// handed to sink.
func WithScheduler(s *render.Scheduler, sink FrameSink) Option {
	return func(d *Dashboard) {
		d.scheduler = s
		d.frames = sink
	}
}

// WithMetrics registers dashboard metrics with registry.
func WithMetrics(registry metric.MetricsRegistrar) Option {
	return func(d *Dashboard) { d.registry = registry }
}

// Dashboard is safe for concurrent use.
type Dashboard struct {
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
	catalog   *catalog.Tree
	scheduler *render.Scheduler
	frames    FrameSink
	registry  metric.MetricsRegistrar

	dropped    prometheus.Counter
	graphCount prometheus.Gauge

	mu            sync.RWMutex
	conns         Connections
	graphs        map[string]*series.Graph
	order         []string
	specs         map[string]protocol.MetricSpec
	subscriptions []protocol.MetricSpec
	paused        bool
	window        series.RenderWindow
	view          string
	showMetrics   bool
	continuous    bool
	unknownStats  map[string]struct{}
}

// New returns an empty dashboard.
func New(opts ...Option) *Dashboard {
	d := &Dashboard{
		logger:       slog.Default(),
		now:          time.Now,
		retention:    series.DefaultRetention,
		graphs:       make(map[string]*series.Graph),
		specs:        make(map[string]protocol.MetricSpec),
		window:       series.DefaultWindow(),
		view:         ViewGraph,
		showMetrics:  true,
		unknownStats: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dashboard")
	d.catalog = catalog.NewTree(d.logger)
	d.initMetrics()
	return d
}

func (d *Dashboard) initMetrics() {
	if d.registry == nil {
		return
	}
	d.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "series",
		Name:      "dropped_samples_total",
		Help:      "Samples dropped because they arrived out of order",
	})
	d.graphCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metric.Namespace,
		Subsystem: "dashboard",
		Name:      "graphs",
		Help:      "Graphs currently shown",
	})
	if err := d.registry.RegisterCounter("dashboard", "dropped_samples", d.dropped); err != nil {
		d.logger.Warn("Dashboard metrics disabled", "error", err)
		d.dropped, d.graphCount = nil, nil
		return
	}
	if err := d.registry.RegisterGauge("dashboard", "graphs", d.graphCount); err != nil {
		d.logger.Warn("Dashboard graph gauge disabled", "error", err)
		d.graphCount = nil
	}
}

func (d *Dashboard) setConnections(c Connections) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = c
}

func (d *Dashboard) subscribers() []Subscriber {
	d.mu.RLock()
	conns := d.conns
	d.mu.RUnlock()
	if conns == nil {
		return nil
	}
	return conns.Subscribers()
}

// Catalog returns the metric catalog fed by connected servers.
func (d *Dashboard) Catalog() *catalog.Tree { return d.catalog }

// AddGraph subscribes to spec on every connection and creates its graph.
// Adding an existing spec only re-sends the subscription.
func (d *Dashboard) AddGraph(spec protocol.MetricSpec) *series.Graph {
	id := spec.ID()

	d.mu.Lock()
	if !containsSpec(d.subscriptions, spec) {
		d.subscriptions = append(d.subscriptions, spec)
	}
	g, exists := d.graphs[id]
	if !exists {
		g = d.newGraph(id, spec)
		d.graphs[id] = g
		d.order = append(d.order, id)
		d.specs[id] = spec
		if d.graphCount != nil {
			d.graphCount.Set(float64(len(d.graphs)))
		}
	}
	d.mu.Unlock()

	for _, s := range d.subscribers() {
		s.Subscribe(spec)
	}

	if !exists && d.scheduler != nil {
		d.scheduler.Register(id, render.RendererFunc(func(now time.Time) {
			if d.frames != nil {
				d.frames.DrawFrame(g.RenderAt(now))
			}
		}))
	}
	return g
}

// newGraph builds a graph in the dashboard's current state. Callers hold d.mu.
func (d *Dashboard) newGraph(id string, spec protocol.MetricSpec) *series.Graph {
	policy, known := series.PolicyForStatistic(spec.Statistic)
	if !known {
		if _, logged := d.unknownStats[spec.Statistic]; !logged {
			d.unknownStats[spec.Statistic] = struct{}{}
			d.logger.Warn("Approximating statistic with max merge",
				"statistic", spec.Statistic, "error", errors.ErrUnknownStatistic)
		}
	}

	opts := []series.GraphOption{
		series.WithLogger(d.logger),
		series.WithClock(d.now),
		series.WithRetention(d.retention),
	}
	if d.dropped != nil {
		opts = append(opts, series.WithDropCounter(d.dropped))
	}
	g := series.NewGraph(id, fmt.Sprintf("%s (%s)", spec.Metric, spec.Statistic), policy, opts...)
	g.SetWindow(d.window)
	if d.paused {
		g.SetPaused(true)
	}
	return g
}

// RemoveGraph drops the graph and subscription for spec and unsubscribes
// on every connection.
func (d *Dashboard) RemoveGraph(spec protocol.MetricSpec) {
	id := spec.ID()

	d.mu.Lock()
	if _, ok := d.graphs[id]; ok {
		delete(d.graphs, id)
		delete(d.specs, id)
		for i, gid := range d.order {
			if gid == id {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
		if d.graphCount != nil {
			d.graphCount.Set(float64(len(d.graphs)))
		}
	}
	kept := d.subscriptions[:0]
	for _, s := range d.subscriptions {
		if s != spec {
			kept = append(kept, s)
		}
	}
	d.subscriptions = kept
	d.mu.Unlock()

	if d.scheduler != nil {
		d.scheduler.Unregister(id)
	}
	for _, s := range d.subscribers() {
		s.Unsubscribe(spec)
	}
}

// Graph returns the graph with id.
func (d *Dashboard) Graph(id string) (*series.Graph, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.graphs[id]
	return g, ok
}

// Graphs returns the graphs in the order they were added.
func (d *Dashboard) Graphs() []*series.Graph {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*series.Graph, len(d.order))
	for i, id := range d.order {
		out[i] = d.graphs[id]
	}
	return out
}

// Subscriptions returns the specs replayed on newly opened connections.
func (d *Dashboard) Subscriptions() []protocol.MetricSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]protocol.MetricSpec(nil), d.subscriptions...)
}

// SubscribeOpened replays every subscription on a connection that just opened.
func (d *Dashboard) SubscribeOpened(s Subscriber) {
	for _, spec := range d.Subscriptions() {
		s.Subscribe(spec)
	}
}

// ReportData routes a report to the graph for its spec. The sample is
// keyed by the connection it arrived on. Reports without a graph are ignored.
func (d *Dashboard) ReportData(server string, r protocol.Report) {
	g, ok := d.Graph(r.ID())
	if !ok {
		return
	}
	// Out-of-order samples are logged and counted by the series.
	_ = g.PostData(server, r.Timestamp, r.Value)
}

// Disconnect drops server's series from every graph.
func (d *Dashboard) Disconnect(server string) {
	for _, g := range d.Graphs() {
		g.DisconnectConnection(server)
	}
}

// TogglePause flips the pause state of the dashboard and every graph.
func (d *Dashboard) TogglePause() bool {
	d.mu.Lock()
	d.paused = !d.paused
	paused := d.paused
	d.mu.Unlock()

	for _, g := range d.Graphs() {
		g.SetPaused(paused)
	}
	return paused
}

// Paused reports whether the dashboard is paused.
func (d *Dashboard) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.paused
}

// SetViewDuration applies w to every graph and to graphs added later.
func (d *Dashboard) SetViewDuration(w series.RenderWindow) {
	d.mu.Lock()
	d.window = w
	d.mu.Unlock()

	for _, g := range d.Graphs() {
		g.SetWindow(w)
	}
}

// SetViewSlider sets the window from a [start, end] slider selection over
// the retention span.
func (d *Dashboard) SetViewSlider(start, end time.Duration) {
	d.SetViewDuration(series.WindowFromSlider(start, end, d.retention))
}

// ViewDuration returns the current window.
func (d *Dashboard) ViewDuration() series.RenderWindow {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.window
}

// ToggleMetricsVisible flips whether the metric browser is shown.
func (d *Dashboard) ToggleMetricsVisible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.showMetrics = !d.showMetrics
	return d.showMetrics
}

// SwitchRenderRate toggles between stepped and continuous redraw.
func (d *Dashboard) SwitchRenderRate() bool {
	d.mu.Lock()
	d.continuous = !d.continuous
	on := d.continuous
	d.mu.Unlock()

	if d.scheduler != nil {
		d.scheduler.SetContinuous(on)
	}
	return on
}

// Frames renders every graph once.
func (d *Dashboard) Frames() []series.Frame {
	graphs := d.Graphs()
	out := make([]series.Frame, len(graphs))
	for i, g := range graphs {
		out[i] = g.Render()
	}
	return out
}

// MetricsList implements protocol.MetricSink.
func (d *Dashboard) MetricsList(_ string, services []protocol.ServiceNode) {
	d.catalog.Bind(services)
}

// NewMetric implements protocol.MetricSink.
func (d *Dashboard) NewMetric(_ string, spec protocol.MetricSpec) {
	d.catalog.AddNewMetric(spec)
}

// Report implements protocol.MetricSink.
func (d *Dashboard) Report(server string, r protocol.Report) {
	d.ReportData(server, r)
}

func containsSpec(list []protocol.MetricSpec, spec protocol.MetricSpec) bool {
	for _, s := range list {
		if s == spec {
			return true
		}
	}
	return false
}
