package series

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/pkg/timestamp"
)

// renderLag holds the right edge of the window one second behind wall
// clock so the newest, still-filling bucket is not drawn.
const renderLag = time.Second

// Mode is how a graph is drawn.
type Mode string

// Render modes.
const (
	ModeLine    Mode = "line"
	ModeArea    Mode = "area"
	ModeScatter Mode = "scatter"
	ModeBar     Mode = "bar"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeLine, ModeArea, ModeScatter, ModeBar:
		return true
	}
	return false
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) GraphOption {
	return func(g *Graph) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRetention sets how much history each series keeps.
func WithRetention(d time.Duration) GraphOption {
	return func(g *Graph) {
		if d > 0 {
			g.retention = d
		}
	}
}

// WithDropCounter counts samples rejected as out of order.
func WithDropCounter(c prometheus.Counter) GraphOption {
	return func(g *Graph) {
		g.dropped = c
	}
}

// Graph aggregates one metric across connections: one Series per server,
// kept in first-seen order. All methods are safe for concurrent use; every
// mutation happens under one lock and readers receive copies.
type Graph struct {
	mu        sync.Mutex
	id        string
	name      string
	policy    MergePolicy
	order     []string
	series    map[string]*Series
	paused    bool
	pauseTime int64
	window    RenderWindow
	retention time.Duration
	mode      Mode
	stacked   bool
	now       func() time.Time
	logger    *slog.Logger
	dropped   prometheus.Counter
}

// NewGraph creates an empty graph. id is the routing key, name the display title.
func NewGraph(id, name string, policy MergePolicy, opts ...GraphOption) *Graph {
	g := &Graph{
		id:        id,
		name:      name,
		policy:    policy,
		series:    make(map[string]*Series),
		window:    DefaultWindow(),
		retention: DefaultRetention,
		mode:      ModeLine,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("graph", id)
	return g
}

// ID returns the routing key.
func (g *Graph) ID() string { return g.id }

// Name returns the display title.
func (g *Graph) Name() string { return g.name }

// PostData pushes a sample into the series for server, creating it on first use.
func (g *Graph) PostData(server string, ts int64, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.series[server]
	if !ok {
		s = New(g.id+"@"+server, g.policy, g.logger)
		g.series[server] = s
		g.order = append(g.order, server)
	}
	err := s.Push(ts, value, g.paused)
	if err != nil && g.dropped != nil {
		g.dropped.Inc()
	}
	return err
}

// SetPaused freezes or resumes the graph. Pausing pins the window to one
// second before the call; resuming flushes every pending buffer.
func (g *Graph) SetPaused(paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.paused = paused
	g.pauseTime = timestamp.ToUnixMs(g.now().Add(-renderLag))
	if !paused {
		for _, s := range g.series {
			s.Flush()
		}
	}
}

// Paused reports whether the graph is paused.
func (g *Graph) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// SetWindow sets the relative render window.
func (g *Graph) SetWindow(w RenderWindow) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = w
}

// Window returns the relative render window.
func (g *Graph) Window() RenderWindow {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}

// Retention returns how much history each series keeps.
func (g *Graph) Retention() time.Duration {
	return g.retention
}

// SetMode changes the render mode and clears stacking.
func (g *Graph) SetMode(m Mode) bool {
	if !m.Valid() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = m
	g.stacked = false
	return true
}

// SetStacked enables stacking. Only bar graphs stack; other modes ignore it.
func (g *Graph) SetStacked(stacked bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != ModeBar {
		return false
	}
	g.stacked = stacked
	return true
}

// Mode returns the render mode and whether it is stacked.
func (g *Graph) Mode() (Mode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode, g.stacked
}

// DisconnectConnection removes the series of a server that went away.
func (g *Graph) DisconnectConnection(server string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.series[server]; !ok {
		return
	}
	delete(g.series, server)
	for i, s := range g.order {
		if s == server {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Servers returns the servers with a series, in first-seen order.
func (g *Graph) Servers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// SeriesFrame is the visible part of one server's series.
type SeriesFrame struct {
	Server  string   `json:"server"`
	Samples []Sample `json:"samples"`
}

// Frame is everything a renderer needs to draw the graph once.
type Frame struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Mode    Mode          `json:"mode"`
	Stacked bool          `json:"stacked"`
	Paused  bool          `json:"paused"`
	Start   int64         `json:"start"`
	End     int64         `json:"end"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	Series  []SeriesFrame `json:"series"`
}

// Render trims stale history and returns a copy of the visible data as of
// the graph's clock.
func (g *Graph) Render() Frame {
	return g.RenderAt(g.now())
}

// RenderAt is Render for a caller-supplied frame time, so graphs drawn in
// the same frame share one window end.
func (g *Graph) RenderAt(at time.Time) Frame {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := timestamp.ToUnixMs(at.Add(-renderLag))
	if g.paused {
		now = g.pauseTime
	}

	list := make([]*Series, len(g.order))
	for i, server := range g.order {
		list[i] = g.series[server]
	}
	res := ComputeWindow(list, g.window, g.retention, now, g.paused, g.stacked)

	f := Frame{
		ID:      g.id,
		Name:    g.name,
		Mode:    g.mode,
		Stacked: g.stacked,
		Paused:  g.paused,
		Start:   res.Start,
		End:     res.End,
		Min:     res.Values.Min,
		Max:     res.Values.Max,
		Series:  make([]SeriesFrame, len(list)),
	}
	for i, s := range list {
		r := res.Ranges[i]
		visible := []Sample{}
		if !r.Empty() {
			visible = append(visible, s.samples[r.Lower:r.Upper+1]...)
		}
		f.Series[i] = SeriesFrame{Server: g.order[i], Samples: visible}
	}
	return f
}

// Snapshot returns a copy of every stored sample per server.
func (g *Graph) Snapshot() map[string][]Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string][]Sample, len(g.series))
	for server, s := range g.series {
		out[server] = s.Samples()
	}
	return out
}
