// Package render drives redraws at a bounded frame rate.
//
// A Scheduler owns one loop that wakes at most TargetFrameRate times per
// second and asks every registered view to render against the same clock
// reading. Stepped mode (1 fps) is the default; continuous mode runs at 60 fps.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/metric"
)

// Frame rates for the two redraw modes.
const (
	SteppedFPS    = 1.0
	ContinuousFPS = 60.0
)

// Renderer draws one view for the instant now.
type Renderer interface {
	Render(now time.Time)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(now time.Time)

// Render calls f(now).
func (f RendererFunc) Render(now time.Time) { f(now) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics registers frame metrics under the "render" service.
func WithMetrics(registry metric.MetricsRegistrar) Option {
	return func(s *Scheduler) { s.registry = registry }
}

// Scheduler calls registered renderers once per frame.
type Scheduler struct {
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
	registry metric.MetricsRegistrar

	mu    sync.RWMutex
	views map[string]Renderer

	frames    prometheus.Counter
	frameTime prometheus.Histogram
}

// NewScheduler returns a stepped-mode scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		limiter: rate.NewLimiter(rate.Limit(SteppedFPS), 1),
		logger:  slog.Default(),
		now:     time.Now,
		views:   make(map[string]Renderer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "render")

	if s.registry != nil {
		s.frames = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "render",
			Name:      "frames_total",
			Help:      "Frames rendered",
		})
		s.frameTime = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "render",
			Name:      "frame_duration_seconds",
			Help:      "Time spent rendering all views in one frame",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		})
		if err := s.registry.RegisterCounter("render", "frames", s.frames); err != nil {
			s.logger.Warn("Render metrics disabled", "error", err)
			s.frames, s.frameTime = nil, nil
		} else if err := s.registry.RegisterHistogram("render", "frame_duration", s.frameTime); err != nil {
			s.logger.Warn("Render metrics disabled", "error", err)
			s.registry.Unregister("render", "frames")
			s.frames, s.frameTime = nil, nil
		}
	}
	return s
}

// Register adds or replaces the view under id.
func (s *Scheduler) Register(id string, r Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[id] = r
}

// Unregister removes the view under id.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, id)
}

// Views returns the registered ids in order.
func (s *Scheduler) Views() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetTargetFrameRate changes the frame rate. It takes effect for the next
// frame of a running loop.
func (s *Scheduler) SetTargetFrameRate(fps float64) error {
	if fps <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: frame rate %v", errors.ErrInvalidConfig, fps),
			"Scheduler", "SetTargetFrameRate", "validate frame rate")
	}
	s.limiter.SetLimit(rate.Limit(fps))
	return nil
}

// SetContinuous switches between continuous (60 fps) and stepped (1 fps) redraw.
func (s *Scheduler) SetContinuous(on bool) {
	fps := SteppedFPS
	if on {
		fps = ContinuousFPS
	}
	s.limiter.SetLimit(rate.Limit(fps))
}

// TargetFrameRate returns the current frame rate.
func (s *Scheduler) TargetFrameRate() float64 {
	return float64(s.limiter.Limit())
}

// Run renders frames until ctx is done. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("Render loop started", "fps", s.TargetFrameRate())
	defer s.logger.Debug("Render loop stopped")

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			// Wait fails early when the next frame lands past the deadline.
			<-ctx.Done()
			return nil
		}
		s.RenderFrame()
	}
}

// RenderFrame renders every view once with a shared timestamp.
func (s *Scheduler) RenderFrame() {
	s.mu.RLock()
	views := make([]Renderer, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.mu.RUnlock()

	start := time.Now()
	now := s.now()
	for _, v := range views {
		v.Render(now)
	}

	if s.frames != nil {
		s.frames.Inc()
		s.frameTime.Observe(time.Since(start).Seconds())
	}
}
