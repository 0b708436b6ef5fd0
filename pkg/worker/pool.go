// Package worker provides a bounded, generic worker pool. Submit never
// blocks: work that does not fit the queue is dropped and counted.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/metric"
)

// Pool runs processor over submitted items of type T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger

	work chan T
	wg   sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry  metric.MetricsRegistrar
	subsystem string
	metrics   *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	processed  *prometheus.CounterVec
	dropped    prometheus.Counter
	duration   prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers pool metrics as streamview_<subsystem>_pool_*.
func WithMetrics[T any](registry metric.MetricsRegistrar, subsystem string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.subsystem = subsystem
	}
}

// WithLogger sets the logger.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 4 workers and a
// queue of 1024.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		work:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.subsystem != "" {
		p.initMetrics()
	}
	return p
}

func (p *Pool[T]) initMetrics() {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: p.subsystem,
			Name:      "pool_queue_depth",
			Help:      "Items waiting in the worker pool queue",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: p.subsystem,
			Name:      "pool_processed_total",
			Help:      "Items processed by the worker pool",
		}, []string{"status"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: p.subsystem,
			Name:      "pool_dropped_total",
			Help:      "Items dropped because the queue was full",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: p.subsystem,
			Name:      "pool_processing_duration_seconds",
			Help:      "Time spent processing one item",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	service := p.subsystem + "_pool"
	registered := make([]string, 0, 4)
	register := func(name string, fn func() error) bool {
		if err := fn(); err != nil {
			p.logger.Warn("Worker pool metrics disabled", "subsystem", p.subsystem, "error", err)
			for _, n := range registered {
				p.registry.Unregister(service, n)
			}
			return false
		}
		registered = append(registered, name)
		return true
	}

	ok := register("queue_depth", func() error { return p.registry.RegisterGauge(service, "queue_depth", m.queueDepth) }) &&
		register("processed", func() error { return p.registry.RegisterCounterVec(service, "processed", m.processed) }) &&
		register("dropped", func() error { return p.registry.RegisterCounter(service, "dropped", m.dropped) }) &&
		register("duration", func() error { return p.registry.RegisterHistogram(service, "duration", m.duration) })
	if ok {
		p.metrics = m
	}
}

// Submit queues work. It returns ErrQueueFull when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.work <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.work)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx ends or Stop drains the
// queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.work)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.work),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.work:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.processed.WithLabelValues(status).Inc()
		p.metrics.duration.Observe(time.Since(start).Seconds())
		p.metrics.queueDepth.Set(float64(len(p.work)))
	}
}
