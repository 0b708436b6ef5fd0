// Package natsrelay republishes telemetry reports to NATS.
//
// Relay decorates a protocol.MetricSink: every report is published as JSON
// to <prefix>.<service>.<metric>.<statistic> and then handed to the wrapped
// sink. Catalog events pass straight through. Publishing never fails the
// live view; failures are logged and counted. WithAsync moves publishing
// onto a worker pool so a slow NATS server cannot hold up the caller.
package natsrelay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/health"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/pkg/worker"
	"github.com/c360/streamview/protocol"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "streamview.telemetry"

// Publisher is the part of natsclient.Client the relay uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsHealthy() bool
}

// Message is the JSON body of a relayed report.
type Message struct {
	Server    string  `json:"server"`
	Service   string  `json:"service"`
	Metric    string  `json:"metric"`
	Statistic string  `json:"statistic"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"data"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(r *Relay) {
		if p := strings.Trim(prefix, "."); p != "" {
			r.prefix = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics registers published and failed counters.
func WithMetrics(registry metric.MetricsRegistrar) Option {
	return func(r *Relay) { r.registry = registry }
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithAsync publishes on a pool of workers with a bounded queue instead of
// on the caller's goroutine. Start and Stop manage the pool.
func WithAsync(workers, queueSize int) Option {
	return func(r *Relay) {
		r.asyncWorkers = workers
		r.asyncQueue = queueSize
		r.async = true
	}
}

// Relay is a protocol.MetricSink that publishes reports before forwarding them.
type Relay struct {
	next     protocol.MetricSink
	pub      Publisher
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
	registry metric.MetricsRegistrar

	async        bool
	asyncWorkers int
	asyncQueue   int
	pool         *worker.Pool[job]

	published prometheus.Counter
	failed    prometheus.Counter

	publishedCount atomic.Int64
	failedCount    atomic.Int64
	lastError      atomic.Value // string
	failing        atomic.Bool
}

// New wraps next. Reports reach next whether or not publishing succeeds.
func New(next protocol.MetricSink, pub Publisher, opts ...Option) *Relay {
	r := &Relay{
		next:    next,
		pub:     pub,
		prefix:  DefaultPrefix,
		timeout: time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "natsrelay")
	r.initMetrics()
	if r.async {
		poolOpts := []worker.Option[job]{worker.WithLogger[job](r.logger)}
		if r.registry != nil {
			poolOpts = append(poolOpts, worker.WithMetrics[job](r.registry, "relay"))
		}
		r.pool = worker.NewPool(r.asyncWorkers, r.asyncQueue, r.publishJob, poolOpts...)
	}
	return r
}

type job struct {
	server string
	report protocol.Report
}

// Start launches the publish workers of an async relay.
func (r *Relay) Start(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Start(ctx)
}

// Stop drains queued publishes, waiting up to timeout.
func (r *Relay) Stop(timeout time.Duration) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Stop(timeout)
}

func (r *Relay) initMetrics() {
	if r.registry == nil {
		return
	}
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "relay",
		Name:      "published_total",
		Help:      "Reports published to NATS",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "relay",
		Name:      "failed_total",
		Help:      "Reports that could not be published to NATS",
	})
	if err := r.registry.RegisterCounter("relay", "published", published); err != nil {
		r.logger.Warn("Relay metrics disabled", "error", err)
		return
	}
	if err := r.registry.RegisterCounter("relay", "failed", failed); err != nil {
		r.registry.Unregister("relay", "published")
		r.logger.Warn("Relay metrics disabled", "error", err)
		return
	}
	r.published, r.failed = published, failed
}

// Subject returns the subject a spec is published on.
func (r *Relay) Subject(spec protocol.MetricSpec) string {
	return strings.Join([]string{
		r.prefix,
		Token(spec.Service),
		Token(spec.Metric),
		Token(spec.Statistic),
	}, ".")
}

// MetricsList implements protocol.MetricSink.
func (r *Relay) MetricsList(server string, services []protocol.ServiceNode) {
	r.next.MetricsList(server, services)
}

// NewMetric implements protocol.MetricSink.
func (r *Relay) NewMetric(server string, spec protocol.MetricSpec) {
	r.next.NewMetric(server, spec)
}

// Report implements protocol.MetricSink.
func (r *Relay) Report(server string, rep protocol.Report) {
	if r.pool == nil {
		r.publish(server, rep)
	} else if err := r.pool.Submit(job{server: server, report: rep}); err != nil {
		r.fail(errors.WrapTransient(err, "Relay", "Report", "queue report"))
	}
	r.next.Report(server, rep)
}

func (r *Relay) publishJob(_ context.Context, j job) error {
	return r.publish(j.server, j.report)
}

func (r *Relay) publish(server string, rep protocol.Report) error {
	data, err := json.Marshal(Message{
		Server:    server,
		Service:   rep.Service,
		Metric:    rep.Metric,
		Statistic: rep.Statistic,
		Timestamp: rep.Timestamp,
		Value:     rep.Value,
	})
	if err != nil {
		err = errors.WrapInvalid(err, "Relay", "Report", "encode report")
		r.fail(err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.pub.Publish(ctx, r.Subject(rep.MetricSpec), data); err != nil {
		err = errors.WrapTransient(err, "Relay", "Report", "publish report")
		r.fail(err)
		return err
	}

	r.publishedCount.Add(1)
	if r.published != nil {
		r.published.Inc()
	}
	if r.failing.Swap(false) {
		r.logger.Info("Relay publishing recovered")
	}
	return nil
}

// fail logs the first error of a failing streak and counts every one.
func (r *Relay) fail(err error) {
	r.failedCount.Add(1)
	r.lastError.Store(err.Error())
	if r.failed != nil {
		r.failed.Inc()
	}
	if !r.failing.Swap(true) {
		r.logger.Warn("Relay publish failed", "error", err)
	}
}

// Published returns the number of reports published.
func (r *Relay) Published() int64 { return r.publishedCount.Load() }

// Failed returns the number of reports that could not be published.
func (r *Relay) Failed() int64 { return r.failedCount.Load() }

// Health implements health.Checker.
func (r *Relay) Health() health.Status {
	const name = "natsrelay"
	switch {
	case !r.pub.IsHealthy():
		return health.NewDegraded(name, "NATS not connected")
	case r.failing.Load():
		msg, _ := r.lastError.Load().(string)
		return health.NewDegraded(name, "publishing failing: "+msg)
	default:
		return health.NewHealthy(name, "publishing")
	}
}

// Token makes s safe as a single NATS subject token: separators, wildcards
// and whitespace become underscores.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

var tokenReplacer = strings.NewReplacer(
	".", "_",
	"*", "_",
	">", "_",
	" ", "_",
	"\t", "_",
	"\n", "_",
	"\r", "_",
)
