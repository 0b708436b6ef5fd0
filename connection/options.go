package connection

import (
	"log/slog"
	"time"

	"github.com/c360/streamview/pkg/retry"
)

// Defaults for the engine timers.
const (
	DefaultConnectionTimeout = 5 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

// Listener receives connection notifications on the engine goroutine.
// Handlers may call Subscribe, Unsubscribe and the read accessors; they must
// not block. Connect and Close called from a handler take effect once the
// event that fired it has been handled. Shutdown never blocks.
type Listener struct {
	// OnOpened runs after the first heartbeat ack of a connection.
	OnOpened func(e *Engine)
	// OnClosed runs whenever an opened socket goes away, intentionally or not.
	OnClosed func(e *Engine)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(e *Engine) {
		if d != nil {
			e.dialer = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRand replaces the source of backoff jitter. f must return values in [0,1).
func WithRand(f func() float64) Option {
	return func(e *Engine) {
		if f != nil {
			e.rand = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics attaches shared engine metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithListener sets the opened/closed notification handlers.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithTimeouts overrides the connection timeout and heartbeat interval.
// Non-positive values keep the defaults.
func WithTimeouts(connect, heartbeat time.Duration) Option {
	return func(e *Engine) {
		if connect > 0 {
			e.connTimeout = connect
		}
		if heartbeat > 0 {
			e.heartbeatInterval = heartbeat
		}
	}
}

// WithBackoff overrides the reconnect backoff schedule.
func WithBackoff(b retry.Backoff) Option {
	return func(e *Engine) { e.backoff = b }
}
