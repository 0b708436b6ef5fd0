// Package proxy relays a browser's telemetry WebSocket to an aggregator the
// browser cannot reach directly.
//
// A request to v1/proxy/stream?uri=<target> is upgraded and the target is
// dialed at the same time. Frames arriving on either leg before the other
// leg is up are queued, then flushed in order once both are established.
// After that frames are relayed as they arrive. Either leg closing tears
// down both.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/streamview/errors"
)

// Defaults for a Handler.
const (
	DefaultQueueSize    = 256
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records session and frame metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithDialer replaces the destination dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(h *Handler) {
		if d != nil {
			h.dialer = d
		}
	}
}

// WithQueueSize bounds the frames held per direction before both legs are up.
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWriteTimeout bounds every relayed write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// Handler serves the proxy endpoint.
type Handler struct {
	enabled      bool
	logger       *slog.Logger
	metrics      *Metrics
	dialer       *websocket.Dialer
	upgrader     websocket.Upgrader
	queueSize    int
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// New returns a proxy handler. A disabled handler answers every request
// with 404.
func New(enabled bool, opts ...Option) *Handler {
	h := &Handler{
		enabled: enabled,
		logger:  slog.Default(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultDialTimeout,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "proxy")
	return h
}

// Enabled reports whether the proxy serves requests.
func (h *Handler) Enabled() bool { return h.enabled }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		h.metrics.rejected("disabled")
		http.Error(w, errors.ErrProxyDisabled.Error(), http.StatusNotFound)
		return
	}

	target, err := ParseTarget(r.URL.Query().Get("uri"))
	if err != nil {
		h.metrics.rejected("bad_target")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.newSession(target)
	if err != nil {
		h.metrics.rejected("internal")
		http.Error(w, "proxy unavailable", http.StatusInternalServerError)
		return
	}

	// Dial while the originator upgrade is in flight.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.dial(h.dialer)
	}()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Originator upgrade failed", "error", err)
		s.close("upgrade_failed")
		return
	}
	s.attachOrigin(conn)
	s.pump(conn, s.fromOrigin)
	s.close("originator_closed")
}

// Active returns the number of open sessions.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close tears down every session and waits for the dialers to return.
func (h *Handler) Close() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close("shutdown")
	}
	h.wg.Wait()
}

func (h *Handler) newSession(target *url.URL) (*session, error) {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:           id,
		target:       target.String(),
		handler:      h,
		logger:       h.logger.With("session", id, "destination", target.String()),
		writeTimeout: h.writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	var err error
	if s.toDest, err = newQueue(h.queueSize, h.metrics, dirUpstream); err != nil {
		cancel()
		return nil, err
	}
	if s.toOrigin, err = newQueue(h.queueSize, h.metrics, dirDownstream); err != nil {
		cancel()
		return nil, err
	}

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	h.metrics.opened()
	s.logger.Info("Proxy session started")
	return s, nil
}

func (h *Handler) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

// ParseTarget validates a destination URI. Only ws and wss targets with a
// host are accepted.
func ParseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Proxy", "ParseTarget", "read uri parameter")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Proxy", "ParseTarget", "parse uri")
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrInvalidData, raw),
			"Proxy", "ParseTarget", "check uri scheme")
	}
	return u, nil
}
