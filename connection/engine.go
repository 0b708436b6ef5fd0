// Package connection maintains one live telemetry connection per server.
//
// An Engine walks the endpoint list produced by the resolver, binds a
// protocol adapter for the endpoint's version, and treats the connection as
// usable only once a heartbeat round-trips. Failed endpoints are dropped from
// the front of the list; once the list is empty it is rebuilt and the next
// pass starts after a randomized, capped exponential backoff. Reconnection
// never gives up; only Close stops it.
//
// All state is owned by a single goroutine. Socket readers, dial goroutines
// and timers post closures to its mailbox tagged with the generation of the
// attempt they belong to, so events from superseded sockets are ignored.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/streamview/endpoint"
	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/health"
	"github.com/c360/streamview/pkg/retry"
	"github.com/c360/streamview/pkg/timestamp"
	"github.com/c360/streamview/protocol"
)

// Resolver expands a server spec into candidate endpoints.
type Resolver interface {
	Resolve(serverSpec string) []endpoint.Endpoint
}

// session is the per-connect bookkeeping. The current endpoint is always
// endpoints[0]; failures remove it.
type session struct {
	endpoints   []endpoint.Endpoint
	attempt     int
	connectedAt int64
}

// Status is a point-in-time view of an engine.
type Status struct {
	Server      string            `json:"server"`
	State       State             `json:"-"`
	StateName   string            `json:"state"`
	Attempt     int               `json:"attempt"`
	Endpoint    endpoint.Endpoint `json:"endpoint"`
	ConnectedAt int64             `json:"connected_at,omitempty"`
}

// Engine is the connection state machine for one server.
type Engine struct {
	server   string
	resolver Resolver
	sink     protocol.MetricSink

	dialer            Dialer
	clock             Clock
	rand              func() float64
	logger            *slog.Logger
	metrics           *Metrics
	listener          Listener
	connTimeout       time.Duration
	heartbeatInterval time.Duration
	backoff           retry.Backoff

	mailbox  chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the run goroutine.
	state               State
	sess                *session
	gen                 uint64
	sock                Socket
	adapter             protocol.Adapter
	cancelDial          context.CancelFunc
	connTimer           Timer
	heartbeatTimer      Timer
	backoffTimer        Timer
	disconnectRequested bool

	// Connect and Close requested from a listener callback wait here until
	// the current mailbox item finishes.
	deferMu   sync.Mutex
	notifying bool
	deferred  []func()

	// linkMu serializes every outbound write.
	linkMu sync.Mutex
	link   protocol.Adapter

	statusMu sync.RWMutex
	status   Status
}

// New creates an idle engine for server. sink receives catalog and data
// events; it may be nil. The server must resolve to at least one endpoint.
func New(server string, resolver Resolver, sink protocol.MetricSink, opts ...Option) (*Engine, error) {
	if server == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "validate server")
	}
	if resolver == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "validate resolver")
	}
	if len(resolver.Resolve(server)) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no endpoints for server %q", errors.ErrInvalidConfig, server),
			"Engine", "New", "resolve endpoints")
	}

	e := &Engine{
		server:            server,
		resolver:          resolver,
		sink:              sink,
		dialer:            NewWebsocketDialer(),
		clock:             RealClock(),
		rand:              retry.Float64,
		logger:            slog.Default(),
		connTimeout:       DefaultConnectionTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		backoff:           retry.ReconnectBackoff(),
		mailbox:           make(chan func(), 64),
		quit:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "connection", "server", server)
	e.status = Status{Server: server, State: Idle, StateName: Idle.String()}

	go e.run()
	return e, nil
}

// Server returns the server spec this engine connects to.
func (e *Engine) Server() string { return e.server }

// Connect starts connecting unless a socket is already live or being
// established.
func (e *Engine) Connect() { e.request(e.connect) }

// Close cancels every pending timer, closes the live socket and moves to
// Closed. The engine can be reconnected with Connect.
func (e *Engine) Close() { e.request(e.closeNow) }

// Shutdown closes the engine and stops its goroutine. Done is closed once
// it has exited.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.quit) })
}

// Done is closed after Shutdown completes.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Subscribe asks the server for reports on spec. It is a no-op while no
// socket is open; subscriptions are replayed by the OnOpened listener.
func (e *Engine) Subscribe(spec protocol.MetricSpec) {
	e.withLink(func(a protocol.Adapter) { a.SubscribeToMetric(spec) })
}

// Unsubscribe stops reports on spec.
func (e *Engine) Unsubscribe(spec protocol.MetricSpec) {
	e.withLink(func(a protocol.Adapter) { a.UnsubscribeFromMetric(spec) })
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// State returns the current state.
func (e *Engine) State() State { return e.Status().State }

// Attempt returns the backoff attempt count; 1 after every successful connection.
func (e *Engine) Attempt() int { return e.Status().Attempt }

// Endpoint returns the endpoint currently dialed or connected.
func (e *Engine) Endpoint() endpoint.Endpoint { return e.Status().Endpoint }

// Health maps the state onto a health status.
func (e *Engine) Health() health.Status {
	st := e.Status()
	name := "connection:" + e.server
	switch st.State {
	case Connected:
		return health.NewHealthy(name, "connected to "+st.Endpoint.URL)
	case Connecting, Reconnecting:
		return health.NewDegraded(name, fmt.Sprintf("%s (attempt %d)", st.StateName, st.Attempt))
	case Idle:
		return health.NewDegraded(name, "idle")
	default:
		return health.NewUnhealthy(name, "closed")
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case f := <-e.mailbox:
			f()
			e.runDeferred()
		case <-e.quit:
			e.closeNow()
			return
		}
	}
}

// post queues f for the run goroutine. It returns false once the engine
// has shut down.
func (e *Engine) post(f func()) bool {
	select {
	case e.mailbox <- f:
		return true
	case <-e.quit:
		return false
	}
}

// request posts f, or defers it while a listener callback is running so a
// callback never waits on its own mailbox.
func (e *Engine) request(f func()) {
	e.deferMu.Lock()
	if e.notifying {
		e.deferred = append(e.deferred, f)
		e.deferMu.Unlock()
		return
	}
	e.deferMu.Unlock()
	e.post(f)
}

// notify runs a listener callback. Callers are on the run goroutine.
func (e *Engine) notify(fn func(*Engine)) {
	e.deferMu.Lock()
	e.notifying = true
	e.deferMu.Unlock()

	defer func() {
		e.deferMu.Lock()
		e.notifying = false
		e.deferMu.Unlock()
	}()
	fn(e)
}

func (e *Engine) runDeferred() {
	for {
		e.deferMu.Lock()
		pending := e.deferred
		e.deferred = nil
		e.deferMu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, f := range pending {
			f()
		}
	}
}

// after runs f on the run goroutine once d has elapsed.
func (e *Engine) after(d time.Duration, f func()) Timer {
	return e.clock.AfterFunc(d, func() { e.post(f) })
}

func (e *Engine) withLink(f func(protocol.Adapter)) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()
	if e.link != nil {
		f(e.link)
	}
}

func (e *Engine) connect() {
	if e.state.Active() {
		return
	}
	endpoints := e.resolver.Resolve(e.server)
	if len(endpoints) == 0 {
		e.logger.Error("No endpoints to connect to", "error", errors.ErrInvalidConfig)
		return
	}

	e.disconnectRequested = false
	e.sess = &session{endpoints: endpoints, attempt: 1}
	e.setState(Connecting)
	e.dialNext()
}

// dialNext dials endpoints[0] under a fresh generation and arms the
// connection timeout.
func (e *Engine) dialNext() {
	e.gen++
	gen := e.gen
	ep := e.sess.endpoints[0]
	e.updateStatus()
	e.metrics.recordDial(e.server, ep.Version.String())
	e.logger.Debug("Dialing endpoint", "url", ep.URL, "version", ep.Version.String(), "attempt", e.sess.attempt)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelDial = cancel
	e.connTimer = e.after(e.connTimeout, func() { e.onConnTimeout(gen) })

	go func() {
		sock, err := e.dialer.Dial(ctx, ep.URL)
		if !e.post(func() { e.onDialed(gen, ep, sock, err) }) && sock != nil {
			sock.Close()
		}
	}()
}

func (e *Engine) onDialed(gen uint64, ep endpoint.Endpoint, sock Socket, err error) {
	if gen != e.gen {
		if sock != nil {
			sock.Close()
		}
		return
	}
	if e.cancelDial != nil {
		e.cancelDial()
		e.cancelDial = nil
	}
	if err != nil {
		e.onSocketClosed(gen, errors.WrapTransient(err, "Engine", "onDialed", "dial "+ep.URL))
		return
	}

	e.sock = sock
	e.adapter = protocol.NewAdapter(ep.Version, protocol.SenderFunc(func(payload []byte) {
		if err := sock.WriteMessage(payload); err != nil {
			e.logger.Debug("Dropping outbound frame", "error", err)
		}
	}), e.logger)
	e.linkMu.Lock()
	e.link = e.adapter
	e.linkMu.Unlock()

	go e.read(gen, sock)
	e.heartbeat(gen)
}

// read forwards frames in arrival order until the socket fails.
func (e *Engine) read(gen uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			e.post(func() { e.onSocketClosed(gen, err) })
			return
		}
		if !e.post(func() { e.onFrame(gen, data) }) {
			return
		}
	}
}

// heartbeat sends one heartbeat and re-arms itself while gen is current.
func (e *Engine) heartbeat(gen uint64) {
	if gen != e.gen {
		return
	}
	e.withLink(func(a protocol.Adapter) { a.Heartbeat() })
	e.heartbeatTimer = e.after(e.heartbeatInterval, func() { e.heartbeat(gen) })
}

func (e *Engine) onFrame(gen uint64, data []byte) {
	if gen != e.gen || e.adapter == nil {
		return
	}

	ev, err := e.adapter.ProcessMessage(data)
	if err != nil {
		e.logger.Warn("Dropping malformed frame", "error", err)
		e.metrics.recordMalformed(e.server, err)
		return
	}
	e.metrics.recordFrame(e.server, protocol.Kind(ev))

	switch ev := ev.(type) {
	case protocol.HeartbeatAck:
		if e.sess.connectedAt == 0 {
			e.markConnected()
		}
	case protocol.Unrecognized:
		e.logger.Debug("Ignoring unrecognized frame", "frame", string(ev.Raw))
	default:
		protocol.Dispatch(e.sink, e.server, ev)
	}
}

func (e *Engine) markConnected() {
	stopTimer(e.connTimer)
	e.connTimer = nil
	e.sess.connectedAt = timestamp.ToUnixMs(e.clock.Now())
	e.sess.attempt = 1
	e.withLink(func(a protocol.Adapter) { a.ConnectionInitialized() })
	e.setState(Connected)

	e.logger.Info("Connection established", "url", e.sess.endpoints[0].URL)
	if e.listener.OnOpened != nil {
		e.notify(e.listener.OnOpened)
	}
}

func (e *Engine) onConnTimeout(gen uint64) {
	if gen != e.gen || e.sess == nil || e.sess.connectedAt > 0 {
		return
	}
	e.logger.Warn("No heartbeat ack before timeout", "url", e.sess.endpoints[0].URL, "timeout", e.connTimeout)
	e.onSocketClosed(gen, errors.WrapTransient(errors.ErrConnectionTimeout, "Engine", "onConnTimeout", "await heartbeat ack"))
}

// onSocketClosed handles dial failure, socket close and connection timeout
// alike.
func (e *Engine) onSocketClosed(gen uint64, cause error) {
	if gen != e.gen {
		return
	}
	wasOpen := e.sock != nil
	e.retire()
	if wasOpen {
		e.notifyClosed()
	}

	if e.disconnectRequested || e.sess == nil {
		e.setState(Closed)
		return
	}

	if e.sess.connectedAt > 0 {
		e.logger.Info("Connection lost, reconnecting", "error", cause)
		e.sess.endpoints = e.resolver.Resolve(e.server)
		e.sess.connectedAt = 0
		e.setState(Reconnecting)
		if len(e.sess.endpoints) == 0 {
			e.scheduleBackoff()
			return
		}
		e.dialNext()
		return
	}

	e.logger.Debug("Endpoint failed", "url", e.sess.endpoints[0].URL, "error", cause)
	e.sess.endpoints = e.sess.endpoints[1:]
	if len(e.sess.endpoints) == 0 {
		e.scheduleBackoff()
		return
	}
	e.setState(Connecting)
	e.dialNext()
}

// scheduleBackoff rebuilds the exhausted list and dials again after
// min(max, r * factor^attempt * base).
func (e *Engine) scheduleBackoff() {
	e.sess.endpoints = e.resolver.Resolve(e.server)
	e.sess.attempt++
	delay := e.backoff.Delay(e.sess.attempt, e.rand())
	e.metrics.recordBackoff(e.server, delay.Seconds())
	e.logger.Info("Endpoints exhausted, backing off",
		"attempt", e.sess.attempt, "delay", delay, "error", errors.ErrEndpointExhausted)

	gen := e.gen
	e.backoffTimer = e.after(delay, func() { e.onBackoff(gen) })
	e.updateStatus()
}

func (e *Engine) onBackoff(gen uint64) {
	if gen != e.gen || e.sess == nil || e.disconnectRequested {
		return
	}
	e.backoffTimer = nil
	if len(e.sess.endpoints) == 0 {
		e.sess.endpoints = e.resolver.Resolve(e.server)
	}
	if len(e.sess.endpoints) == 0 {
		e.scheduleBackoff()
		return
	}
	e.setState(Connecting)
	e.dialNext()
}

// closeNow handles Close and Shutdown. Timers are cancelled before the
// socket is closed so nothing can schedule a reconnect afterwards.
func (e *Engine) closeNow() {
	e.disconnectRequested = true
	wasOpen := e.sock != nil
	e.retire()
	e.sess = nil
	if wasOpen {
		e.notifyClosed()
	}
	if e.state != Closed {
		e.logger.Info("Connection closed")
	}
	e.setState(Closed)
}

// retire invalidates the current generation: timers stop, a pending dial is
// cancelled and the socket, if any, is closed and unbound.
func (e *Engine) retire() {
	e.gen++
	stopTimer(e.connTimer)
	stopTimer(e.heartbeatTimer)
	stopTimer(e.backoffTimer)
	e.connTimer, e.heartbeatTimer, e.backoffTimer = nil, nil, nil
	if e.cancelDial != nil {
		e.cancelDial()
		e.cancelDial = nil
	}

	e.linkMu.Lock()
	e.link = nil
	e.linkMu.Unlock()
	e.adapter = nil

	if e.sock != nil {
		e.sock.Close()
		e.sock = nil
	}
}

func (e *Engine) notifyClosed() {
	if e.listener.OnClosed != nil {
		e.notify(e.listener.OnClosed)
	}
}

func (e *Engine) setState(s State) {
	if e.state != s {
		e.logger.Debug("State transition", "from", e.state.String(), "to", s.String())
	}
	e.state = s
	e.metrics.recordState(e.server, s)
	e.updateStatus()
}

func (e *Engine) updateStatus() {
	st := Status{Server: e.server, State: e.state, StateName: e.state.String()}
	if e.sess != nil {
		st.Attempt = e.sess.attempt
		st.ConnectedAt = e.sess.connectedAt
		if len(e.sess.endpoints) > 0 {
			st.Endpoint = e.sess.endpoints[0]
		}
	}
	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()
}

func classOf(err error) string {
	return errors.Classify(err).String()
}
