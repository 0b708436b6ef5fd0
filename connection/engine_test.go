package connection

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/c360/streamview/endpoint"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/protocol"
)

const (
	epV2 = "ws://host:8080/telemetry/v2/stream"
	epV1 = "ws://host:8080/telemetry/v1/stream"
)

type EngineSuite struct {
	suite.Suite

	clock    *fakeClock
	dialer   *fakeDialer
	sink     *recordingSink
	registry *metric.MetricsRegistry
	metrics  *Metrics
	engine   *Engine

	opened atomic.Int32
	closed atomic.Int32
	onOpen func(*Engine)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.clock = newFakeClock()
	s.dialer = newFakeDialer()
	s.sink = &recordingSink{}
	s.registry = metric.NewMetricsRegistry()
	s.opened.Store(0)
	s.closed.Store(0)
	s.onOpen = nil

	var err error
	s.metrics, err = NewMetrics(s.registry)
	s.Require().NoError(err)

	resolver := staticResolver{
		{URL: epV2, Version: protocol.V2},
		{URL: epV1, Version: protocol.V1},
	}
	s.engine, err = New("host", resolver, s.sink,
		WithClock(s.clock),
		WithDialer(s.dialer),
		WithRand(func() float64 { return 0.5 }),
		WithMetrics(s.metrics),
		WithListener(Listener{
			OnOpened: func(e *Engine) {
				s.opened.Add(1)
				if s.onOpen != nil {
					s.onOpen(e)
				}
			},
			OnClosed: func(*Engine) { s.closed.Add(1) },
		}),
	)
	s.Require().NoError(err)
}

func (s *EngineSuite) TearDownTest() {
	s.engine.Shutdown()
	select {
	case <-s.engine.Done():
	case <-time.After(2 * time.Second):
		s.Fail("engine did not stop")
	}
}

// sync runs f on the engine goroutine and waits for it.
func (s *EngineSuite) sync(f func()) {
	done := make(chan struct{})
	s.Require().True(s.engine.post(func() {
		f()
		close(done)
	}))
	<-done
}

func (s *EngineSuite) eventually(cond func() bool, msg string) {
	s.Require().Eventually(cond, 2*time.Second, 5*time.Millisecond, msg)
}

func (s *EngineSuite) nextSocket() *fakeSocket {
	select {
	case sock := <-s.dialer.opened:
		return sock
	case <-time.After(2 * time.Second):
		s.FailNow("no socket dialed")
		return nil
	}
}

// connect drives the engine to Connected through a heartbeat ack on the
// first endpoint.
func (s *EngineSuite) connect() *fakeSocket {
	s.engine.Connect()
	sock := s.nextSocket()
	sock.Push(`{"command":"heartbeat"}`)
	s.eventually(func() bool { return s.engine.State() == Connected }, "engine should connect")
	return sock
}

func (s *EngineSuite) TestNewRejectsUnresolvableServer() {
	_, err := New("", staticResolver{{URL: epV2}}, nil)
	s.Error(err)

	_, err = New("host", staticResolver{}, nil)
	s.Error(err)
}

func (s *EngineSuite) TestStartsIdle() {
	s.Equal(Idle, s.engine.State())
	s.Equal("host", s.engine.Server())
	s.Empty(s.clock.Pending())
}

func (s *EngineSuite) TestSocketOpenIsNotConnected() {
	s.engine.Connect()
	sock := s.nextSocket()

	s.eventually(func() bool { return len(sock.Written()) == 1 }, "immediate heartbeat")
	s.Equal(`{"command":"heartbeat"}`, sock.Written()[0])
	s.Equal(Connecting, s.engine.State())
	s.Equal(int32(0), s.opened.Load())
}

func (s *EngineSuite) TestHeartbeatAckConnects() {
	sock := s.connect()

	s.Equal(1, s.engine.Attempt())
	s.Equal(epV2, s.engine.Endpoint().URL)
	s.NotZero(s.engine.Status().ConnectedAt)
	s.eventually(func() bool { return s.opened.Load() == 1 }, "listener notified")
	s.Contains(sock.Written(), `{"command":"getMetrics"}`)

	// Only the heartbeat ticker remains armed.
	s.Equal([]time.Duration{DefaultHeartbeatInterval}, s.clock.Pending())
	s.True(s.engine.Health().IsHealthy())
}

func (s *EngineSuite) TestHeartbeatTicker() {
	sock := s.connect()
	before := len(sock.Written())

	s.clock.Advance(DefaultHeartbeatInterval)
	s.eventually(func() bool { return len(sock.Written()) == before+1 }, "ticker heartbeat")
	s.Equal(`{"command":"heartbeat"}`, sock.Written()[before])
}

func (s *EngineSuite) TestTwoEndpointsExhaustedSchedulesOneBackoff() {
	s.dialer.SetRefuseAll(true)

	s.engine.Connect()
	s.eventually(func() bool { return s.engine.Attempt() == 2 }, "attempt should increment")

	s.Equal([]string{epV2, epV1}, s.dialer.Dials())
	s.Equal(Connecting, s.engine.State())
	// 0.5 * 1.5^2 * 2s
	s.Equal([]time.Duration{2250 * time.Millisecond}, s.clock.Pending())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.backoffs.WithLabelValues("host")))

	s.clock.Advance(2250 * time.Millisecond)
	s.eventually(func() bool { return len(s.dialer.Dials()) == 4 }, "second pass")
	s.Equal([]string{epV2, epV1, epV2, epV1}, s.dialer.Dials())
	s.eventually(func() bool { return s.engine.Attempt() == 3 }, "third pass scheduled")
}

func (s *EngineSuite) TestFallsThroughToSecondEndpoint() {
	s.dialer.refuse[epV2] = true

	s.engine.Connect()
	sock := s.nextSocket()
	s.Equal(epV1, sock.url)

	sock.Push(`{"response":"ok"}`)
	s.eventually(func() bool { return s.engine.State() == Connected }, "connect via v1")
	s.Equal(protocol.V1, s.engine.Endpoint().Version)
	s.Equal(1, s.engine.Attempt())
}

func (s *EngineSuite) TestConnectionTimeoutMovesOn() {
	s.engine.Connect()
	first := s.nextSocket()
	s.eventually(func() bool { return len(first.Written()) == 1 }, "heartbeat sent")

	s.clock.Advance(DefaultConnectionTimeout)

	second := s.nextSocket()
	s.Equal(epV1, second.url)
	s.True(first.IsClosed())
	s.Equal(int32(1), s.closed.Load())
}

func (s *EngineSuite) TestReconnectAfterConnectionLoss() {
	sock := s.connect()

	sock.Fail(errSocketGone)

	next := s.nextSocket()
	s.Equal(epV2, next.url, "rebuilt list starts from the top")
	s.Equal(Reconnecting, s.engine.State())
	s.Equal(int32(1), s.closed.Load())
	s.Zero(s.engine.Status().ConnectedAt)

	next.Push(`{"command":"heartbeat"}`)
	s.eventually(func() bool { return s.engine.State() == Connected }, "reconnected")
	s.eventually(func() bool { return s.opened.Load() == 2 }, "opened twice")
}

func (s *EngineSuite) TestCloseCancelsTimers() {
	s.dialer.SetRefuseAll(true)
	s.engine.Connect()
	s.eventually(func() bool { return s.engine.Attempt() == 2 }, "backoff scheduled")

	s.engine.Close()
	s.eventually(func() bool { return s.engine.State() == Closed }, "closed")

	s.Empty(s.clock.Pending())
	s.clock.Advance(time.Hour)
	s.sync(func() {})
	s.Len(s.dialer.Dials(), 2)
}

func (s *EngineSuite) TestCloseWhileConnectedDoesNotReconnect() {
	sock := s.connect()

	s.engine.Close()
	s.eventually(func() bool { return s.engine.State() == Closed }, "closed")

	s.True(sock.IsClosed())
	s.Equal(int32(1), s.closed.Load())
	s.Empty(s.clock.Pending())
	s.sync(func() {})
	s.Len(s.dialer.Dials(), 1)
	s.True(s.engine.Health().IsUnhealthy())

	// Closed is not terminal for Connect.
	s.connect()
}

func (s *EngineSuite) TestConnectIsIdempotentWhileActive() {
	s.connect()
	s.engine.Connect()
	s.sync(func() {})
	s.Len(s.dialer.Dials(), 1)
}

func (s *EngineSuite) TestStaleGenerationIgnored() {
	s.engine.Connect()
	s.nextSocket()

	var stale uint64
	s.sync(func() { stale = s.engine.gen })

	s.clock.Advance(DefaultConnectionTimeout)
	s.nextSocket()

	s.sync(func() { s.engine.onFrame(stale, []byte(`{"command":"heartbeat"}`)) })
	s.Equal(Connecting, s.engine.State())

	s.sync(func() { s.engine.onSocketClosed(stale, errSocketGone) })
	s.Equal(epV1, s.engine.Endpoint().URL)
	s.Len(s.dialer.Dials(), 2)
}

func (s *EngineSuite) TestDispatchesEventsToSink() {
	sock := s.connect()

	report := map[string]any{
		"command": "report",
		"data": map[string]any{
			"service": "web", "metric": "latency", "statistic": "max",
			"server": "web-1", "timestamp": 1700000000000, "data": 12.5,
		},
	}
	raw, err := json.Marshal(report)
	s.Require().NoError(err)
	sock.Push(string(raw))
	sock.Push(`{"command":"newMetric","data":{"service":"web","metric":"errors","statistic":"sum"}}`)

	s.eventually(func() bool { return len(s.sink.Reports()) == 1 }, "report delivered")
	got := s.sink.Reports()[0]
	s.Equal(protocol.MetricSpec{Service: "web", Metric: "latency", Statistic: "max"}, got.MetricSpec)
	s.Equal(int64(1700000000000), got.Timestamp)
	s.Equal(12.5, got.Value)
}

func (s *EngineSuite) TestMalformedFrameKeepsConnection() {
	sock := s.connect()

	sock.Push(`not json`)
	sock.Push(`{"command":"mystery"}`)
	s.sync(func() {})
	s.eventually(func() bool {
		return testutil.ToFloat64(s.metrics.malformed.WithLabelValues("host")) == 1
	}, "malformed counted")

	s.Equal(Connected, s.engine.State())
	s.False(sock.IsClosed())
	s.Empty(s.sink.Reports())
}

func (s *EngineSuite) TestSubscribeReplayOnOpen() {
	spec := protocol.MetricSpec{Service: "web", Metric: "latency", Statistic: "max"}
	s.onOpen = func(e *Engine) { e.Subscribe(spec) }

	sock := s.connect()

	s.eventually(func() bool {
		for _, w := range sock.Written() {
			if w == `{"command":"subscribe","data":{"service":"web","metric":"latency","statistic":"max"}}` {
				return true
			}
		}
		return false
	}, "subscription replayed")

	s.engine.Unsubscribe(spec)
	s.Contains(sock.Written(), `{"command":"unsubscribe","data":{"service":"web","metric":"latency","statistic":"max"}}`)
}

func (s *EngineSuite) TestCloseFromListenerDoesNotBlock() {
	var stateInCallback atomic.Int32
	s.onOpen = func(e *Engine) {
		// more requests than the mailbox holds
		for i := 0; i < 3*cap(e.mailbox); i++ {
			e.Close()
		}
		stateInCallback.Store(int32(e.State()))
	}

	s.engine.Connect()
	sock := s.nextSocket()
	sock.Push(`{"command":"heartbeat"}`)

	s.eventually(func() bool { return s.engine.State() == Closed }, "close requested by listener")
	s.Equal(int32(Connected), stateInCallback.Load())
	s.eventually(func() bool { return s.closed.Load() == 1 }, "closed listener notified once")

	s.engine.Connect()
	s.nextSocket()
	s.eventually(func() bool { return s.engine.State() == Connecting }, "engine reconnects after close")
}

func (s *EngineSuite) TestSubscribeWithoutSocketIsDropped() {
	s.NotPanics(func() {
		s.engine.Subscribe(protocol.MetricSpec{Service: "a", Metric: "b", Statistic: "c"})
	})
}

func (s *EngineSuite) TestStateMetric() {
	s.connect()
	s.Equal(float64(Connected), testutil.ToFloat64(s.registry.CoreMetrics().ConnectionState.WithLabelValues("host")))

	s.metrics.Forget("host")
	s.Equal(0, testutil.CollectAndCount(s.metrics.transitions))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{Reconnecting, "reconnecting"},
		{Closed, "closed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

var _ Resolver = endpoint.Resolver{}
