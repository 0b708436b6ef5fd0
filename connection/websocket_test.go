package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/protocol"
)

// aggregatorStub is a minimal V2 telemetry server.
type aggregatorStub struct {
	mu       sync.Mutex
	commands []string
}

func (a *aggregatorStub) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/telemetry/v2/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd struct {
				Command string               `json:"command"`
				Data    *protocol.MetricSpec `json:"data"`
			}
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			a.mu.Lock()
			a.commands = append(a.commands, cmd.Command)
			a.mu.Unlock()

			var reply string
			switch cmd.Command {
			case protocol.CmdHeartbeat:
				reply = `{"command":"heartbeat"}`
			case protocol.CmdGetMetrics:
				reply = `{"command":"metricsList","data":{"metrics":[{"name":"web","children":[{"name":"latency","children":[{"name":"max"}]}]}]}}`
			case protocol.CmdSubscribe:
				reply = `{"command":"report","data":{"service":"web","metric":"latency","statistic":"max","server":"web-1","timestamp":1000,"data":3}}`
			default:
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}
}

func (a *aggregatorStub) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

func TestEngine_WebsocketRoundTrip(t *testing.T) {
	stub := &aggregatorStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	resolver := staticResolver{
		{URL: base + "/telemetry/v2/stream", Version: protocol.V2},
	}
	spec := protocol.MetricSpec{Service: "web", Metric: "latency", Statistic: "max"}
	sink := &recordingSink{}

	e, err := New("stub", resolver, sink,
		WithTimeouts(2*time.Second, 100*time.Millisecond),
		WithListener(Listener{OnOpened: func(e *Engine) { e.Subscribe(spec) }}),
	)
	require.NoError(t, err)
	defer func() {
		e.Shutdown()
		<-e.Done()
	}()

	e.Connect()

	require.Eventually(t, func() bool { return e.State() == Connected }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(sink.Reports()) > 0 }, 3*time.Second, 10*time.Millisecond)

	got := sink.Reports()[0]
	assert.Equal(t, spec, got.MetricSpec)
	assert.Equal(t, "web-1", got.Server)
	assert.Equal(t, int64(1000), got.Timestamp)

	sink.mu.Lock()
	assert.Equal(t, 1, sink.catalogs)
	sink.mu.Unlock()

	cmds := stub.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, protocol.CmdHeartbeat, cmds[0])
	assert.Contains(t, cmds, protocol.CmdGetMetrics)
	assert.Contains(t, cmds, protocol.CmdSubscribe)
}

func TestEngine_WebsocketUnreachableBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	clock := newFakeClock()
	e, err := New("gone", staticResolver{{URL: base + "/stream", Version: protocol.V1}}, nil,
		WithClock(clock),
		WithRand(func() float64 { return 0 }),
	)
	require.NoError(t, err)
	defer e.Shutdown()

	e.Connect()

	require.Eventually(t, func() bool { return e.Attempt() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, Connecting, e.State())
	assert.Equal(t, []time.Duration{0}, clock.Pending())
}
