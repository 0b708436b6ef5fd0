package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/streamview/pkg/buffer"
)

const (
	dirUpstream   = "upstream"
	dirDownstream = "downstream"
)

func newQueue(size int, m *Metrics, direction string) (buffer.Buffer[[]byte], error) {
	return buffer.NewCircularBuffer[[]byte](size,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { m.drop(direction) }),
	)
}

// session is one originator/destination pair. Writes to either leg happen
// under mu so queued frames are always flushed before live ones.
type session struct {
	id           string
	target       string
	handler      *Handler
	logger       *slog.Logger
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	mu          sync.Mutex
	origin      *websocket.Conn
	dest        *websocket.Conn
	toDest      buffer.Buffer[[]byte]
	toOrigin    buffer.Buffer[[]byte]
	established bool
	closed      bool
}

func (s *session) dial(d *websocket.Dialer) {
	conn, resp, err := d.DialContext(s.ctx, s.target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn("Destination dial failed", "error", err)
		s.close("dial_failed")
		return
	}
	if !s.attachDest(conn) {
		conn.Close()
		return
	}
	s.pump(conn, s.fromDest)
	s.close("destination_closed")
}

// pump reads text frames from conn until it fails.
func (s *session) pump(conn *websocket.Conn, deliver func([]byte)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Proxy leg read ended", "error", err)
			}
			return
		}
		deliver(data)
	}
}

func (s *session) attachOrigin(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "destination unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.origin = conn
	s.establishLocked()
}

func (s *session) attachDest(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.dest = conn
	s.establishLocked()
	return true
}

// establishLocked flushes both queues once both legs are attached.
func (s *session) establishLocked() {
	if s.established || s.origin == nil || s.dest == nil {
		return
	}
	s.established = true
	for _, f := range s.toDest.ReadBatch(s.toDest.Size()) {
		s.writeLocked(s.dest, f, dirUpstream)
	}
	for _, f := range s.toOrigin.ReadBatch(s.toOrigin.Size()) {
		s.writeLocked(s.origin, f, dirDownstream)
	}
	s.logger.Info("Established proxy connection")
}

func (s *session) fromOrigin(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.established {
		_ = s.toDest.Write(data)
		return
	}
	s.writeLocked(s.dest, data, dirUpstream)
}

func (s *session) fromDest(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.established {
		_ = s.toOrigin.Write(data)
		return
	}
	s.writeLocked(s.origin, data, dirDownstream)
}

func (s *session) writeLocked(conn *websocket.Conn, data []byte, direction string) {
	if s.closed {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Proxy write failed", "direction", direction, "error", err)
		// the reader on the other leg notices the close and ends the session
		conn.Close()
		return
	}
	s.handler.metrics.frame(direction)
}

// close tears down both legs. Only the first call has any effect.
func (s *session) close(outcome string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	origin, dest := s.origin, s.dest
	s.mu.Unlock()

	s.cancel()
	for _, conn := range []*websocket.Conn{origin, dest} {
		if conn == nil {
			continue
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	s.toDest.Close()
	s.toOrigin.Close()

	s.handler.forget(s.id)
	s.handler.metrics.closed(outcome)
	s.logger.Info("Proxy session closed", "reason", outcome)
}
