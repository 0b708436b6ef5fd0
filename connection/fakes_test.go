package connection

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/c360/streamview/endpoint"
	"github.com/c360/streamview/protocol"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the remaining duration of every active timer, sorted.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var errSocketGone = stderrors.New("socket closed")

// fakeSocket is driven by the test: Push delivers a frame, Fail breaks it.
type fakeSocket struct {
	url    string
	frames chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeSocket(url string) *fakeSocket {
	return &fakeSocket{
		url:    url,
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.frames:
		return data, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, errSocketGone
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	select {
	case <-s.closed:
		return errSocketGone
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, string(data))
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) Push(frame string) { s.frames <- []byte(frame) }

func (s *fakeSocket) Fail(err error) { s.errs <- err }

func (s *fakeSocket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// fakeDialer records dials; refused URLs fail immediately, others yield a
// fakeSocket announced on opened.
type fakeDialer struct {
	mu        sync.Mutex
	dials     []string
	refuse    map[string]bool
	refuseAll bool
	opened    chan *fakeSocket
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{refuse: map[string]bool{}, opened: make(chan *fakeSocket, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.dials = append(d.dials, url)
	refused := d.refuseAll || d.refuse[url]
	d.mu.Unlock()
	if refused {
		return nil, stderrors.New("connection refused")
	}
	s := newFakeSocket(url)
	d.opened <- s
	return s, nil
}

func (d *fakeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func (d *fakeDialer) SetRefuseAll(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuseAll = v
}

type staticResolver []endpoint.Endpoint

func (r staticResolver) Resolve(string) []endpoint.Endpoint {
	return append([]endpoint.Endpoint(nil), r...)
}

type recordingSink struct {
	mu       sync.Mutex
	reports  []protocol.Report
	catalogs int
	metrics  []protocol.MetricSpec
}

func (s *recordingSink) MetricsList(string, []protocol.ServiceNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs++
}

func (s *recordingSink) NewMetric(_ string, spec protocol.MetricSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, spec)
}

func (s *recordingSink) Report(_ string, r protocol.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *recordingSink) Reports() []protocol.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Report(nil), s.reports...)
}
