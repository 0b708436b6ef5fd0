package dashboard

import (
	"sort"
	"sync"

	"github.com/c360/streamview/series"
)

// FrameStore keeps the most recent frame drawn for each graph.
type FrameStore struct {
	mu     sync.RWMutex
	frames map[string]series.Frame
}

// NewFrameStore returns an empty store.
func NewFrameStore() *FrameStore {
	return &FrameStore{frames: make(map[string]series.Frame)}
}

// DrawFrame implements FrameSink.
func (s *FrameStore) DrawFrame(f series.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[f.ID] = f
}

// Forget drops the frame for id.
func (s *FrameStore) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frames, id)
}

// Frame returns the latest frame for id.
func (s *FrameStore) Frame(id string) (series.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[id]
	return f, ok
}

// Frames returns every stored frame sorted by id.
func (s *FrameStore) Frames() []series.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]series.Frame, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
