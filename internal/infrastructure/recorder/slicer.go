package recorder

import (
	"bytes"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Slice is one fixed-duration chunk of muxed output.
type Slice struct {
	Index     int
	StartTime time.Time
	Duration  time.Duration
	Data      []byte
}

// Slicer buffers muxer output and cuts it into ordered time slices.
type Slicer struct {
	mu      sync.Mutex
	pending bytes.Buffer
	slices  []Slice
	last    time.Time
	now     func() time.Time
	logger  *zap.SugaredLogger

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSlicer(start time.Time, now func() time.Time, logger *zap.SugaredLogger) *Slicer {
	return &Slicer{last: start, now: now, logger: logger, closed: make(chan struct{})}
}

func (s *Slicer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Write(p)
}

// Close marks the muxer output complete. Slices stay readable.
func (s *Slicer) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed is closed once the muxer has flushed and closed its output.
func (s *Slicer) Closed() <-chan struct{} {
	return s.closed
}

// Cut closes the current slice. Empty intervals produce no slice.
func (s *Slicer) Cut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.pending.Len() == 0 {
		return
	}
	slice := Slice{
		Index:     len(s.slices),
		StartTime: s.last,
		Duration:  now.Sub(s.last),
		Data:      append([]byte(nil), s.pending.Bytes()...),
	}
	s.pending.Reset()
	s.slices = append(s.slices, slice)
	s.last = now

	s.logger.Debugw("recording slice cut",
		"index", slice.Index,
		"size", len(slice.Data),
	)
}

func (s *Slicer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slices)
}

// Join concatenates every slice in order.
func (s *Slicer) Join() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := 0
	for _, sl := range s.slices {
		size += len(sl.Data)
	}
	out := make([]byte, 0, size)
	for _, sl := range s.slices {
		out = append(out, sl.Data...)
	}
	return out
}
