package media

import (
	"context"
	"io"
	"sync"
	"time"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// FrameSource emits the same encoded frame at a fixed interval. It backs
// synthetic capture devices and tests.
type FrameSource struct {
	frame    []byte
	interval time.Duration

	once   sync.Once
	ended  chan struct{}
	ticker *time.Ticker
}

func NewFrameSource(frame []byte, interval time.Duration) *FrameSource {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &FrameSource{
		frame:    append([]byte(nil), frame...),
		interval: interval,
		ended:    make(chan struct{}),
		ticker:   time.NewTicker(interval),
	}
}

func (s *FrameSource) ReadSample(ctx context.Context) (pionmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return pionmedia.Sample{}, ctx.Err()
	case <-s.ended:
		return pionmedia.Sample{}, io.EOF
	case now := <-s.ticker.C:
		return pionmedia.Sample{
			Data:      append([]byte(nil), s.frame...),
			Duration:  s.interval,
			Timestamp: now,
		}, nil
	}
}

// End simulates the device stopping on its own.
func (s *FrameSource) End() {
	s.once.Do(func() {
		close(s.ended)
		s.ticker.Stop()
	})
}

func (s *FrameSource) Close() error {
	s.End()
	return nil
}
