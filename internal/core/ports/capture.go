package ports

import (
	"context"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/media"
)

type CaptureDevice interface {
	Acquire(ctx context.Context, video, audio bool) (*media.Stream, error)
	AcquireDisplay(ctx context.Context) (*media.LocalTrack, error)
}

// CaptureProfile holds the requested device constraints. The zero value is
// the bare profile: any resolution, any rate, no audio processing.
type CaptureProfile struct {
	Width            int
	Height           int
	FrameRate        int
	EchoCancellation bool
}

func (p CaptureProfile) Bare() bool {
	return p == CaptureProfile{}
}

// CaptureDriver opens platform devices. Drivers report failures with the
// domain device errors, or domain.ErrOverconstrained when the profile
// cannot be met.
type CaptureDriver interface {
	Name() string
	Open(ctx context.Context, source media.Source, profile CaptureProfile) (media.SampleSource, webrtc.RTPCodecCapability, error)
}
