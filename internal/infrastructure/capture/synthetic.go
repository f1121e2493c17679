package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
)

const (
	DriverSynthetic = "synthetic"

	defaultWidth     = 640
	defaultHeight    = 480
	defaultFrameRate = 15
	opusFrame        = 20 * time.Millisecond
)

var (
	OpusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	VP8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// opusSilence is a single 20 ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticDriver produces test-pattern VP8 keyframes and Opus silence. It
// stands in for platform devices in the CLI and in tests.
type SyntheticDriver struct {
	// MaxWidth and MaxHeight bound the resolution the fake camera accepts.
	// Zero means unbounded.
	MaxWidth  int
	MaxHeight int

	// DisplayPrompt gates screen capture. A nil prompt approves immediately.
	DisplayPrompt func(ctx context.Context) error

	mu      sync.Mutex
	fail    map[media.Source]error
	sources []*media.FrameSource
}

var _ ports.CaptureDriver = (*SyntheticDriver)(nil)

func NewSyntheticDriver() *SyntheticDriver {
	return &SyntheticDriver{fail: make(map[media.Source]error)}
}

func (d *SyntheticDriver) Name() string {
	return DriverSynthetic
}

// FailWith makes every later Open of source return err. A nil err clears it.
func (d *SyntheticDriver) FailWith(source media.Source, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, source)
		return
	}
	d.fail[source] = err
}

// Sources returns every frame source opened so far, in order.
func (d *SyntheticDriver) Sources() []*media.FrameSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*media.FrameSource(nil), d.sources...)
}

func (d *SyntheticDriver) Open(ctx context.Context, source media.Source, profile ports.CaptureProfile) (media.SampleSource, webrtc.RTPCodecCapability, error) {
	d.mu.Lock()
	err := d.fail[source]
	d.mu.Unlock()
	if err != nil {
		return nil, webrtc.RTPCodecCapability{}, err
	}

	var src *media.FrameSource
	var codec webrtc.RTPCodecCapability
	switch source {
	case media.SourceMicrophone:
		src, codec = media.NewFrameSource(opusSilence, opusFrame), OpusCodec

	case media.SourceCamera:
		if (d.MaxWidth > 0 && profile.Width > d.MaxWidth) || (d.MaxHeight > 0 && profile.Height > d.MaxHeight) {
			return nil, webrtc.RTPCodecCapability{}, domain.ErrOverconstrained
		}
		src, codec = d.videoSource(profile), VP8Codec

	case media.SourceScreen:
		if d.DisplayPrompt != nil {
			if err := d.DisplayPrompt(ctx); err != nil {
				return nil, webrtc.RTPCodecCapability{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, webrtc.RTPCodecCapability{}, err
		}
		src, codec = d.videoSource(ports.CaptureProfile{Width: 1280, Height: 720, FrameRate: 5}), VP8Codec

	default:
		return nil, webrtc.RTPCodecCapability{}, domain.ErrDeviceNotFound
	}

	d.mu.Lock()
	d.sources = append(d.sources, src)
	d.mu.Unlock()
	return src, codec, nil
}

func (d *SyntheticDriver) videoSource(profile ports.CaptureProfile) *media.FrameSource {
	width, height, rate := profile.Width, profile.Height, profile.FrameRate
	if width <= 0 || height <= 0 {
		width, height = defaultWidth, defaultHeight
	}
	if rate <= 0 {
		rate = defaultFrameRate
	}
	return media.NewFrameSource(vp8Keyframe(width, height), time.Second/time.Duration(rate))
}

// vp8Keyframe builds a VP8 keyframe header (RFC 6386 section 9.1) followed by
// an empty first partition.
func vp8Keyframe(width, height int) []byte {
	frame := make([]byte, 10)
	// frame tag: keyframe, version 0, show_frame, first partition size 0
	frame[0] = 0x10
	frame[3], frame[4], frame[5] = 0x9d, 0x01, 0x2a
	binary.LittleEndian.PutUint16(frame[6:], uint16(width)&0x3fff)
	binary.LittleEndian.PutUint16(frame[8:], uint16(height)&0x3fff)
	return frame
}

// NewDriver returns the driver registered under name.
func NewDriver(name string) (ports.CaptureDriver, error) {
	switch name {
	case "", DriverSynthetic:
		return NewSyntheticDriver(), nil
	}
	return nil, fmt.Errorf("unknown capture driver %q", name)
}
