package capture

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	apperrors "peercall/pkg/errors"
)

var hdProfile = ports.CaptureProfile{Width: 1280, Height: 720, FrameRate: 30, EchoCancellation: true}

func newTestDevice(t *testing.T, driver *SyntheticDriver, profile ports.CaptureProfile) *Device {
	t.Helper()
	return NewDevice(driver, profile, zaptest.NewLogger(t).Sugar())
}

func sourceEnded(t *testing.T, src *media.FrameSource) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := src.ReadSample(ctx)
	return errors.Is(err, io.EOF)
}

func TestDevice_AcquireAudioVideo(t *testing.T) {
	driver := NewSyntheticDriver()
	stream, err := newTestDevice(t, driver, hdProfile).Acquire(context.Background(), true, true)
	require.NoError(t, err)
	defer stream.Stop()

	require.NotNil(t, stream.Audio)
	require.NotNil(t, stream.Video)
	assert.Equal(t, media.SourceMicrophone, stream.Audio.Source())
	assert.Equal(t, media.SourceCamera, stream.Video.Source())
	assert.Equal(t, webrtc.MimeTypeOpus, stream.Audio.Codec().MimeType)
	assert.Equal(t, webrtc.MimeTypeVP8, stream.Video.Codec().MimeType)
	assert.Len(t, driver.Sources(), 2)
}

func TestDevice_AcquireAudioOnly(t *testing.T) {
	stream, err := newTestDevice(t, NewSyntheticDriver(), hdProfile).Acquire(context.Background(), false, true)
	require.NoError(t, err)
	defer stream.Stop()

	assert.NotNil(t, stream.Audio)
	assert.Nil(t, stream.Video)
}

func TestDevice_AcquireRequiresAKind(t *testing.T) {
	_, err := newTestDevice(t, NewSyntheticDriver(), hdProfile).Acquire(context.Background(), false, false)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestDevice_FallsBackToBareProfile(t *testing.T) {
	driver := NewSyntheticDriver()
	driver.MaxWidth, driver.MaxHeight = 640, 480

	stream, err := newTestDevice(t, driver, hdProfile).Acquire(context.Background(), true, true)
	require.NoError(t, err)
	defer stream.Stop()

	// the first attempt's microphone is released before retrying
	sources := driver.Sources()
	require.Len(t, sources, 3)
	assert.True(t, sourceEnded(t, sources[0]))
	assert.NotNil(t, stream.Video)
}

func TestDevice_BareProfileOverconstrainedIsUnsupported(t *testing.T) {
	driver := NewSyntheticDriver()
	driver.FailWith(media.SourceCamera, domain.ErrOverconstrained)

	_, err := newTestDevice(t, driver, hdProfile).Acquire(context.Background(), true, false)
	assert.True(t, errors.Is(err, domain.ErrDeviceUnsupported))
}

func TestDevice_RollsBackOnPartialFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"denied", domain.ErrDeviceDenied, domain.ErrDeviceDenied},
		{"in use", domain.ErrDeviceInUse, domain.ErrDeviceInUse},
		{"not found", domain.ErrDeviceNotFound, domain.ErrDeviceNotFound},
		{"unknown driver error", errors.New("driver crashed"), domain.ErrDeviceUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := NewSyntheticDriver()
			driver.FailWith(media.SourceCamera, tt.err)

			stream, err := newTestDevice(t, driver, hdProfile).Acquire(context.Background(), true, true)
			assert.Nil(t, stream)
			assert.True(t, errors.Is(err, tt.want))

			sources := driver.Sources()
			require.Len(t, sources, 1)
			assert.True(t, sourceEnded(t, sources[0]))
		})
	}
}

func TestDevice_AcquireCancelled(t *testing.T) {
	driver := NewSyntheticDriver()
	driver.FailWith(media.SourceMicrophone, context.Canceled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDevice(t, driver, hdProfile).Acquire(ctx, false, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDevice_AcquireDisplay(t *testing.T) {
	driver := NewSyntheticDriver()
	track, err := newTestDevice(t, driver, hdProfile).AcquireDisplay(context.Background())
	require.NoError(t, err)
	defer track.Stop()

	assert.Equal(t, media.SourceScreen, track.Source())
	assert.Equal(t, media.KindVideo, track.Kind())
}

func TestDevice_AcquireDisplayDismissedIsDenied(t *testing.T) {
	driver := NewSyntheticDriver()
	driver.DisplayPrompt = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestDevice(t, driver, hdProfile).AcquireDisplay(ctx)
	assert.True(t, errors.Is(err, domain.ErrDeviceDenied))
}

func TestDevice_AcquireDisplayDenied(t *testing.T) {
	driver := NewSyntheticDriver()
	driver.FailWith(media.SourceScreen, domain.ErrDeviceDenied)

	_, err := newTestDevice(t, driver, hdProfile).AcquireDisplay(context.Background())
	assert.True(t, errors.Is(err, domain.ErrDeviceDenied))
	assert.True(t, apperrors.IsDeviceError(err))
}

func TestSyntheticDriver_Keyframe(t *testing.T) {
	frame := vp8Keyframe(320, 240)
	assert.True(t, media.IsKeyframeFrame(webrtc.MimeTypeVP8, frame))
	assert.Equal(t, []byte{0x40, 0x01}, frame[6:8])
	assert.Equal(t, []byte{0xf0, 0x00}, frame[8:10])
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver("")
	require.NoError(t, err)
	assert.Equal(t, DriverSynthetic, d.Name())

	_, err = NewDriver("v4l2")
	assert.Error(t, err)
}
