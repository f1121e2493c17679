package capture

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	"peercall/pkg/config"
	apperrors "peercall/pkg/errors"
)

// Device acquires local media through a driver, falling back to the bare
// profile once when the ideal one is over-constrained.
type Device struct {
	driver  ports.CaptureDriver
	profile ports.CaptureProfile
	logger  *zap.SugaredLogger
}

var _ ports.CaptureDevice = (*Device)(nil)

func NewDevice(driver ports.CaptureDriver, profile ports.CaptureProfile, logger *zap.SugaredLogger) *Device {
	return &Device{driver: driver, profile: profile, logger: logger}
}

func ProfileFromConfig(cfg *config.Config) ports.CaptureProfile {
	return ports.CaptureProfile{
		Width:            cfg.Capture.Width,
		Height:           cfg.Capture.Height,
		FrameRate:        cfg.Capture.FrameRate,
		EchoCancellation: cfg.Capture.EchoCancellation,
	}
}

func (d *Device) Acquire(ctx context.Context, video, audio bool) (*media.Stream, error) {
	if !video && !audio {
		return nil, apperrors.NewInvalidInputError("capture request must include audio or video")
	}

	stream, err := d.acquire(ctx, video, audio, d.profile)
	if errors.Is(err, domain.ErrOverconstrained) && !d.profile.Bare() {
		d.logger.Warnw("ideal capture profile rejected, retrying with bare profile",
			"driver", d.driver.Name(),
			"width", d.profile.Width,
			"height", d.profile.Height,
			"frame_rate", d.profile.FrameRate,
		)
		stream, err = d.acquire(ctx, video, audio, ports.CaptureProfile{})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}

	d.logger.Infow("local media acquired",
		"driver", d.driver.Name(),
		"audio", stream.Audio != nil,
		"video", stream.Video != nil,
	)
	return stream, nil
}

// acquire opens the requested tracks in order and stops whatever was
// already opened when a later one fails.
func (d *Device) acquire(ctx context.Context, video, audio bool, profile ports.CaptureProfile) (*media.Stream, error) {
	var opened []*media.LocalTrack
	rollback := func() {
		for _, t := range opened {
			t.Stop()
		}
	}

	stream := &media.Stream{}
	if audio {
		t, err := d.open(ctx, media.KindAudio, media.SourceMicrophone, profile)
		if err != nil {
			return nil, err
		}
		opened = append(opened, t)
		stream.Audio = t
	}
	if video {
		t, err := d.open(ctx, media.KindVideo, media.SourceCamera, profile)
		if err != nil {
			rollback()
			return nil, err
		}
		opened = append(opened, t)
		stream.Video = t
	}
	return stream, nil
}

func (d *Device) open(ctx context.Context, kind media.Kind, source media.Source, profile ports.CaptureProfile) (*media.LocalTrack, error) {
	src, codec, err := d.driver.Open(ctx, source, profile)
	if err != nil {
		return nil, err
	}
	track, err := media.NewLocalTrack(kind, source, codec, src)
	if err != nil {
		_ = src.Close()
		return nil, apperrors.NewDeviceError(apperrors.ErrCodeDeviceUnsupported, err)
	}
	track.OnEnded(func() {
		d.logger.Infow("capture track ended", "source", source, "track_id", track.ID())
	})
	return track, nil
}

// AcquireDisplay prompts for a screen source. Dismissing the prompt, which
// includes cancelling ctx, counts as a denial.
func (d *Device) AcquireDisplay(ctx context.Context) (*media.LocalTrack, error) {
	t, err := d.open(ctx, media.KindVideo, media.SourceScreen, ports.CaptureProfile{})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, apperrors.NewDeviceError(apperrors.ErrCodeDeviceDenied, err)
		}
		return nil, classify(err)
	}
	d.logger.Infow("display capture acquired", "driver", d.driver.Name(), "track_id", t.ID())
	return t, nil
}

func classify(err error) error {
	if apperrors.IsDeviceError(err) {
		return err
	}
	return apperrors.NewDeviceError(apperrors.ErrCodeDeviceUnsupported, err)
}
