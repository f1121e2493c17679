package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	"peercall/pkg/config"
	"peercall/pkg/utils"
)

const (
	defaultSliceDuration = time.Second
	maxLatePackets       = 64
	flushWait            = 2 * time.Second
)

type Options struct {
	Formats       []string
	SliceDuration time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Formats:       cfg.Recording.Formats,
		SliceDuration: cfg.Recording.SliceDuration,
	}
}

// Recorder muxes the call's tracks into one container, cut into time slices
// while running and joined into a single artifact on Stop.
type Recorder struct {
	opts   Options
	sink   ports.ArtifactSink
	logger *zap.SugaredLogger
	now    func() time.Time

	mu  sync.Mutex
	job *job
}

var _ ports.Recorder = (*Recorder)(nil)

type job struct {
	format  Format
	started time.Time
	slicer  *Slicer
	muxer   muxer
	detach  []func()
	stop    chan struct{}
	done    chan struct{}
}

func NewRecorder(opts Options, sink ports.ArtifactSink, logger *zap.SugaredLogger) *Recorder {
	if opts.SliceDuration <= 0 {
		opts.SliceDuration = defaultSliceDuration
	}
	if len(opts.Formats) == 0 {
		opts.Formats = DefaultFormats
	}
	return &Recorder{
		opts:   opts,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job != nil
}

// Start picks the first supported format and attaches to every source. When
// no format fits, nothing is attached and the recorder stays idle.
func (r *Recorder) Start(ctx context.Context, sources ports.RecordingSources) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job != nil {
		return domain.InvalidState(domain.ErrAlreadyRecording)
	}

	format, err := SelectFormat(r.opts.Formats, sources)
	if err != nil {
		return err
	}

	var tracks []trackInfo
	for _, t := range sources.Local {
		c := t.Codec()
		tracks = append(tracks, trackInfo{kind: t.Kind(), mime: c.MimeType, clockRate: c.ClockRate, channels: c.Channels})
	}
	for _, t := range sources.Remote {
		c := t.Codec()
		tracks = append(tracks, trackInfo{kind: t.Kind(), mime: c.MimeType, clockRate: c.ClockRate, channels: c.Channels})
	}

	started := r.now()
	slicer := NewSlicer(started, r.now, r.logger)
	mux, err := newMuxer(format, slicer, tracks)
	if err != nil {
		return err
	}

	j := &job{
		format:  format,
		started: started,
		slicer:  slicer,
		muxer:   mux,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	idx := 0
	for _, t := range sources.Local {
		j.detach = append(j.detach, r.attachLocal(j, idx, t))
		idx++
	}
	for _, t := range sources.Remote {
		j.detach = append(j.detach, r.attachRemote(j, idx, t))
		idx++
	}

	go r.runSlices(j)
	r.job = j

	r.logger.Infow("recording started",
		"mime_type", format.MIMEType,
		"tracks", len(tracks),
		"slice_duration", r.opts.SliceDuration,
	)
	return nil
}

func (r *Recorder) runSlices(j *job) {
	defer close(j.done)
	ticker := time.NewTicker(r.opts.SliceDuration)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.slicer.Cut()
		}
	}
}

func (r *Recorder) write(j *job, track int, keyframe bool, frame []byte) {
	ts := r.now().Sub(j.started)
	if err := j.muxer.WriteFrame(track, keyframe, ts, frame); err != nil {
		r.logger.Warnw("failed to write recording frame", "track", track, "error", err)
	}
}

func (r *Recorder) attachLocal(j *job, idx int, t *media.LocalTrack) func() {
	mime := t.Codec().MimeType
	video := t.Kind() == media.KindVideo
	return t.AddSink(func(_ *media.LocalTrack, sample pionmedia.Sample) {
		keyframe := !video || media.IsKeyframeFrame(mime, sample.Data)
		r.write(j, idx, keyframe, sample.Data)
	})
}

// attachRemote reassembles RTP into frames. Packets are copied because the
// reader reuses its buffers.
func (r *Recorder) attachRemote(j *job, idx int, t *media.RemoteTrack) func() {
	codec := t.Codec()
	depacketizer := depacketizerFor(codec.MimeType)
	if depacketizer == nil {
		r.logger.Warnw("remote track codec not recordable", "track_id", t.ID(), "codec", codec.MimeType)
		return func() {}
	}
	builder := samplebuilder.New(maxLatePackets, depacketizer, codec.ClockRate)
	video := t.Kind() == media.KindVideo

	var mu sync.Mutex
	return t.AddSink(func(pkt *rtp.Packet) {
		raw, err := pkt.Marshal()
		if err != nil {
			return
		}
		cp := &rtp.Packet{}
		if err := cp.Unmarshal(raw); err != nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		builder.Push(cp)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			keyframe := !video || media.IsKeyframeFrame(codec.MimeType, sample.Data)
			r.write(j, idx, keyframe, sample.Data)
		}
	})
}

func depacketizerFor(mime string) rtp.Depacketizer {
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		return &codecs.OpusPacket{}
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}
	case strings.EqualFold(mime, webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}
	}
	return nil
}

// Stop detaches every source, flushes the muxer and emits the joined slices
// as one artifact.
func (r *Recorder) Stop(ctx context.Context) (*domain.RecordingArtifact, error) {
	r.mu.Lock()
	j := r.job
	r.job = nil
	r.mu.Unlock()
	if j == nil {
		return nil, domain.InvalidState(domain.ErrNotRecording)
	}

	for _, detach := range j.detach {
		detach()
	}
	close(j.stop)
	<-j.done

	if err := j.muxer.Close(); err != nil {
		r.logger.Warnw("failed to close recording muxer", "error", err)
	}
	select {
	case <-j.slicer.Closed():
	case <-time.After(flushWait):
		r.logger.Warnw("recording muxer did not flush in time")
	case <-ctx.Done():
	}
	j.slicer.Cut()

	data := j.slicer.Join()
	artifact := &domain.RecordingArtifact{
		Name:      fmt.Sprintf("call-recording-%s.%s", utils.FileSafeTimestamp(j.started), j.format.Extension),
		MIMEType:  j.format.MIMEType,
		Size:      len(data),
		Slices:    j.slicer.Len(),
		StartedAt: j.started,
		Duration:  r.now().Sub(j.started),
	}

	if r.sink != nil {
		if err := r.sink.Emit(ctx, artifact, data); err != nil {
			return nil, fmt.Errorf("failed to emit recording: %w", err)
		}
	}
	r.logger.Infow("recording stopped",
		"name", artifact.Name,
		"bytes", artifact.Size,
		"slices", artifact.Slices,
		"duration", artifact.Duration,
	)
	return artifact, nil
}
