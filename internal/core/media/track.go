package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/atomic"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func KindFromCodecType(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeVideo {
		return KindVideo
	}
	return KindAudio
}

type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

// SampleSource produces encoded media frames. ReadSample returns io.EOF when
// the underlying device stops on its own.
type SampleSource interface {
	ReadSample(ctx context.Context) (pionmedia.Sample, error)
	Close() error
}

// SampleSink receives every sample written to the wire.
type SampleSink func(track *LocalTrack, sample pionmedia.Sample)

// LocalTrack owns one captured track. A single LocalTrack is shared by every
// peer connection it is bound to, so disabling or stopping it affects all senders.
type LocalTrack struct {
	id     string
	kind   Kind
	source Source
	codec  webrtc.RTPCodecCapability
	rtp    *webrtc.TrackLocalStaticSample
	src    SampleSource

	enabled *atomic.Bool
	ended   *atomic.Bool
	started *atomic.Bool

	mu       sync.Mutex
	onEnded  []func()
	onChange []func(*LocalTrack)
	sinks    map[int]SampleSink
	nextSink int

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func NewLocalTrack(kind Kind, source Source, codec webrtc.RTPCodecCapability, src SampleSource) (*LocalTrack, error) {
	id := string(source) + "-" + uuid.NewString()
	rtpTrack, err := webrtc.NewTrackLocalStaticSample(codec, id, "peercall")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalTrack{
		id:      id,
		kind:    kind,
		source:  source,
		codec:   codec,
		rtp:     rtpTrack,
		src:     src,
		enabled: atomic.NewBool(true),
		ended:   atomic.NewBool(false),
		started: atomic.NewBool(false),
		sinks:   make(map[int]SampleSink),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

func (t *LocalTrack) ID() string                       { return t.id }
func (t *LocalTrack) Kind() Kind                       { return t.kind }
func (t *LocalTrack) Source() Source                   { return t.source }
func (t *LocalTrack) Codec() webrtc.RTPCodecCapability { return t.codec }
func (t *LocalTrack) Enabled() bool                    { return t.enabled.Load() }
func (t *LocalTrack) Ended() bool                      { return t.ended.Load() }

// TrackLocal is the pion track bound to peer connection senders.
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal {
	return t.rtp
}

// Done is closed once the track has ended and its pump has exited.
func (t *LocalTrack) Done() <-chan struct{} {
	return t.done
}

// Start begins pumping samples from the source. Calling it twice is a no-op.
func (t *LocalTrack) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.pump()
}

func (t *LocalTrack) closeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *LocalTrack) pump() {
	defer t.closeDone()
	for {
		if t.ctx.Err() != nil {
			return
		}
		sample, err := t.src.ReadSample(t.ctx)
		if err != nil {
			// device went away
			if t.ctx.Err() == nil {
				t.finish()
			}
			return
		}
		if !t.enabled.Load() {
			continue
		}
		// a track with no bound senders simply drops the sample
		_ = t.rtp.WriteSample(sample)

		t.mu.Lock()
		sinks := make([]SampleSink, 0, len(t.sinks))
		for _, s := range t.sinks {
			sinks = append(sinks, s)
		}
		t.mu.Unlock()
		for _, s := range sinks {
			s(t, sample)
		}
	}
}

// SetEnabled mutes or unmutes the track and reports whether the flag changed.
// An ended track stays disabled.
func (t *LocalTrack) SetEnabled(enabled bool) bool {
	if t.ended.Load() {
		return false
	}
	if !t.enabled.CompareAndSwap(!enabled, enabled) {
		return false
	}
	t.notifyChange()
	return true
}

// OnEnded registers fn to run once when the track ends, by Stop or by the device.
func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	if !t.ended.Load() {
		t.onEnded = append(t.onEnded, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

func (t *LocalTrack) OnChange(fn func(*LocalTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// AddSink attaches a sample consumer and returns its detach function.
func (t *LocalTrack) AddSink(sink SampleSink) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSink
	t.nextSink++
	t.sinks[id] = sink
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.sinks, id)
	}
}

// Stop ends the track. Safe to call any number of times.
func (t *LocalTrack) Stop() {
	t.finish()
}

func (t *LocalTrack) finish() {
	if !t.ended.CompareAndSwap(false, true) {
		return
	}
	t.enabled.Store(false)
	t.cancel()
	_ = t.src.Close()
	if !t.started.Load() {
		t.closeDone()
	}

	t.mu.Lock()
	ended := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	t.notifyChange()
	for _, fn := range ended {
		fn()
	}
}

func (t *LocalTrack) notifyChange() {
	t.mu.Lock()
	handlers := append([]func(*LocalTrack){}, t.onChange...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(t)
	}
}
