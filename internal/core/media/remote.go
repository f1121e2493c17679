package media

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"
)

// PacketSink receives inbound RTP packets. Packets must not be retained
// past the call.
type PacketSink func(pkt *rtp.Packet)

// RemoteTrack is an inbound track received from one participant.
type RemoteTrack struct {
	id          string
	participant string
	kind        Kind
	codec       webrtc.RTPCodecParameters
	meter       *LevelMeter

	packets *atomic.Uint64
	ended   *atomic.Bool

	mu       sync.RWMutex
	sinks    map[int]PacketSink
	nextSink int
	done     chan struct{}
}

func NewRemoteTrack(participant, id string, kind Kind, codec webrtc.RTPCodecParameters) *RemoteTrack {
	return &RemoteTrack{
		id:          id,
		participant: participant,
		kind:        kind,
		codec:       codec,
		meter:       NewLevelMeter(),
		packets:     atomic.NewUint64(0),
		ended:       atomic.NewBool(false),
		sinks:       make(map[int]PacketSink),
		done:        make(chan struct{}),
	}
}

func (r *RemoteTrack) ID() string                       { return r.id }
func (r *RemoteTrack) Participant() string              { return r.participant }
func (r *RemoteTrack) Kind() Kind                       { return r.kind }
func (r *RemoteTrack) Codec() webrtc.RTPCodecParameters { return r.codec }
func (r *RemoteTrack) Meter() *LevelMeter               { return r.meter }
func (r *RemoteTrack) Packets() uint64                  { return r.packets.Load() }
func (r *RemoteTrack) Ended() bool                      { return r.ended.Load() }
func (r *RemoteTrack) Done() <-chan struct{}            { return r.done }

// Deliver fans a packet out to the attached sinks.
func (r *RemoteTrack) Deliver(pkt *rtp.Packet) {
	if r.ended.Load() {
		return
	}
	r.packets.Inc()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sink := range r.sinks {
		sink(pkt)
	}
}

func (r *RemoteTrack) AddSink(sink PacketSink) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSink
	r.nextSink++
	r.sinks[id] = sink
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.sinks, id)
	}
}

func (r *RemoteTrack) End() {
	if r.ended.CompareAndSwap(false, true) {
		close(r.done)
	}
}
