package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/signaling/memory"
)

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}

	errReplaceFailed = errors.New("replace failed")
)

// fakeNet links fake peers so data sent by one side reaches its counterpart.
type fakeNet struct {
	mu    sync.Mutex
	peers map[[2]domain.ParticipantID]*fakePeer
}

func newFakeNet() *fakeNet {
	return &fakeNet{peers: make(map[[2]domain.ParticipantID]*fakePeer)}
}

func (n *fakeNet) register(p *fakePeer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[[2]domain.ParticipantID{p.owner, p.remote}] = p
}

func (n *fakeNet) counterpart(p *fakePeer) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[[2]domain.ParticipantID{p.remote, p.owner}]
}

type fakeFactory struct {
	owner domain.ParticipantID
	net   *fakeNet

	mu      sync.Mutex
	created []*fakePeer
	failNew error
}

func (f *fakeFactory) NewPeer(_ context.Context, participant domain.ParticipantID) (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew != nil {
		return nil, f.failNew
	}
	p := &fakePeer{
		owner:  f.owner,
		remote: participant,
		net:    f.net,
		state:  domain.ConnectionNew,
		stats:  domain.ConnectionStats{PacketsReceived: 1000, RTT: 20 * time.Millisecond},
	}
	f.net.register(p)
	f.created = append(f.created, p)
	return p, nil
}

// peer returns the latest connection created towards id.
func (f *fakeFactory) peer(id domain.ParticipantID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].remote == id {
			return f.created[i]
		}
	}
	return nil
}

type fakePeer struct {
	owner  domain.ParticipantID
	remote domain.ParticipantID
	net    *fakeNet

	mu          sync.Mutex
	state       domain.ConnectionState
	senders     []*fakeSender
	onTrack     func(*media.RemoteTrack)
	onData      func([]byte)
	onState     func(domain.ConnectionState)
	sent        [][]byte
	offers      int
	restarts    int
	closed      bool
	stats       domain.ConnectionStats
	statsErr    error
	sendErr     error
	replaceErr  error
	answersSeen int
}

var _ ports.PeerConnection = (*fakePeer)(nil)

func (p *fakePeer) ParticipantID() domain.ParticipantID { return p.remote }

func (p *fakePeer) AddTrack(track *media.LocalTrack) (ports.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{peer: p, track: track}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) CreateOffer(_ context.Context, iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.offers++
	if iceRestart {
		p.restarts++
	}
	p.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s->%s", p.owner, p.remote)}, nil
}

func (p *fakePeer) AcceptOffer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.setState(domain.ConnectionConnected)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s->%s", p.owner, p.remote)}, nil
}

func (p *fakePeer) ApplyAnswer(webrtc.SessionDescription) error {
	p.mu.Lock()
	p.answersSeen++
	p.mu.Unlock()
	p.setState(domain.ConnectionConnected)
	return nil
}

func (p *fakePeer) SendData(data []byte) error {
	p.mu.Lock()
	if p.closed || p.state != domain.ConnectionConnected {
		p.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if p.sendErr != nil {
		err := p.sendErr
		p.mu.Unlock()
		return err
	}
	p.sent = append(p.sent, append([]byte(nil), data...))
	p.mu.Unlock()

	if cp := p.net.counterpart(p); cp != nil {
		cp.deliver(data)
	}
	return nil
}

func (p *fakePeer) deliver(data []byte) {
	p.mu.Lock()
	fn, closed := p.onData, p.closed
	p.mu.Unlock()
	if fn != nil && !closed {
		fn(append([]byte(nil), data...))
	}
}

func (p *fakePeer) Stats(context.Context) (domain.ConnectionStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, p.statsErr
}

func (p *fakePeer) ConnectionState() domain.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) OnRemoteTrack(fn func(*media.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) OnData(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = fn
}

func (p *fakePeer) OnStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = domain.ConnectionClosed
	return nil
}

func (p *fakePeer) setState(state domain.ConnectionState) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.state = state
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (p *fakePeer) emitTrack(rt *media.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(rt)
	}
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) restartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

func (p *fakePeer) setReplaceErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaceErr = err
}

func (p *fakePeer) setSendErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

func (p *fakePeer) setStats(stats domain.ConnectionStats, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats, p.statsErr = stats, err
}

// videoTrack returns the track currently fed to the video sender.
func (p *fakePeer) videoTrack() *media.LocalTrack {
	p.mu.Lock()
	senders := append([]*fakeSender(nil), p.senders...)
	p.mu.Unlock()
	for _, s := range senders {
		if t := s.Track(); t != nil && t.Kind() == media.KindVideo {
			return t
		}
	}
	return nil
}

type fakeSender struct {
	peer *fakePeer

	mu    sync.Mutex
	track *media.LocalTrack
}

func (s *fakeSender) ReplaceTrack(track *media.LocalTrack) error {
	s.peer.mu.Lock()
	err := s.peer.replaceErr
	s.peer.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

func (s *fakeSender) Track() *media.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func webrtcOpusParams() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: opusCodec, PayloadType: 111}
}

func newTestTrack(kind media.Kind, source media.Source) (*media.LocalTrack, *media.FrameSource) {
	codec := opusCodec
	frame := []byte{0xf8, 0xff, 0xfe}
	if kind == media.KindVideo {
		codec = vp8Codec
		frame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01}
	}
	src := media.NewFrameSource(frame, 20*time.Millisecond)
	track, err := media.NewLocalTrack(kind, source, codec, src)
	if err != nil {
		panic(err)
	}
	return track, src
}

type fakeCapture struct {
	mu         sync.Mutex
	acquireErr error
	displayErr error
	streams    []*media.Stream
	displays   []*media.FrameSource
}

func (c *fakeCapture) Acquire(_ context.Context, video, audio bool) (*media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquireErr != nil {
		return nil, c.acquireErr
	}
	stream := &media.Stream{}
	if audio {
		stream.Audio, _ = newTestTrack(media.KindAudio, media.SourceMicrophone)
	}
	if video {
		stream.Video, _ = newTestTrack(media.KindVideo, media.SourceCamera)
	}
	c.streams = append(c.streams, stream)
	return stream, nil
}

func (c *fakeCapture) AcquireDisplay(context.Context) (*media.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayErr != nil {
		return nil, c.displayErr
	}
	track, src := newTestTrack(media.KindVideo, media.SourceScreen)
	c.displays = append(c.displays, src)
	return track, nil
}

func (c *fakeCapture) setDisplayErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayErr = err
}

func (c *fakeCapture) lastDisplay() *media.FrameSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.displays) == 0 {
		return nil
	}
	return c.displays[len(c.displays)-1]
}

func (c *fakeCapture) allStreams() []*media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*media.Stream(nil), c.streams...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	running  bool
	startErr error
	sources  ports.RecordingSources
	stops    int
}

var _ ports.Recorder = (*fakeRecorder)(nil)

func (r *fakeRecorder) Start(_ context.Context, sources ports.RecordingSources) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if r.running {
		return domain.InvalidState(domain.ErrAlreadyRecording)
	}
	r.running = true
	r.sources = sources
	return nil
}

func (r *fakeRecorder) Stop(context.Context) (*domain.RecordingArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, domain.InvalidState(domain.ErrNotRecording)
	}
	r.running = false
	r.stops++
	return &domain.RecordingArtifact{
		Name:     "call-recording-test.webm",
		MIMEType: "video/webm;codecs=vp8,opus",
		Size:     42,
		Duration: time.Second,
	}, nil
}

func (r *fakeRecorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRecorder) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

type countingMetrics struct {
	noopMetrics

	mu       sync.Mutex
	ended    []string
	left     []domain.ParticipantID
	restarts []bool
}

func (m *countingMetrics) CallEnded(reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, reason)
}

func (m *countingMetrics) PeerLeft(id domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, id)
}

func (m *countingMetrics) IceRestart(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, success)
}

func (m *countingMetrics) endedReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ended...)
}

func (m *countingMetrics) iceRestarts() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.restarts...)
}

func testCallConfig() CallManagerConfig {
	return CallManagerConfig{
		AnswerTimeout:     2 * time.Second,
		OfferTimeout:      2 * time.Second,
		PollInterval:      10 * time.Millisecond,
		RetryMaxDelay:     50 * time.Millisecond,
		RestartTimeout:    time.Second,
		DisconnectGrace:   50 * time.Millisecond,
		InviteWait:        50 * time.Millisecond,
		QualityInterval:   50 * time.Millisecond,
		Thresholds:        domain.DefaultQualityThresholds(),
		SpeakingInterval:  50 * time.Millisecond,
		SpeakingThreshold: 30,
	}
}

// testEnv is a shared signaling store and peer network for several parties.
type testEnv struct {
	store *memory.MemorySignalStore
	net   *fakeNet
}

func newTestEnv(t *testing.T) *testEnv {
	store := memory.NewMemorySignalStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return &testEnv{store: store, net: newFakeNet()}
}

type testParty struct {
	self     domain.Participant
	calls    *CallManager
	peers    *fakeFactory
	capture  *fakeCapture
	recorder *fakeRecorder
	metrics  *countingMetrics
}

func (e *testEnv) party(t *testing.T, id string, tweak ...func(*CallManagerConfig)) *testParty {
	cfg := testCallConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}
	p := &testParty{
		self:     domain.Participant{ID: domain.ParticipantID(id), DisplayName: id},
		peers:    &fakeFactory{owner: domain.ParticipantID(id), net: e.net},
		capture:  &fakeCapture{},
		recorder: &fakeRecorder{},
		metrics:  &countingMetrics{},
	}
	calls, err := NewCallManager(cfg, CallManagerDeps{
		Self:      p.self,
		Signaling: e.store,
		Peers:     p.peers,
		Capture:   p.capture,
		Recorder:  p.recorder,
		Metrics:   p.metrics,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	p.calls = calls

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = calls.Listen(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = calls.End(context.Background())
	})
	return p
}

// onRinging runs fn once for every incoming call that starts ringing.
func (p *testParty) onRinging(t *testing.T, fn func(ctx context.Context) error) {
	snaps, cancel := p.calls.Subscribe()
	t.Cleanup(cancel)
	go func() {
		var last domain.SessionID
		for snap := range snaps {
			if snap.Phase != domain.PhaseRinging || snap.Session == nil ||
				snap.Session.Direction != domain.DirectionIncoming || snap.Session.ID == last {
				continue
			}
			last = snap.Session.ID
			go func() { _ = fn(context.Background()) }()
		}
	}()
}

func (p *testParty) autoAccept(t *testing.T) {
	p.onRinging(t, p.calls.Accept)
}

func (p *testParty) waitPhase(t *testing.T, phase domain.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.calls.Phase() == phase
	}, 5*time.Second, 10*time.Millisecond, "%s never reached %s", p.self.ID, phase)
}

// waitPeers waits until n roster entries report a connected transport.
func (p *testParty) waitPeers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.calls.Snapshot().ConnectedPeers() == n
	}, 5*time.Second, 10*time.Millisecond, "%s never had %d connected peers", p.self.ID, n)
}

func (p *testParty) waitSnapshot(t *testing.T, cond func(domain.Snapshot) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(p.calls.Snapshot())
	}, 5*time.Second, 10*time.Millisecond, msg)
}

// connect runs a 1:1 call from caller to callee and waits until both sides are up.
func connect(t *testing.T, caller, callee *testParty, mode domain.CallMode) {
	t.Helper()
	callee.autoAccept(t)
	require.NoError(t, caller.calls.Initiate(context.Background(), callee.self, mode))
	caller.waitPhase(t, domain.PhaseConnected)
	callee.waitPhase(t, domain.PhaseConnected)
	caller.waitPeers(t, 1)
	callee.waitPeers(t, 1)
}
