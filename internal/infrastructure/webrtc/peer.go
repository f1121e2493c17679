package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	"peercall/pkg/optimize"
)

// Peer adapts a pion PeerConnection to ports.PeerConnection.
type Peer struct {
	participant domain.ParticipantID
	pc          *webrtc.PeerConnection
	dc          *webrtc.DataChannel
	pool        *optimize.BytePool
	logger      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	onRemoteTrack func(*media.RemoteTrack)
	onData        func([]byte)
	onStateChange func(domain.ConnectionState)
	remotes       []*media.RemoteTrack
	loss          *lossCounter

	closeOnce sync.Once
}

var _ ports.PeerConnection = (*Peer)(nil)

func newPeer(ctx context.Context, participant domain.ParticipantID, pc *webrtc.PeerConnection, dc *webrtc.DataChannel, pool *optimize.BytePool, logger *zap.SugaredLogger) *Peer {
	ctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		participant: participant,
		pc:          pc,
		dc:          dc,
		pool:        pool,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		loss:        newLossCounter(),
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.RLock()
		fn := p.onData
		p.mu.RUnlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
	pc.OnConnectionStateChange(p.handleConnectionState)
	pc.OnTrack(p.handleTrack)

	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()
	return p
}

func (p *Peer) ParticipantID() domain.ParticipantID {
	return p.participant
}

func (p *Peer) AddTrack(track *media.LocalTrack) (ports.Sender, error) {
	rtpSender, err := p.pc.AddTrack(track.TrackLocal())
	if err != nil {
		return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	s := &sender{rtp: rtpSender, track: track}
	go p.drainRTCP(rtpSender)
	return s, nil
}

// drainRTCP keeps the sender's interceptors fed. Keyframe requests from the
// remote side are logged only: local sources emit self-contained frames.
func (p *Peer) drainRTCP(s *webrtc.RTPSender) {
	for {
		packets, _, err := s.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				p.logger.Debugw("received PLI")
			}
		}
	}
}

func (p *Peer) CreateOffer(ctx context.Context, iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

func (p *Peer) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

// setLocal applies desc and waits for candidate gathering so the returned
// description carries every local candidate.
func (p *Peer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	case <-p.ctx.Done():
		return webrtc.SessionDescription{}, domain.ErrConnectionClosed
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("local description missing after gathering")
	}
	return *local, nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func (p *Peer) SendData(data []byte) error {
	if state := p.dc.ReadyState(); state != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel %s: %w", state, domain.ErrConnectionClosed)
	}
	return p.dc.Send(data)
}

func (p *Peer) ConnectionState() domain.ConnectionState {
	return mapConnectionState(p.pc.ConnectionState())
}

func (p *Peer) OnRemoteTrack(fn func(*media.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemoteTrack = fn
}

func (p *Peer) OnData(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = fn
}

func (p *Peer) OnStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStateChange = fn
}

func (p *Peer) handleConnectionState(state webrtc.PeerConnectionState) {
	p.logger.Debugw("peer connection state changed", "connection_state", state)
	p.mu.RLock()
	fn := p.onStateChange
	p.mu.RUnlock()
	if fn != nil {
		fn(mapConnectionState(state))
	}
}

// Close tears down the pion connection and ends every remote track.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.pc.Close()

		p.mu.Lock()
		remotes := p.remotes
		p.remotes = nil
		p.mu.Unlock()
		for _, rt := range remotes {
			rt.End()
		}
	})
	return err
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}

type sender struct {
	mu    sync.Mutex
	rtp   *webrtc.RTPSender
	track *media.LocalTrack
}

func (s *sender) ReplaceTrack(track *media.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rtp.ReplaceTrack(track.TrackLocal()); err != nil {
		return fmt.Errorf("failed to replace track: %w", err)
	}
	s.track = track
	return nil
}

func (s *sender) Track() *media.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}
