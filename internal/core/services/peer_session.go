package services

import (
	"context"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	apperrors "peercall/pkg/errors"
)

const peerEventBuffer = 64

// link describes one pair of the mesh the local participant must establish.
type link struct {
	participant domain.Participant
	offer       bool
	invite      *domain.Invitation
	timeout     time.Duration
}

// runLinks negotiates every link in parallel and returns as soon as one
// succeeds. Links still pending keep negotiating under the call context.
func (m *CallManager) runLinks(ctx context.Context, cs *callState, links []link) error {
	results := make(chan error, len(links))
	for _, l := range links {
		go func(l link) {
			results <- m.connectPeer(cs, l)
		}(l)
	}

	var firstErr error
	for range links {
		select {
		case err := <-results:
			if err == nil {
				return nil
			}
			if firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

func (m *CallManager) connectPeer(cs *callState, l link) error {
	id := l.participant.ID
	peerCtx, cancel := context.WithCancel(cs.ctx)

	conn, err := m.peers.NewPeer(peerCtx, id)
	if err != nil {
		cancel()
		m.metrics.PeerFailed(true)
		return apperrors.NewPeerError(true, string(id), err)
	}

	ps := newPeerSession(peerCtx, cancel, l.participant, conn, l.offer, m.now())
	if !cs.roster.Add(ps) {
		cancel()
		_ = conn.Close()
		return domain.InvalidState(domain.ErrParticipantPresent)
	}
	m.wirePeer(cs, ps)

	if err := m.attachTracks(cs, ps); err != nil {
		m.failPeer(cs, ps, err)
		return err
	}
	m.publish()

	if l.offer {
		err = m.offerTo(peerCtx, cs, ps, l, 0)
	} else {
		err = m.answerFrom(peerCtx, cs, ps, l.timeout, 0)
	}
	if err != nil {
		m.logger.Warnw("peer negotiation failed", "session_id", cs.session.ID, "peer_id", id, "offer", l.offer, "error", err)
		m.failPeer(cs, ps, err)
		return err
	}

	m.logger.Infow("peer negotiated", "session_id", cs.session.ID, "peer_id", id, "offer", l.offer)
	m.markConnected(cs)
	return nil
}

// failPeer releases a peer whose negotiation failed. A 1:1 call is torn down
// by whoever started the negotiation.
func (m *CallManager) failPeer(cs *callState, ps *PeerSession, err error) {
	m.metrics.PeerFailed(true)
	if cs.roster.Group() {
		m.dropPeer(cs, ps.Participant.ID, ps.Conn, "negotiation failed", err)
		return
	}
	if removed := cs.roster.Remove(ps.Participant.ID, ps.Conn); removed != nil {
		m.closePeer(removed)
	}
}

// attachTracks adds the local audio and the current outgoing video to the connection.
func (m *CallManager) attachTracks(cs *callState, ps *PeerSession) error {
	m.mu.Lock()
	local := cs.local
	m.mu.Unlock()
	if local == nil {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}

	if local.Audio != nil {
		sender, err := ps.Conn.AddTrack(local.Audio)
		if err != nil {
			return apperrors.NewPeerError(true, string(ps.Participant.ID), err)
		}
		cs.roster.Update(ps.Participant.ID, func(ps *PeerSession) { ps.AudioSender = sender })
	}

	video := m.outgoingVideo(cs)
	if video == nil {
		return nil
	}
	sender, err := ps.Conn.AddTrack(video)
	if err != nil {
		return apperrors.NewPeerError(true, string(ps.Participant.ID), err)
	}
	cs.roster.Update(ps.Participant.ID, func(ps *PeerSession) { ps.VideoSender = sender })

	// screen share may have flipped while the sender was being added
	if want := m.outgoingVideo(cs); want != nil && want != video {
		if err := sender.ReplaceTrack(want); err != nil {
			return apperrors.NewPeerError(true, string(ps.Participant.ID), err)
		}
	}
	return nil
}

func (m *CallManager) outgoingVideo(cs *callState) *media.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs.screen != nil {
		return cs.screen
	}
	return cs.camera
}

// wirePeer routes connection callbacks through a per-peer queue so the
// transport never blocks on call handling.
func (m *CallManager) wirePeer(cs *callState, ps *PeerSession) {
	events := make(chan func(), peerEventBuffer)
	post := func(fn func()) {
		select {
		case events <- fn:
		case <-ps.ctx.Done():
		}
	}

	conn := ps.Conn
	id := ps.Participant.ID
	conn.OnStateChange(func(state domain.ConnectionState) {
		post(func() { m.handlePeerState(cs, id, ps, state) })
	})
	conn.OnData(func(data []byte) {
		post(func() { m.handleData(cs, id, data) })
	})
	conn.OnRemoteTrack(func(rt *media.RemoteTrack) {
		post(func() { m.handleRemoteTrack(cs, ps, rt) })
	})

	go func() {
		for {
			select {
			case <-ps.ctx.Done():
				return
			case fn := <-events:
				fn()
			}
		}
	}()
}

func (m *CallManager) handlePeerState(cs *callState, id domain.ParticipantID, ps *PeerSession, state domain.ConnectionState) {
	present := cs.roster.Update(id, func(entry *PeerSession) {
		if entry != ps {
			return
		}
		entry.State = state
		if state == domain.ConnectionConnected {
			entry.Quality = domain.QualityExcellent
		}
	})
	if !present {
		return
	}
	m.logger.Debugw("peer connection state changed", "session_id", cs.session.ID, "peer_id", id, "state", state)
	m.publish()

	switch state {
	case domain.ConnectionDisconnected:
		go m.recoverAfterGrace(cs, ps)
	case domain.ConnectionFailed:
		go m.recover(cs, ps)
	case domain.ConnectionClosed:
		go m.dropPeer(cs, id, ps.Conn, "peer closed", nil)
	}
}

func (m *CallManager) handleRemoteTrack(cs *callState, ps *PeerSession, rt *media.RemoteTrack) {
	added := false
	cs.roster.Update(ps.Participant.ID, func(entry *PeerSession) {
		if entry != ps {
			return
		}
		entry.Remote = append(entry.Remote, rt)
		added = true
	})
	if !added {
		rt.End()
		return
	}
	m.logger.Infow("remote track received", "session_id", cs.session.ID, "peer_id", ps.Participant.ID, "kind", rt.Kind(), "codec", rt.Codec().MimeType)
	m.publish()
}

// recoverAfterGrace gives a disconnected transport a short window to come back
// on its own before restarting ICE.
func (m *CallManager) recoverAfterGrace(cs *callState, ps *PeerSession) {
	timer := time.NewTimer(m.cfg.DisconnectGrace)
	defer timer.Stop()
	select {
	case <-ps.ctx.Done():
		return
	case <-timer.C:
	}
	if ps.Conn.ConnectionState() != domain.ConnectionDisconnected {
		return
	}
	m.recover(cs, ps)
}

// recover attempts a single ICE restart. The side that made the original
// offer offers again; the other side waits for that offer.
func (m *CallManager) recover(cs *callState, ps *PeerSession) {
	id := ps.Participant.ID
	var attempted, present bool
	cs.roster.Update(id, func(entry *PeerSession) {
		if entry != ps {
			return
		}
		present = true
		attempted = entry.RetryAttempted
		entry.RetryAttempted = true
	})
	if !present {
		return
	}
	if attempted {
		m.metrics.PeerFailed(true)
		m.dropPeer(cs, id, ps.Conn, "peer failed", apperrors.NewPeerError(true, string(id), domain.ErrConnectionClosed))
		return
	}

	m.metrics.PeerFailed(false)
	m.logger.Infow("restarting ice", "session_id", cs.session.ID, "peer_id", id, "initiator", ps.Initiator)
	m.publish()

	ctx, cancel := context.WithTimeout(ps.ctx, m.cfg.RestartTimeout)
	defer cancel()

	var err error
	if ps.Initiator {
		err = m.offerTo(ctx, cs, ps, link{participant: ps.Participant, offer: true, timeout: m.cfg.RestartTimeout}, 1)
	} else {
		err = m.answerFrom(ctx, cs, ps, m.cfg.RestartTimeout, 1)
	}
	m.metrics.IceRestart(err == nil)
	if err != nil {
		if ps.ctx.Err() != nil {
			return
		}
		m.logger.Warnw("ice restart failed", "session_id", cs.session.ID, "peer_id", id, "error", err)
		m.dropPeer(cs, id, ps.Conn, "ice restart failed", apperrors.NewPeerError(true, string(id), err))
		return
	}
	m.logger.Infow("ice restart negotiated", "session_id", cs.session.ID, "peer_id", id)
}

// dropPeer removes one participant. In a 1:1 call, or when the last group
// member leaves a connected call, the whole session ends.
func (m *CallManager) dropPeer(cs *callState, id domain.ParticipantID, conn ports.PeerConnection, reason string, cause error) {
	if !cs.roster.Group() {
		m.teardown(cs, reason, cause, false)
		return
	}

	ps := cs.roster.Remove(id, conn)
	if ps == nil {
		return
	}
	m.closePeer(ps)
	m.logger.Infow("participant left", "session_id", cs.session.ID, "peer_id", id, "reason", reason)
	m.publish()

	if cs.roster.Len() == 0 && m.machine.Phase() == domain.PhaseConnected {
		m.teardown(cs, "all participants left", cause, false)
	}
}
