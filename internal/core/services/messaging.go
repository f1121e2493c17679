package services

import (
	"context"
	"net/http"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"peercall/internal/core/domain"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/utils"
	"peercall/pkg/validation"
)

// SendMessage delivers a chat envelope to every peer. Partial delivery
// counts as success.
func (m *CallManager) SendMessage(ctx context.Context, text string) error {
	if err := validation.ValidateChatText(text); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	cs := m.active()
	if cs == nil || m.machine.Phase() != domain.PhaseConnected {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}

	now := m.now()
	content := utils.SanitizeString(text)
	delivered, err := m.broadcast(ctx, cs, domain.NewChatEnvelope(m.self.ID, content, now))
	if err != nil {
		return err
	}
	if delivered == 0 {
		return apperrors.NewAppError(apperrors.ErrCodeNoConnectedPeers, "message was not delivered to any participant", http.StatusConflict)
	}

	m.appendChat(cs, domain.ChatMessage{From: m.self.ID, Content: content, Timestamp: now, Local: true})
	return nil
}

// broadcast sends env to every roster entry independently and returns how
// many peers accepted it.
func (m *CallManager) broadcast(ctx context.Context, cs *callState, env domain.Envelope) (int, error) {
	data, err := env.Encode()
	if err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to encode envelope", http.StatusInternalServerError)
	}

	delivered := atomic.NewInt64(0)
	failed := atomic.NewInt64(0)
	var g errgroup.Group
	for _, ps := range cs.roster.Sessions() {
		ps := ps
		g.Go(func() error {
			if ctx.Err() != nil {
				failed.Inc()
				return nil
			}
			if err := ps.Conn.SendData(data); err != nil {
				failed.Inc()
				m.logger.Debugw("failed to send envelope", "peer_id", ps.Participant.ID, "type", env.Type, "error", err)
				return nil
			}
			delivered.Inc()
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.MessageBroadcast(int(delivered.Load()), int(failed.Load()))
	return int(delivered.Load()), nil
}

func (m *CallManager) appendChat(cs *callState, msg domain.ChatMessage) {
	m.mu.Lock()
	if m.current != cs {
		m.mu.Unlock()
		return
	}
	cs.chat = append(cs.chat, msg)
	m.mu.Unlock()
	m.publish()
}

// handleData applies one inbound envelope from peer id.
func (m *CallManager) handleData(cs *callState, id domain.ParticipantID, data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		m.logger.Warnw("dropping malformed envelope", "peer_id", id, "error", err)
		return
	}

	switch env.Type {
	case domain.EnvelopeChat:
		m.appendChat(cs, domain.ChatMessage{From: id, Content: env.Content, Timestamp: env.Time()})

	case domain.EnvelopeMediaControl:
		cs.roster.Update(id, func(ps *PeerSession) {
			switch env.Action {
			case domain.ActionVideoToggle:
				ps.VideoEnabled = *env.Enabled
			case domain.ActionAudioToggle:
				ps.AudioEnabled = *env.Enabled
				if !ps.AudioEnabled {
					ps.Speaking = false
				}
			case domain.ActionScreenShareStart:
				ps.ScreenSharing = true
			case domain.ActionScreenShareStop:
				ps.ScreenSharing = false
			}
		})
		m.publish()

	case domain.EnvelopeCallEnd:
		m.logger.Infow("peer ended the call", "session_id", cs.session.ID, "peer_id", id)
		go m.dropPeer(cs, id, nil, "remote hangup", nil)

	case domain.EnvelopeParticipantJoined:
		joined := *env.Participant
		if !cs.roster.Group() || joined.ID == m.self.ID || cs.roster.Has(joined.ID) {
			return
		}
		m.logger.Infow("participant joined", "session_id", cs.session.ID, "peer_id", joined.ID, "added_by", id)
		l := link{
			participant: joined,
			offer:       domain.ShouldOffer(m.self.ID, joined.ID, id),
			timeout:     m.cfg.AnswerTimeout,
		}
		go func() {
			if err := m.connectPeer(cs, l); err != nil {
				m.logger.Warnw("failed to connect to joined participant", "peer_id", joined.ID, "error", err)
			}
		}()
	}
}

// AddParticipant invites p into the running group call and returns once the
// new link is negotiated.
func (m *CallManager) AddParticipant(ctx context.Context, p domain.Participant) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cs := m.active()
	if cs == nil || !m.machine.Phase().Active() || m.machine.Phase() == domain.PhaseEnding {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}
	if !cs.roster.Group() {
		return domain.InvalidState(domain.ErrNotGroupCall)
	}
	if p.ID == m.self.ID || cs.roster.Has(p.ID) {
		return domain.InvalidState(domain.ErrParticipantPresent)
	}

	members := append([]domain.Participant{m.self}, cs.roster.Participants()...)
	members = append(members, p)
	invite := &domain.Invitation{
		SessionID:    cs.session.ID,
		Mode:         cs.session.Mode,
		Group:        true,
		Participants: members,
		SentAt:       m.now(),
	}

	m.mu.Lock()
	cs.session.Targets = append(cs.session.Targets, p)
	m.mu.Unlock()

	if _, err := m.broadcast(ctx, cs, domain.NewParticipantJoinedEnvelope(m.self.ID, p, m.now())); err != nil {
		return err
	}
	m.logger.Infow("adding participant", "session_id", cs.session.ID, "peer_id", p.ID)
	return m.runLinks(ctx, cs, []link{{participant: p, offer: true, invite: invite, timeout: m.cfg.AnswerTimeout}})
}

// RemoveParticipant hangs up on one member of a group call. The other members
// keep their own links.
func (m *CallManager) RemoveParticipant(ctx context.Context, id domain.ParticipantID) error {
	cs := m.active()
	if cs == nil {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}
	if !cs.roster.Group() {
		return domain.InvalidState(domain.ErrNotGroupCall)
	}
	var target *PeerSession
	for _, ps := range cs.roster.Sessions() {
		if ps.Participant.ID == id {
			target = ps
		}
	}
	if target == nil {
		return apperrors.WrapError(domain.ErrPeerNotFound, apperrors.ErrCodeNotFound, "participant not in call", http.StatusNotFound)
	}

	data, err := domain.NewCallEndEnvelope(m.self.ID, m.now()).Encode()
	if err == nil {
		if err := target.Conn.SendData(data); err != nil {
			m.logger.Debugw("failed to notify removed participant", "peer_id", id, "error", err)
		}
	}
	m.dropPeer(cs, id, target.Conn, "removed", nil)
	return nil
}
