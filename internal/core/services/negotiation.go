package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/domain"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/retry"
	"peercall/pkg/tracing"
)

// offerTo publishes a local offer (and the invitation on the first round) and
// applies the answer once it arrives.
func (m *CallManager) offerTo(ctx context.Context, cs *callState, ps *PeerSession, l link, attempt int) (err error) {
	session := cs.session.ID
	id := ps.Participant.ID
	ctx, span := tracing.TraceNegotiation(ctx, string(domain.RoleOffer), string(session), string(id), attempt)
	defer func() { tracing.EndSpan(span, err) }()

	offer, err := ps.Conn.CreateOffer(ctx, attempt > 0)
	if err != nil {
		return apperrors.NewPeerError(true, string(id), err)
	}
	payload := domain.SignalPayload{SDP: offer.SDP, Type: offer.Type.String(), From: m.self}
	if err := m.publishSignal(ctx, cs, domain.OfferKey(session, id, m.self.ID, attempt), payload, true); err != nil {
		return err
	}

	if l.invite != nil {
		invitation := domain.SignalPayload{From: m.self, Invitation: l.invite}
		if err := m.publishSignal(ctx, cs, domain.InviteKey(id), invitation, true); err != nil {
			return err
		}
		if m.machine.TransitionFrom(domain.PhaseRinging, domain.PhaseCalling) {
			m.publish()
		}
	}

	answer, err := m.awaitSignal(ctx, domain.AnswerKey(session, m.self.ID, id, attempt), l.timeout)
	if err != nil {
		return err
	}
	if answer.Declined {
		return apperrors.NewPeerError(true, string(id), fmt.Errorf("%w: %s", domain.ErrCallDeclined, answer.Reason))
	}
	if err := ps.Conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return apperrors.NewPeerError(true, string(id), err)
	}
	return nil
}

// answerFrom waits for the remote offer and publishes the local answer.
func (m *CallManager) answerFrom(ctx context.Context, cs *callState, ps *PeerSession, timeout time.Duration, attempt int) (err error) {
	session := cs.session.ID
	id := ps.Participant.ID
	ctx, span := tracing.TraceNegotiation(ctx, string(domain.RoleAnswer), string(session), string(id), attempt)
	defer func() { tracing.EndSpan(span, err) }()

	offer, err := m.awaitSignal(ctx, domain.OfferKey(session, m.self.ID, id, attempt), timeout)
	if err != nil {
		return err
	}
	if offer.SDP == "" {
		return apperrors.NewPeerError(true, string(id), fmt.Errorf("empty offer"))
	}

	answer, err := ps.Conn.AcceptOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP})
	if err != nil {
		return apperrors.NewPeerError(true, string(id), err)
	}
	payload := domain.SignalPayload{SDP: answer.SDP, Type: answer.Type.String(), From: m.self}
	return m.publishSignal(ctx, cs, domain.AnswerKey(session, id, m.self.ID, attempt), payload, false)
}

// publishSignal writes a signal. Tracked keys are deleted on teardown.
func (m *CallManager) publishSignal(ctx context.Context, cs *callState, key domain.SignalKey, payload domain.SignalPayload, track bool) error {
	if err := m.signaling.Publish(ctx, key, payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "failed to publish signal", http.StatusServiceUnavailable).
			WithContext("key", key.String())
	}
	if track {
		m.mu.Lock()
		cs.published = append(cs.published, key)
		m.mu.Unlock()
	}
	return nil
}

// awaitSignal polls for key with exponential backoff until timeout. The
// signal is consumed once read.
func (m *CallManager) awaitSignal(ctx context.Context, key domain.SignalKey, timeout time.Duration) (domain.SignalPayload, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll := m.cfg.PollInterval
	cfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  int(timeout/poll) + 1,
		InitialDelay: poll,
		MaxDelay:     m.cfg.RetryMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry: func(error) bool {
			return waitCtx.Err() == nil
		},
	}
	payload, err := retry.RetryWithResult(waitCtx, cfg, func() (domain.SignalPayload, error) {
		return m.signaling.Subscribe(waitCtx, key, poll)
	})

	switch {
	case err == nil:
		m.metrics.SignalingWait(key.Role, "ok", time.Since(start))
		if derr := m.signaling.Delete(ctx, key); derr != nil {
			m.logger.Debugw("failed to consume signal", "key", key.String(), "error", derr)
		}
		return payload, nil
	case ctx.Err() != nil:
		m.metrics.SignalingWait(key.Role, "cancelled", time.Since(start))
		return domain.SignalPayload{}, ctx.Err()
	case waitCtx.Err() != nil, errors.Is(err, domain.ErrSignalNotFound):
		m.metrics.SignalingWait(key.Role, "timeout", time.Since(start))
		m.logger.Warnw("signaling wait timed out", "key", key.String(), "timeout", timeout)
		return domain.SignalPayload{}, apperrors.NewSignalingTimeoutError(string(key.From))
	default:
		m.metrics.SignalingWait(key.Role, "error", time.Since(start))
		return domain.SignalPayload{}, apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "signaling unavailable", http.StatusServiceUnavailable)
	}
}
