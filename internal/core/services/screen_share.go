package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	apperrors "peercall/pkg/errors"
)

// ToggleScreenShare swaps every outgoing video sender between the camera and
// a display capture. It reports whether sharing is now active.
func (m *CallManager) ToggleScreenShare(ctx context.Context) (bool, error) {
	m.mu.Lock()
	cs := m.current
	if cs == nil || cs.local == nil {
		m.mu.Unlock()
		return false, domain.InvalidState(domain.ErrNoActiveCall)
	}
	if cs.camera == nil {
		m.mu.Unlock()
		return false, domain.InvalidState(domain.ErrNoVideoSender)
	}
	sharing := cs.screen != nil
	m.mu.Unlock()

	if sharing {
		m.stopScreenShare(ctx, cs, nil)
		return false, nil
	}
	if err := m.startScreenShare(ctx, cs); err != nil {
		return false, err
	}
	return true, nil
}

func (m *CallManager) startScreenShare(ctx context.Context, cs *callState) error {
	cs.shareMu.Lock()
	defer cs.shareMu.Unlock()

	display, err := m.capture.AcquireDisplay(ctx)
	if err != nil {
		m.logger.Warnw("display capture failed", "session_id", cs.session.ID, "error", err)
		return err
	}

	m.mu.Lock()
	if m.current != cs || cs.ctx.Err() != nil {
		m.mu.Unlock()
		display.Stop()
		return domain.InvalidState(domain.ErrNoActiveCall)
	}
	if cs.screen != nil {
		m.mu.Unlock()
		display.Stop()
		return nil
	}
	camera := cs.camera
	cs.screen = display
	m.mu.Unlock()

	display.Start()
	if err := m.replaceVideo(cs, display); err != nil {
		m.logger.Warnw("screen share substitution failed, reverting", "session_id", cs.session.ID, "error", err)
		m.mu.Lock()
		cs.screen = nil
		m.mu.Unlock()
		if rerr := m.replaceVideo(cs, camera); rerr != nil {
			m.logger.Errorw("failed to restore camera track", "session_id", cs.session.ID, "error", rerr)
		}
		display.Stop()
		return err
	}

	display.OnEnded(func() {
		go m.stopScreenShare(context.Background(), cs, display)
	})
	m.metrics.ScreenShareToggled(true)
	m.logger.Infow("screen share started", "session_id", cs.session.ID, "track_id", display.ID())
	m.broadcast(ctx, cs, domain.NewMediaControlEnvelope(m.self.ID, domain.ActionScreenShareStart, true, m.now()))
	m.publish()
	return nil
}

// stopScreenShare reverts to the camera. With expected set it only acts when
// that display track is still the one being shared.
func (m *CallManager) stopScreenShare(ctx context.Context, cs *callState, expected *media.LocalTrack) {
	cs.shareMu.Lock()
	defer cs.shareMu.Unlock()

	m.mu.Lock()
	screen, camera := cs.screen, cs.camera
	if screen == nil || (expected != nil && screen != expected) || cs.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	cs.screen = nil
	m.mu.Unlock()

	if err := m.replaceVideo(cs, camera); err != nil {
		m.logger.Warnw("failed to restore camera on some peers", "session_id", cs.session.ID, "error", err)
	}
	screen.Stop()

	m.metrics.ScreenShareToggled(false)
	m.logger.Infow("screen share stopped", "session_id", cs.session.ID, "native_end", expected != nil)
	m.broadcast(ctx, cs, domain.NewMediaControlEnvelope(m.self.ID, domain.ActionScreenShareStop, false, m.now()))
	m.publish()
}

// replaceVideo swaps the track of every video sender in place. Peers are
// updated concurrently and a failure on one does not stop the others.
func (m *CallManager) replaceVideo(cs *callState, track *media.LocalTrack) error {
	var g errgroup.Group
	for id, sender := range cs.roster.VideoSenders() {
		id, sender := id, sender
		g.Go(func() error {
			if err := sender.ReplaceTrack(track); err != nil {
				return apperrors.NewPeerError(false, string(id), err)
			}
			return nil
		})
	}
	return g.Wait()
}
