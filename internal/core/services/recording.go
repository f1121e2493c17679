package services

import (
	"context"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	apperrors "peercall/pkg/errors"
)

// StartRecording captures the local tracks and every remote track known now.
// Peers that join later are not added to a running recording.
func (m *CallManager) StartRecording(ctx context.Context) error {
	if m.recorder == nil {
		return apperrors.NewServiceUnavailableError("recording is not configured")
	}
	cs := m.active()
	if cs == nil || m.machine.Phase() != domain.PhaseConnected {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}
	if m.recorder.Running() {
		return domain.InvalidState(domain.ErrAlreadyRecording)
	}

	m.mu.Lock()
	var local []*media.LocalTrack
	if cs.local != nil && cs.local.Audio != nil {
		local = append(local, cs.local.Audio)
	}
	if cs.screen != nil {
		local = append(local, cs.screen)
	} else if cs.camera != nil {
		local = append(local, cs.camera)
	}
	m.mu.Unlock()
	if len(local) == 0 {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}

	sources := ports.RecordingSources{Local: local, Remote: cs.roster.RemoteTracks()}
	if err := m.recorder.Start(ctx, sources); err != nil {
		m.logger.Warnw("failed to start recording", "session_id", cs.session.ID, "error", err)
		return err
	}
	m.logger.Infow("recording started", "session_id", cs.session.ID, "local_tracks", len(sources.Local), "remote_tracks", len(sources.Remote))
	m.publish()
	return nil
}

// StopRecording finalizes the running recording and returns its artifact.
func (m *CallManager) StopRecording(ctx context.Context) (*domain.RecordingArtifact, error) {
	if m.recorder == nil || !m.recorder.Running() {
		return nil, domain.InvalidState(domain.ErrNotRecording)
	}
	artifact, err := m.recorder.Stop(ctx)
	m.publish()
	if err != nil {
		return nil, err
	}
	m.metrics.RecordingFinished(artifact.MIMEType, artifact.Size, artifact.Duration)
	m.logger.Infow("recording saved", "name", artifact.Name, "location", artifact.Location, "bytes", artifact.Size)
	return artifact, nil
}
