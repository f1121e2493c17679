package ports

import (
	"time"

	"peercall/internal/core/domain"
)

type CallMetrics interface {
	CallStarted(mode domain.CallMode, direction domain.Direction, group bool)
	CallEnded(reason string, duration time.Duration)
	PhaseChanged(from, to domain.Phase)
	PeerQuality(participant domain.ParticipantID, quality domain.Quality, stats domain.ConnectionStats)
	PeerFailed(fatal bool)
	PeerLeft(participant domain.ParticipantID)
	IceRestart(success bool)
	SignalingWait(role domain.SignalRole, result string, d time.Duration)
	MessageBroadcast(delivered, failed int)
	ScreenShareToggled(active bool)
	RecordingFinished(mimeType string, bytes int, d time.Duration)
}
