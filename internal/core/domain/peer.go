package domain

import "time"

type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// Transient states may recover through an ICE restart.
func (s ConnectionState) Transient() bool {
	return s == ConnectionDisconnected || s == ConnectionFailed
}

type ConnectionStats struct {
	PacketsLost     int64
	PacketsReceived int64
	RTT             time.Duration
	Timestamp       time.Time
}

// LossRatio is lost/received. With nothing received, any loss counts as total loss.
func (s ConnectionStats) LossRatio() float64 {
	if s.PacketsReceived <= 0 {
		if s.PacketsLost > 0 {
			return 1
		}
		return 0
	}
	return float64(s.PacketsLost) / float64(s.PacketsReceived)
}

// PeerState is a read-only view of one roster entry.
type PeerState struct {
	Participant    Participant
	State          ConnectionState
	Quality        Quality
	Stats          ConnectionStats
	VideoEnabled   bool
	AudioEnabled   bool
	ScreenSharing  bool
	Speaking       bool
	HasRemoteAudio bool
	HasRemoteVideo bool
	RetryAttempted bool
	Initiator      bool
	JoinedAt       time.Time
}
