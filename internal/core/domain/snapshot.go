package domain

import "time"

// Snapshot is an immutable copy of the call state pushed to subscribers.
type Snapshot struct {
	Phase         Phase
	Session       *CallSession
	Peers         []PeerState
	Quality       Quality
	Recording     bool
	VideoEnabled  bool
	AudioEnabled  bool
	ScreenSharing bool
	Chat          []ChatMessage
	LastError     string
	UpdatedAt     time.Time
}

func (s Snapshot) Peer(id ParticipantID) (PeerState, bool) {
	for _, p := range s.Peers {
		if p.Participant.ID == id {
			return p, true
		}
	}
	return PeerState{}, false
}

func (s Snapshot) ConnectedPeers() int {
	n := 0
	for _, p := range s.Peers {
		if p.State == ConnectionConnected {
			n++
		}
	}
	return n
}
