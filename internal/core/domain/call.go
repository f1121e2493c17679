package domain

import "time"

type SessionID string

type CallMode string

const (
	CallModeAudio CallMode = "audio"
	CallModeVideo CallMode = "video"
)

func (m CallMode) Valid() bool {
	return m == CallModeAudio || m == CallModeVideo
}

func (m CallMode) HasVideo() bool {
	return m == CallModeVideo
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCalling   Phase = "calling"
	PhaseRinging   Phase = "ringing"
	PhaseConnected Phase = "connected"
	PhaseEnding    Phase = "ending"
)

// Active reports whether a call session exists in this phase.
func (p Phase) Active() bool {
	return p != PhaseIdle
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type CallSession struct {
	ID          SessionID
	Initiator   Participant
	Targets     []Participant
	Mode        CallMode
	Group       bool
	Direction   Direction
	StartedAt   time.Time
	ConnectedAt time.Time
}

// Remote returns the single remote party of a 1:1 call from the local point of view.
func (s *CallSession) Remote() Participant {
	if s.Direction == DirectionIncoming {
		return s.Initiator
	}
	if len(s.Targets) > 0 {
		return s.Targets[0]
	}
	return Participant{}
}

func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Targets = append([]Participant(nil), s.Targets...)
	return &c
}
