package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EnvelopeType string

const (
	EnvelopeChat              EnvelopeType = "chat"
	EnvelopeMediaControl      EnvelopeType = "media-control"
	EnvelopeCallEnd           EnvelopeType = "call-end"
	EnvelopeParticipantJoined EnvelopeType = "participant-joined"
)

type MediaAction string

const (
	ActionVideoToggle      MediaAction = "video-toggle"
	ActionAudioToggle      MediaAction = "audio-toggle"
	ActionScreenShareStart MediaAction = "screen-share-start"
	ActionScreenShareStop  MediaAction = "screen-share-stop"
)

// Envelope is the JSON frame carried on the data channel.
type Envelope struct {
	Type        EnvelopeType  `json:"type"`
	From        ParticipantID `json:"from,omitempty"`
	Content     string        `json:"content,omitempty"`
	Action      MediaAction   `json:"action,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`
	Participant *Participant  `json:"participant,omitempty"`
	Timestamp   int64         `json:"timestamp"`
}

func NewChatEnvelope(from ParticipantID, content string, at time.Time) Envelope {
	return Envelope{Type: EnvelopeChat, From: from, Content: content, Timestamp: at.UnixMilli()}
}

func NewMediaControlEnvelope(from ParticipantID, action MediaAction, enabled bool, at time.Time) Envelope {
	return Envelope{Type: EnvelopeMediaControl, From: from, Action: action, Enabled: &enabled, Timestamp: at.UnixMilli()}
}

func NewCallEndEnvelope(from ParticipantID, at time.Time) Envelope {
	return Envelope{Type: EnvelopeCallEnd, From: from, Timestamp: at.UnixMilli()}
}

func NewParticipantJoinedEnvelope(from ParticipantID, joined Participant, at time.Time) Envelope {
	return Envelope{Type: EnvelopeParticipantJoined, From: from, Participant: &joined, Timestamp: at.UnixMilli()}
}

func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and checks a data-channel frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	switch env.Type {
	case EnvelopeChat, EnvelopeCallEnd:
	case EnvelopeMediaControl:
		switch env.Action {
		case ActionVideoToggle, ActionAudioToggle:
			if env.Enabled == nil {
				return Envelope{}, fmt.Errorf("%w: %s without enabled flag", ErrInvalidEnvelope, env.Action)
			}
		case ActionScreenShareStart, ActionScreenShareStop:
		default:
			return Envelope{}, fmt.Errorf("%w: unknown media action %q", ErrInvalidEnvelope, env.Action)
		}
	case EnvelopeParticipantJoined:
		if env.Participant == nil || env.Participant.ID == "" {
			return Envelope{}, fmt.Errorf("%w: participant-joined without participant", ErrInvalidEnvelope)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, env.Type)
	}
	return env, nil
}

type ChatMessage struct {
	From      ParticipantID
	Content   string
	Timestamp time.Time
	Local     bool
}
