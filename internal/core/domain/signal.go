package domain

import (
	"fmt"
	"time"
)

type SignalRole string

const (
	RoleOffer  SignalRole = "offer"
	RoleAnswer SignalRole = "answer"
	RoleInvite SignalRole = "invite"
)

// InboxSession is the session id under which invitations are addressed.
const InboxSession SessionID = "inbox"

// SignalKey addresses one signaling message. ParticipantID is the recipient;
// From distinguishes offers in a mesh; Attempt separates ICE restart rounds.
type SignalKey struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Role          SignalRole    `json:"role"`
	From          ParticipantID `json:"from,omitempty"`
	Attempt       int           `json:"attempt,omitempty"`
}

func (k SignalKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", k.SessionID, k.ParticipantID, k.Role, k.From, k.Attempt)
}

func (k SignalKey) Validate() error {
	if k.SessionID == "" || k.ParticipantID == "" {
		return fmt.Errorf("signal key requires session and participant")
	}
	switch k.Role {
	case RoleOffer, RoleAnswer, RoleInvite:
	default:
		return fmt.Errorf("unknown signal role %q", k.Role)
	}
	if k.Attempt < 0 {
		return fmt.Errorf("signal attempt must be >= 0")
	}
	return nil
}

func OfferKey(session SessionID, to, from ParticipantID, attempt int) SignalKey {
	return SignalKey{SessionID: session, ParticipantID: to, Role: RoleOffer, From: from, Attempt: attempt}
}

func AnswerKey(session SessionID, to, from ParticipantID, attempt int) SignalKey {
	return SignalKey{SessionID: session, ParticipantID: to, Role: RoleAnswer, From: from, Attempt: attempt}
}

func InviteKey(to ParticipantID) SignalKey {
	return SignalKey{SessionID: InboxSession, ParticipantID: to, Role: RoleInvite}
}

// SignalPayload carries a session description or an invitation.
type SignalPayload struct {
	SDP        string      `json:"sdp,omitempty"`
	Type       string      `json:"type,omitempty"`
	From       Participant `json:"from"`
	Declined   bool        `json:"declined,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Invitation *Invitation `json:"invitation,omitempty"`
}

type Invitation struct {
	SessionID    SessionID     `json:"session_id"`
	Mode         CallMode      `json:"mode"`
	Group        bool          `json:"group"`
	Participants []Participant `json:"participants"`
	SentAt       time.Time     `json:"sent_at"`
}

// Others returns invitation members except self.
func (i *Invitation) Others(self ParticipantID) []Participant {
	out := make([]Participant, 0, len(i.Participants))
	for _, p := range i.Participants {
		if p.ID != self {
			out = append(out, p)
		}
	}
	return out
}

// ShouldOffer decides which side of a mesh pair creates the offer.
// The inviter always offers; otherwise the smaller id offers.
func ShouldOffer(self, other, inviter ParticipantID) bool {
	if self == inviter {
		return true
	}
	if other == inviter {
		return false
	}
	return self < other
}
