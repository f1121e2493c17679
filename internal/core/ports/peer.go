package ports

import (
	"context"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
)

type PeerFactory interface {
	NewPeer(ctx context.Context, participant domain.ParticipantID) (PeerConnection, error)
}

// PeerConnection is one negotiated link to a remote participant. Offers and
// answers are returned only after local candidate gathering completes.
type PeerConnection interface {
	ParticipantID() domain.ParticipantID
	AddTrack(track *media.LocalTrack) (Sender, error)
	CreateOffer(ctx context.Context, iceRestart bool) (webrtc.SessionDescription, error)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	SendData(data []byte) error
	Stats(ctx context.Context) (domain.ConnectionStats, error)
	ConnectionState() domain.ConnectionState

	OnRemoteTrack(fn func(*media.RemoteTrack))
	OnData(fn func([]byte))
	OnStateChange(fn func(domain.ConnectionState))

	Close() error
}

// Sender feeds one outgoing track. ReplaceTrack swaps the source without renegotiation.
type Sender interface {
	ReplaceTrack(track *media.LocalTrack) error
	Track() *media.LocalTrack
}
