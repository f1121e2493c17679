package ports

import (
	"context"
	"time"

	"peercall/internal/core/domain"
)

// SignalingTransport is a keyed mailbox for session descriptions and invitations.
// Subscribe waits at most timeout for the key to appear and returns
// domain.ErrSignalNotFound when it does not.
type SignalingTransport interface {
	Publish(ctx context.Context, key domain.SignalKey, payload domain.SignalPayload) error
	Subscribe(ctx context.Context, key domain.SignalKey, timeout time.Duration) (domain.SignalPayload, error)
	Delete(ctx context.Context, key domain.SignalKey) error
	Close() error
}

// SignalStore is the server-side storage behind the relay.
type SignalStore interface {
	SignalingTransport
	Ping(ctx context.Context) error
}
