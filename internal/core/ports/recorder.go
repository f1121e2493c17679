package ports

import (
	"context"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
)

type RecordingSources struct {
	Local  []*media.LocalTrack
	Remote []*media.RemoteTrack
}

type Recorder interface {
	Start(ctx context.Context, sources RecordingSources) error
	Stop(ctx context.Context) (*domain.RecordingArtifact, error)
	Running() bool
}

type ArtifactSink interface {
	Emit(ctx context.Context, artifact *domain.RecordingArtifact, data []byte) error
}
