package ports

import (
	"context"

	"peercall/internal/core/domain"
)

type CallService interface {
	Initiate(ctx context.Context, participant domain.Participant, mode domain.CallMode) error
	InitiateGroup(ctx context.Context, participants []domain.Participant, mode domain.CallMode) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	End(ctx context.Context) error

	ToggleVideo() (bool, error)
	ToggleAudio() (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)

	AddParticipant(ctx context.Context, participant domain.Participant) error
	RemoveParticipant(ctx context.Context, id domain.ParticipantID) error

	SendMessage(ctx context.Context, text string) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*domain.RecordingArtifact, error)

	Snapshot() domain.Snapshot
	Subscribe() (<-chan domain.Snapshot, func())
	Listen(ctx context.Context) error
}
