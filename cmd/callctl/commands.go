package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"peercall/internal/core/domain"
)

var audioOnlyFlag = &cli.BoolFlag{
	Name:  "audio-only",
	Usage: "start an audio call without a camera",
}

var (
	callCommand = &cli.Command{
		Name:      "call",
		Usage:     "call one participant",
		ArgsUsage: "<participant-id>",
		Flags:     []cli.Flag{audioOnlyFlag},
		Action:    placeCall,
	}

	groupCommand = &cli.Command{
		Name:      "group",
		Usage:     "start a mesh call with several participants",
		ArgsUsage: "<participant-id> <participant-id> ...",
		Flags:     []cli.Flag{audioOnlyFlag},
		Action:    placeGroupCall,
	}

	listenCommand = &cli.Command{
		Name:   "listen",
		Usage:  "wait for incoming calls and prompt to answer them",
		Action: listen,
	}
)

func callMode(c *cli.Context) domain.CallMode {
	if c.Bool("audio-only") {
		return domain.CallModeAudio
	}
	return domain.CallModeVideo
}

func participantsFromArgs(c *cli.Context) []domain.Participant {
	out := make([]domain.Participant, 0, c.NArg())
	for _, id := range c.Args().Slice() {
		out = append(out, participant(id))
	}
	return out
}

func placeCall(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("call takes exactly one participant id")
	}
	return runSession(c, func(ctx context.Context, s *session) error {
		target := participantsFromArgs(c)[0]
		s.log.Infow("calling", "participant_id", target.ID)
		if err := s.calls.Initiate(ctx, target, callMode(c)); err != nil {
			return err
		}
		return s.interact(ctx)
	})
}

func placeGroupCall(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("group takes at least two participant ids")
	}
	return runSession(c, func(ctx context.Context, s *session) error {
		targets := participantsFromArgs(c)
		s.log.Infow("starting group call", "participants", len(targets))
		if err := s.calls.InitiateGroup(ctx, targets, callMode(c)); err != nil {
			return err
		}
		return s.interact(ctx)
	})
}

func listen(c *cli.Context) error {
	return runSession(c, func(ctx context.Context, s *session) error {
		go func() {
			if err := s.calls.Listen(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorw("invitation listener stopped", "error", err)
			}
		}()
		return s.answerLoop(ctx)
	})
}

func participant(id string) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), DisplayName: id}
}
