package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// terminal client that places and answers calls
func main() {
	app := &cli.App{
		Name:  "callctl",
		Usage: "place, answer and control peer-to-peer calls",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML config",
				EnvVars: []string{"PEERCALL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "id",
				Usage:   "local participant id, overrides client.participant_id",
				EnvVars: []string{"PEERCALL_PARTICIPANT_ID"},
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "display name shown to the other side",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "signaling backend: memory, redis or websocket",
			},
			&cli.StringFlag{
				Name:  "relay",
				Usage: "relay websocket url for the websocket backend",
			},
		},
		Commands: []*cli.Command{
			callCommand,
			groupCommand,
			listenCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
