package domain

import "time"

type RecordingArtifact struct {
	Name      string
	MIMEType  string
	Size      int
	Slices    int
	Location  string
	StartedAt time.Time
	Duration  time.Duration
}
