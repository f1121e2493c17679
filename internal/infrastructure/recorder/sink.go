package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// FileSink writes artifacts into a directory.
type FileSink struct {
	dir    string
	logger *zap.SugaredLogger
}

var _ ports.ArtifactSink = (*FileSink)(nil)

func NewFileSink(dir string, logger *zap.SugaredLogger) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{dir: dir, logger: logger}
}

func (s *FileSink) Emit(ctx context.Context, artifact *domain.RecordingArtifact, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}
	path := filepath.Join(s.dir, artifact.Name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	artifact.Location = path
	s.logger.Infow("recording written", "path", path, "bytes", len(data))
	return nil
}

// MemorySink keeps artifacts in memory.
type MemorySink struct {
	mu        sync.Mutex
	artifacts []*domain.RecordingArtifact
	data      map[string][]byte
}

var _ ports.ArtifactSink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string][]byte)}
}

func (s *MemorySink) Emit(_ context.Context, artifact *domain.RecordingArtifact, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact.Location = "memory:" + artifact.Name
	s.artifacts = append(s.artifacts, artifact)
	s.data[artifact.Name] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySink) Artifacts() []*domain.RecordingArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.RecordingArtifact(nil), s.artifacts...)
}

func (s *MemorySink) Data(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[name]
}
