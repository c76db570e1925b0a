package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwolters/catalog-harvester/internal/progress"
)

// FileSink writes the latest snapshot to a JSON file, atomically, so an
// external monitor can poll the file without ever reading a torn write.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a sink writing to path, creating parent directories as
// needed.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("progress file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create progress directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Flush replaces the progress file with the snapshot.
func (s *FileSink) Flush(_ context.Context, snap progress.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write progress file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *FileSink) Close(context.Context) error {
	return nil
}
