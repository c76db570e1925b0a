// Package checkpoint persists resumable job state and completion markers as
// JSON files, written atomically via temp file and rename.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// Manager stores one job's checkpoint and completion marker next to each
// other. A corrupt or missing checkpoint degrades to a fresh start; a
// corrupt completion marker is ignored rather than trusted.
type Manager struct {
	mu             sync.Mutex
	checkpointPath string
	completionPath string
	logger         *zap.Logger
}

// New creates a Manager for one job under dir, creating it as needed.
func New(dir, jobID string, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Manager{
		checkpointPath: filepath.Join(dir, jobID+"_checkpoint.json"),
		completionPath: filepath.Join(dir, jobID+"_complete.json"),
		logger:         logger,
	}, nil
}

// Save writes the checkpoint atomically.
func (m *Manager) Save(_ context.Context, cp harvest.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeAtomic(m.checkpointPath, cp)
}

// Load reads the checkpoint. ok is false when none exists or it cannot be
// decoded; decoding failures are logged, never fatal.
func (m *Manager) Load(_ context.Context) (harvest.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cp harvest.Checkpoint
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, false, nil
		}
		return cp, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		m.logger.Warn("checkpoint corrupt, starting fresh",
			zap.String("path", m.checkpointPath), zap.Error(err))
		return harvest.Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// SaveCompletion writes the completion marker atomically.
func (m *Manager) SaveCompletion(_ context.Context, marker harvest.CompletionMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeAtomic(m.completionPath, marker)
}

// LoadCompletion reads the completion marker, if present and decodable.
func (m *Manager) LoadCompletion(_ context.Context) (harvest.CompletionMarker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var marker harvest.CompletionMarker
	data, err := os.ReadFile(m.completionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return marker, false, nil
		}
		return marker, false, fmt.Errorf("read completion marker: %w", err)
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		m.logger.Warn("completion marker corrupt, ignoring",
			zap.String("path", m.completionPath), zap.Error(err))
		return harvest.CompletionMarker{}, false, nil
	}
	return marker, true, nil
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
