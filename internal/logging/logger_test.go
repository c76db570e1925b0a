package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, prod)
}

func TestNewJobLogger_WritesJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "job-1.log")
	logger, closeLog, err := NewJobLogger(zap.NewNop(), path)
	require.NoError(t, err)

	logger.Info("harvest started", zap.String("job_id", "job-1"))
	logger.Debug("not in the file") // file core is info-level
	logger.Warn("slow page", zap.Int("cursor", 150))
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "harvest started", first["msg"])
	require.Equal(t, "job-1", first["job_id"])
	require.NotEmpty(t, first["ts"])
}

func TestNewJobLogger_AppendsAcrossReopens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "job-1.log")

	logger, closeLog, err := NewJobLogger(zap.NewNop(), path)
	require.NoError(t, err)
	logger.Info("first run")
	require.NoError(t, closeLog())

	logger, closeLog, err = NewJobLogger(zap.NewNop(), path)
	require.NoError(t, err)
	logger.Info("second run")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}
