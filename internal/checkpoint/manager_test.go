package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

func TestManager_CheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := New(t.TempDir(), "job-1", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	cp := harvest.Checkpoint{
		ScrapedIDs:          []string{"a", "b", "c"},
		Cursors:             map[string]int{"101": 150},
		CompletedCategories: []string{"102"},
		TotalScraped:        3,
		Stats:               harvest.RequestStats{Succeeded: 4, Throttled: 1},
		Timestamp:           time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, m.Save(ctx, cp))

	got, ok, err := m.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cp, got)
}

func TestManager_MissingCheckpointIsNotAnError(t *testing.T) {
	t.Parallel()

	m, err := New(t.TempDir(), "job-1", zap.NewNop())
	require.NoError(t, err)

	_, ok, err := m.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_CorruptCheckpointStartsFresh(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := New(dir, "job-1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-1_checkpoint.json"), []byte("{not json"), 0o600))

	_, ok, err := m.Load(context.Background())
	require.NoError(t, err, "a corrupt checkpoint must degrade, not fail")
	require.False(t, ok)
}

func TestManager_CompletionMarkerRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := New(t.TempDir(), "job-1", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := m.LoadCompletion(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	marker := harvest.CompletionMarker{
		CompletedAt:         time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
		TotalProducts:       1200,
		DurationSeconds:     42.5,
		ProductsPerSecond:   28.2,
		CategoriesProcessed: 9,
	}
	require.NoError(t, m.SaveCompletion(ctx, marker))

	got, ok, err := m.LoadCompletion(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, marker, got)
}

func TestManager_CorruptCompletionMarkerIsIgnored(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := New(dir, "job-1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-1_complete.json"), []byte("???"), 0o600))

	_, ok, err := m.LoadCompletion(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_RequiresDirAndJobID(t *testing.T) {
	t.Parallel()

	_, err := New("", "job-1", nil)
	require.Error(t, err)
	_, err = New(t.TempDir(), "  ", nil)
	require.Error(t, err)
}
