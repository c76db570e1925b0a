package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// stepClock hands out strictly increasing timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newRegistry() *Registry {
	return New(&stepClock{now: time.Unix(1700000000, 0).UTC()})
}

func cfg(id string) harvest.JobConfig {
	return harvest.JobConfig{JobID: id, Concurrency: 2, PageSize: 50}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	created, err := r.Create(cfg("job-1"))
	require.NoError(t, err)
	require.Equal(t, harvest.StatusQueued, created.Status)
	require.False(t, created.CreatedAt.IsZero())

	got, err := r.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, created, got)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Create(cfg("job-1"))
	require.Error(t, err)
}

func TestRegistry_LifecycleTransitions(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	_, err := r.Create(cfg("job-1"))
	require.NoError(t, err)

	running, err := r.SetStatus("job-1", harvest.StatusRunning, "")
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	require.Nil(t, running.CompletedAt)

	done, err := r.SetStatus("job-1", harvest.StatusCompleted, "")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	require.True(t, done.CompletedAt.After(*done.StartedAt))
}

func TestRegistry_TerminalJobsAreImmutable(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	_, err := r.Create(cfg("job-1"))
	require.NoError(t, err)
	_, err = r.SetStatus("job-1", harvest.StatusRunning, "")
	require.NoError(t, err)
	_, err = r.SetStatus("job-1", harvest.StatusCancelled, "")
	require.NoError(t, err)

	// A late "completed" from the run goroutine must not overwrite the
	// cancellation.
	_, err = r.SetStatus("job-1", harvest.StatusCompleted, "")
	require.ErrorIs(t, err, ErrTerminal)

	job, err := r.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, harvest.StatusCancelled, job.Status)
}

func TestRegistry_RejectsSkippedTransitions(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	_, err := r.Create(cfg("job-1"))
	require.NoError(t, err)

	// queued -> completed skips running.
	_, err = r.SetStatus("job-1", harvest.StatusCompleted, "")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTerminal)
}

func TestRegistry_ProgressFrozenAfterTerminal(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	_, err := r.Create(cfg("job-1"))
	require.NoError(t, err)
	_, err = r.SetStatus("job-1", harvest.StatusRunning, "")
	require.NoError(t, err)

	require.NoError(t, r.SetProgress("job-1", harvest.Progress{ProductsScraped: 10}))
	_, err = r.SetStatus("job-1", harvest.StatusFailed, "source down")
	require.NoError(t, err)
	require.NoError(t, r.SetProgress("job-1", harvest.Progress{ProductsScraped: 999}))

	job, err := r.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, 10, job.Progress.ProductsScraped)
	require.Equal(t, "source down", job.Error)
}

func TestRegistry_ListNewestFirstWithFilter(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	for i := range 5 {
		_, err := r.Create(cfg(fmt.Sprintf("job-%d", i)))
		require.NoError(t, err)
	}
	_, err := r.SetStatus("job-0", harvest.StatusRunning, "")
	require.NoError(t, err)
	_, err = r.SetStatus("job-0", harvest.StatusCompleted, "")
	require.NoError(t, err)

	all := r.List("", 0)
	require.Len(t, all, 5)
	require.Equal(t, "job-4", all[0].ID)
	require.Equal(t, "job-0", all[4].ID)

	completed := r.List(harvest.StatusCompleted, 0)
	require.Len(t, completed, 1)
	require.Equal(t, "job-0", completed[0].ID)

	limited := r.List("", 2)
	require.Len(t, limited, 2)
}

func TestRegistry_CountActive(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	for i := range 3 {
		_, err := r.Create(cfg(fmt.Sprintf("job-%d", i)))
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.CountActive())

	_, err := r.SetStatus("job-0", harvest.StatusRunning, "")
	require.NoError(t, err)
	require.Equal(t, 3, r.CountActive())

	_, err = r.SetStatus("job-0", harvest.StatusFailed, "boom")
	require.NoError(t, err)
	require.Equal(t, 2, r.CountActive())
}
