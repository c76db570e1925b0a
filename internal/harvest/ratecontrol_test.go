package harvest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateController_BoundsInFlightRequests(t *testing.T) {
	t.Parallel()

	const concurrency = 3
	rc, err := NewRateController(concurrency, 0, 0)
	require.NoError(t, err)

	var inFlight, maxInFlight atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, rc.Acquire(context.Background()))
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			rc.Release()
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, maxInFlight.Load(), int64(concurrency))
	require.Positive(t, maxInFlight.Load())
}

func TestRateController_PacesRequestStarts(t *testing.T) {
	t.Parallel()

	interval := 20 * time.Millisecond
	rc, err := NewRateController(4, interval, 0)
	require.NoError(t, err)

	start := time.Now()
	for range 4 {
		require.NoError(t, rc.Acquire(context.Background()))
		rc.Release()
	}
	// First token is free; the remaining three wait one interval each.
	require.GreaterOrEqual(t, time.Since(start), 3*interval-5*time.Millisecond)
}

func TestRateController_ThrottlePausesAcquire(t *testing.T) {
	t.Parallel()

	cooldown := 50 * time.Millisecond
	rc, err := NewRateController(1, 0, cooldown)
	require.NoError(t, err)

	rc.Throttle()
	start := time.Now()
	require.NoError(t, rc.Acquire(context.Background()))
	rc.Release()
	require.GreaterOrEqual(t, time.Since(start), cooldown-5*time.Millisecond)

	// Cooldown is a one-shot pause, not a lasting slowdown.
	start = time.Now()
	require.NoError(t, rc.Acquire(context.Background()))
	rc.Release()
	require.Less(t, time.Since(start), cooldown)
}

func TestRateController_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	rc, err := NewRateController(1, 0, time.Minute)
	require.NoError(t, err)
	rc.Throttle()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = rc.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The slot taken by the failed acquire must have been released.
	rc2, err := NewRateController(1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, rc2.Acquire(context.Background()))
	rc2.Release()
	require.NoError(t, rc2.Acquire(context.Background()))
	rc2.Release()
}

func TestRateController_RejectsNonPositiveConcurrency(t *testing.T) {
	t.Parallel()

	_, err := NewRateController(0, 0, 0)
	require.Error(t, err)
}
