package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRetrier(cfg RetryConfig, stats *Counters) (*Retrier, *[]time.Duration) {
	r := NewRetrier(cfg, stats, zap.NewNop())
	var sleeps []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return r, &sleeps
}

func TestRetrier_SuccessFirstTry(t *testing.T) {
	t.Parallel()

	stats := &Counters{}
	r, sleeps := newTestRetrier(RetryConfig{}, stats)

	err := r.Do(context.Background(), func(context.Context) error { return nil }, nil)
	require.NoError(t, err)
	require.Empty(t, *sleeps)
	require.Equal(t, RequestStats{Succeeded: 1}, stats.Snapshot())
}

func TestRetrier_ThrottleIsNotAFailure(t *testing.T) {
	t.Parallel()

	stats := &Counters{}
	r, sleeps := newTestRetrier(RetryConfig{ThrottleCooldown: time.Second}, stats)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitedError{}
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{time.Second}, *sleeps)

	snap := stats.Snapshot()
	require.Equal(t, int64(1), snap.Succeeded)
	require.Equal(t, int64(1), snap.Throttled)
	require.Zero(t, snap.Failed, "a throttle wait must not count as a failure")
}

func TestRetrier_ThrottleHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	r, sleeps := newTestRetrier(RetryConfig{ThrottleCooldown: time.Second}, &Counters{})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitedError{RetryAfter: 3 * time.Second}
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{3 * time.Second}, *sleeps)
}

func TestRetrier_ThrottleBudgetIsBounded(t *testing.T) {
	t.Parallel()

	stats := &Counters{}
	r, _ := newTestRetrier(RetryConfig{MaxThrottleWaits: 2, ThrottleCooldown: time.Millisecond}, stats)

	err := r.Do(context.Background(), func(context.Context) error {
		return &RateLimitedError{}
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "still throttled")
	require.Equal(t, int64(3), stats.Snapshot().Throttled)
	require.Equal(t, int64(1), stats.Snapshot().Failed)
}

func TestRetrier_ReauthenticatesOnce(t *testing.T) {
	t.Parallel()

	r, _ := newTestRetrier(RetryConfig{}, &Counters{})

	reauths := 0
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &AuthError{StatusCode: 401}
		}
		return nil
	}, func(context.Context) error {
		reauths++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, reauths)
	require.Equal(t, 2, calls)
}

func TestRetrier_SecondAuthRejectionIsFatal(t *testing.T) {
	t.Parallel()

	stats := &Counters{}
	r, _ := newTestRetrier(RetryConfig{MaxRetries: 5}, stats)

	reauths := 0
	err := r.Do(context.Background(), func(context.Context) error {
		return &AuthError{StatusCode: 403}
	}, func(context.Context) error {
		reauths++
		return nil
	})
	require.Error(t, err)
	require.True(t, IsAuthError(err))
	require.Equal(t, 1, reauths, "re-authentication must happen at most once per call")
}

func TestRetrier_HardFailuresExhaustBudget(t *testing.T) {
	t.Parallel()

	stats := &Counters{}
	r, sleeps := newTestRetrier(RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond}, stats)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 500}
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "giving up after 2 retries")
	require.Equal(t, 3, calls)
	require.Len(t, *sleeps, 2)
	require.Equal(t, int64(3), stats.Snapshot().Failed)
}

func TestRetrier_BackoffGrows(t *testing.T) {
	t.Parallel()

	r := NewRetrier(RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}, nil, nil)

	first := r.backoff(1)
	third := r.backoff(3)
	require.GreaterOrEqual(t, first, 50*time.Millisecond)
	require.Less(t, first, 100*time.Millisecond+time.Millisecond)
	require.GreaterOrEqual(t, third, 200*time.Millisecond)
	require.Less(t, third, 400*time.Millisecond+time.Millisecond)
}

func TestRetrier_ContextCancelStopsRetrying(t *testing.T) {
	t.Parallel()

	r := NewRetrier(RetryConfig{MaxRetries: 10}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return context.Canceled
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetrier_WrappedErrorsAreClassified(t *testing.T) {
	t.Parallel()

	r, _ := newTestRetrier(RetryConfig{ThrottleCooldown: time.Millisecond}, &Counters{})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.Join(errors.New("fetch page"), &RateLimitedError{})
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
