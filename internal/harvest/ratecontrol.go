package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateController bounds outbound request pressure for one job: a weighted
// semaphore caps in-flight requests at the job's concurrency, a token-bucket
// limiter paces request starts, and Throttle imposes a shared fixed cooldown
// after a 429. The pacing interval itself never changes: throttles cost a
// bounded pause, not a permanently slower job.
type RateController struct {
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	cooldown time.Duration

	mu       sync.Mutex
	resumeAt time.Time
}

// NewRateController builds a controller allowing concurrency in-flight
// requests, at most one request start per interval, and pausing all request
// starts for cooldown after Throttle is called.
func NewRateController(concurrency int, interval, cooldown time.Duration) (*RateController, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateController{
		sem:      semaphore.NewWeighted(int64(concurrency)),
		limiter:  rate.NewLimiter(limit, 1),
		cooldown: cooldown,
	}, nil
}

// Acquire blocks until a concurrency slot is free, any active cooldown has
// elapsed, and the pacing limiter admits a request. The caller must call
// Release exactly once after the request completes.
func (rc *RateController) Acquire(ctx context.Context) error {
	if err := rc.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire request slot: %w", err)
	}
	if err := rc.waitCooldown(ctx); err != nil {
		rc.sem.Release(1)
		return err
	}
	if err := rc.limiter.Wait(ctx); err != nil {
		rc.sem.Release(1)
		return fmt.Errorf("wait for rate limiter: %w", err)
	}
	return nil
}

// Release returns a concurrency slot.
func (rc *RateController) Release() {
	rc.sem.Release(1)
}

// Throttle starts (or extends) the shared cooldown window. Safe to call from
// any goroutine.
func (rc *RateController) Throttle() {
	if rc.cooldown <= 0 {
		return
	}
	until := time.Now().Add(rc.cooldown)
	rc.mu.Lock()
	if until.After(rc.resumeAt) {
		rc.resumeAt = until
	}
	rc.mu.Unlock()
}

func (rc *RateController) waitCooldown(ctx context.Context) error {
	rc.mu.Lock()
	wait := time.Until(rc.resumeAt)
	rc.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
