package harvest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// RetryConfig tunes the Retrier. Zero values take the defaults below.
type RetryConfig struct {
	// MaxRetries bounds additional attempts after a hard failure.
	MaxRetries int
	// BaseDelay and MaxDelay shape the exponential backoff for hard failures.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ThrottleCooldown is the fixed wait after a 429 when the server gave no
	// Retry-After. MaxThrottleWaits bounds consecutive throttle retries so a
	// permanently hostile server cannot spin a request forever.
	ThrottleCooldown time.Duration
	MaxThrottleWaits int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.ThrottleCooldown <= 0 {
		c.ThrottleCooldown = 2 * time.Second
	}
	if c.MaxThrottleWaits <= 0 {
		c.MaxThrottleWaits = 10
	}
	return c
}

// Retrier runs request operations, classifying failures three ways: throttle
// responses wait out a cooldown and retry without touching the hard-failure
// budget; credential rejections trigger a single re-authentication; anything
// else counts as a hard failure and retries with jittered exponential
// backoff up to MaxRetries.
type Retrier struct {
	cfg    RetryConfig
	stats  *Counters
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a Retrier recording outcomes into stats.
func NewRetrier(cfg RetryConfig, stats *Counters, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Counters{}
	}
	return &Retrier{
		cfg:    cfg.withDefaults(),
		stats:  stats,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Do runs op until it succeeds or the retry budget is spent. reauth, when
// non-nil, is invoked at most once per call if the source rejects the
// current credentials.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error, reauth func(ctx context.Context) error) error {
	var (
		attempts  int
		throttles int
		reauthed  bool
	)
	for {
		err := op(ctx)
		if err == nil {
			r.stats.Success()
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			r.stats.Throttle()
			throttles++
			if throttles > r.cfg.MaxThrottleWaits {
				r.stats.Failure()
				return fmt.Errorf("still throttled after %d waits: %w", r.cfg.MaxThrottleWaits, err)
			}
			wait := r.cfg.ThrottleCooldown
			if rl.RetryAfter > wait {
				wait = min(rl.RetryAfter, 30*time.Second)
			}
			r.logger.Debug("throttled, cooling down",
				zap.Duration("wait", wait),
				zap.Int("throttles", throttles),
			)
			if serr := r.sleep(ctx, wait); serr != nil {
				return serr
			}
			continue
		}

		var ae *AuthError
		if errors.As(err, &ae) {
			if reauth == nil || reauthed {
				r.stats.Failure()
				return fmt.Errorf("credentials rejected: %w", err)
			}
			reauthed = true
			r.logger.Warn("credentials rejected, re-authenticating", zap.Int("status", ae.StatusCode))
			if rerr := reauth(ctx); rerr != nil {
				r.stats.Failure()
				return fmt.Errorf("re-authenticate: %w", rerr)
			}
			continue
		}

		r.stats.Failure()
		attempts++
		if attempts > r.cfg.MaxRetries {
			return fmt.Errorf("giving up after %d retries: %w", r.cfg.MaxRetries, err)
		}
		wait := r.backoff(attempts)
		r.logger.Debug("request failed, backing off",
			zap.Error(err),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
		if serr := r.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func (r *Retrier) backoff(attempt int) time.Duration {
	delay := float64(r.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.cfg.MaxDelay) {
		delay = float64(r.cfg.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
