package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultSinkTimeout   = 10 * time.Second
)

// Config controls flush cadence for a Tracker.
type Config struct {
	Scraper       string
	JobID         string
	FlushInterval time.Duration
	SinkTimeout   time.Duration
	Logger        *zap.Logger
}

// Tracker holds the latest progress of one job and flushes it to sinks on a
// fixed cadence plus once on Close. It implements harvest.Reporter, so a
// runner can feed it directly. All methods are safe for concurrent use.
type Tracker struct {
	cfg     Config
	sinks   []Sink
	clock   harvest.Clock
	logger  *zap.Logger
	started time.Time

	mu    sync.Mutex
	snap  Snapshot
	dirty bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewTracker starts the flush loop. The returned Tracker must be closed to
// release the background goroutine and flush the final snapshot.
func NewTracker(cfg Config, clock harvest.Clock, sinks ...Sink) *Tracker {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := clock.Now()
	t := &Tracker{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		clock:   clock,
		logger:  logger,
		started: now,
		snap: Snapshot{
			Scraper:   cfg.Scraper,
			JobID:     cfg.JobID,
			Status:    string(harvest.StatusQueued),
			Timestamp: now,
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go t.run()
	return t
}

// Report implements harvest.Reporter.
func (t *Tracker) Report(p harvest.Progress) {
	now := t.clock.Now()
	rate := 0.0
	if elapsed := now.Sub(t.started).Seconds(); elapsed > 0 {
		rate = float64(p.ProductsScraped) / elapsed
	}
	t.mu.Lock()
	status := t.snap.Status
	t.snap = fromProgress(t.cfg.Scraper, t.cfg.JobID, status, p, rate, now)
	t.dirty = true
	t.mu.Unlock()
}

// SetStatus updates the job status carried in every later snapshot.
func (t *Tracker) SetStatus(status harvest.JobStatus) {
	t.mu.Lock()
	t.snap.Status = string(status)
	t.snap.Timestamp = t.clock.Now()
	t.dirty = true
	t.mu.Unlock()
}

// Snapshot returns the latest snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Close flushes the final snapshot, closes the sinks, and waits for the
// background goroutine to exit. Safe to call more than once.
func (t *Tracker) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		close(t.stopCh)
	})
	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress tracker close wait: %w", ctx.Err())
	}
}

func (t *Tracker) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.flush(false)
		case <-t.stopCh:
			t.flush(true)
			t.closeSinks()
			return
		}
	}
}

func (t *Tracker) flush(force bool) {
	t.mu.Lock()
	if !t.dirty && !force {
		t.mu.Unlock()
		return
	}
	snap := t.snap
	t.dirty = false
	t.mu.Unlock()

	if err := snap.Validate(); err != nil {
		t.logger.Debug("discarding invalid progress snapshot", zap.Error(err))
		return
	}
	for _, sink := range t.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SinkTimeout)
		if err := sink.Flush(ctx, snap); err != nil {
			t.logger.Warn("progress sink flush failed", zap.Error(err))
		}
		cancel()
	}
}

func (t *Tracker) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SinkTimeout)
	defer cancel()
	for _, sink := range t.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			t.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
