package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig tunes behavior shared by every job this runner executes.
type RunnerConfig struct {
	// MaxEmptyPages is the consecutive-empty-page count after which a
	// category is considered exhausted.
	MaxEmptyPages int
	// CheckpointEvery saves a checkpoint after at least this many new
	// products in a single category.
	CheckpointEvery int
	// ThrottleCooldown is the shared pause after a 429.
	ThrottleCooldown time.Duration
	Retry            RetryConfig
	// Adaptive page sizing; see PageSizer.
	AdaptivePageSize bool
	PageFloor        int
	PageCeiling      int
	PageStep         int
	// Denylist maps category id to the reason it is skipped.
	Denylist map[string]string
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxEmptyPages <= 0 {
		c.MaxEmptyPages = 3
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 200
	}
	if c.ThrottleCooldown <= 0 {
		c.ThrottleCooldown = 2 * time.Second
	}
	return c
}

// Result summarizes a finished job run.
type Result struct {
	TotalScraped        int
	NewThisRun          int
	Duration            time.Duration
	ProductsPerSecond   float64
	CategoriesProcessed int
	CategoriesFailed    int
	Resumed             bool
	ShortCircuited      bool
	Stats               RequestStats
}

// Runner executes one harvest job end to end: completion short-circuit,
// authentication, discovery, checkpoint restore, bounded category fan-out,
// and final checkpoint plus completion marker.
type Runner struct {
	source      Source
	store       ProductStore
	checkpoints CheckpointStore
	clock       Clock
	reporter    Reporter
	logger      *zap.Logger
	cfg         RunnerConfig
}

// NewRunner wires a runner over the given capabilities. A nil reporter
// discards progress.
func NewRunner(source Source, store ProductStore, checkpoints CheckpointStore, clock Clock, reporter Reporter, logger *zap.Logger, cfg RunnerConfig) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Runner{
		source:      source,
		store:       store,
		checkpoints: checkpoints,
		clock:       clock,
		reporter:    reporter,
		logger:      logger,
		cfg:         cfg.withDefaults(),
	}
}

// runState is the mutable cross-category state of one run, guarded by a
// single mutex. Category goroutines write only their own cursor entry.
type runState struct {
	mu        sync.Mutex
	cursors   map[string]int
	completed map[string]struct{}
	failed    map[string]struct{}
	current   string
	totalCats int
}

func (s *runState) setCursor(id string, cursor int) {
	s.mu.Lock()
	s.cursors[id] = cursor
	s.mu.Unlock()
}

func (s *runState) finish(id string, failed bool) {
	s.mu.Lock()
	if failed {
		s.failed[id] = struct{}{}
	} else {
		s.completed[id] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *runState) setCurrent(task string) {
	s.mu.Lock()
	s.current = task
	s.mu.Unlock()
}

func (s *runState) snapshot() (cursors map[string]int, completed []string, done int, failedCount int, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors = make(map[string]int, len(s.cursors))
	for k, v := range s.cursors {
		cursors[k] = v
	}
	completed = make([]string, 0, len(s.completed))
	for id := range s.completed {
		completed = append(completed, id)
	}
	sort.Strings(completed)
	return cursors, completed, len(s.completed), len(s.failed), s.current
}

// Run executes the job. The returned error is the job-level failure, if any;
// individual category failures are tolerated unless every category fails.
func (r *Runner) Run(ctx context.Context, job JobConfig) (Result, error) {
	log := r.logger.With(zap.String("job_id", job.JobID))
	start := r.clock.Now()

	if marker, ok, err := r.checkpoints.LoadCompletion(ctx); err != nil {
		log.Warn("completion marker unreadable, continuing", zap.Error(err))
	} else if ok {
		log.Info("job already completed, skipping run",
			zap.Time("completed_at", marker.CompletedAt),
			zap.Int("total_products", marker.TotalProducts),
		)
		return Result{
			TotalScraped:        marker.TotalProducts,
			CategoriesProcessed: marker.CategoriesProcessed,
			ShortCircuited:      true,
		}, nil
	}

	creds := &credentials{source: r.source}
	if err := creds.refresh(ctx); err != nil {
		return Result{}, err
	}

	cats, err := NewDiscoverer(r.source, r.cfg.Denylist, log).Discover(ctx, creds.get(), job.CategoriesLimit)
	if err != nil {
		return Result{}, err
	}

	stats := &Counters{}
	seenQuota := newQuota(job.MaxProducts)
	state := &runState{
		cursors:   make(map[string]int),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		totalCats: len(cats),
	}

	checkpointIDs, resumed := r.restore(ctx, log, stats, seenQuota, state)
	storedIDs, err := r.store.LoadIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load stored ids: %w", err)
	}
	seen := NewIDSet(storedIDs, checkpointIDs)

	rate, err := NewRateController(job.Concurrency, job.RequestInterval, r.cfg.ThrottleCooldown)
	if err != nil {
		return Result{}, err
	}
	retryCfg := r.cfg.Retry
	retryCfg.ThrottleCooldown = r.cfg.ThrottleCooldown
	h := &harvester{
		source: r.source,
		creds:  creds,
		rate:   rate,
		retry:  NewRetrier(retryCfg, stats, log),
		seen:   seen,
		store:  r.store,
		quota:  seenQuota,
		sizer: NewPageSizer(job.PageSize, r.cfg.PageFloor, r.cfg.PageCeiling, r.cfg.PageStep,
			r.cfg.AdaptivePageSize),
		stats:           stats,
		clock:           r.clock,
		logger:          log,
		maxEmptyPages:   r.cfg.MaxEmptyPages,
		checkpointEvery: r.cfg.CheckpointEvery,
	}
	h.checkpoint = func(ctx context.Context) error {
		return r.saveCheckpoint(ctx, seen, seenQuota, stats, state)
	}
	h.onPage = func(cat *Category, newItems int) {
		state.setCursor(cat.ID, cat.Cursor)
		state.setCurrent(fmt.Sprintf("harvesting %s (cursor %d)", cat.Name, cat.Cursor))
		r.report(seenQuota, stats, state)
	}

	pending := r.pending(cats, state)
	log.Info("starting harvest",
		zap.Int("categories", len(cats)),
		zap.Int("pending", len(pending)),
		zap.Bool("resumed", resumed),
		zap.Int("concurrency", job.Concurrency),
	)

	var newThisRun int
	var countMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.Concurrency)
	for i := range pending {
		cat := &pending[i]
		g.Go(func() error {
			n, herr := h.harvestCategory(gctx, cat)
			countMu.Lock()
			newThisRun += n
			countMu.Unlock()
			state.setCursor(cat.ID, cat.Cursor)
			if herr != nil {
				if errors.Is(herr, context.Canceled) || errors.Is(herr, context.DeadlineExceeded) {
					return herr
				}
				log.Error("category failed", zap.String("category_id", cat.ID), zap.Error(herr))
				state.finish(cat.ID, true)
				return nil
			}
			state.finish(cat.ID, false)
			r.report(seenQuota, stats, state)
			return nil
		})
	}
	waitErr := g.Wait()

	if cperr := r.saveCheckpoint(context.WithoutCancel(ctx), seen, seenQuota, stats, state); cperr != nil {
		log.Warn("final checkpoint save failed", zap.Error(cperr))
	}
	if waitErr != nil {
		return Result{NewThisRun: newThisRun, TotalScraped: seenQuota.total(), Stats: stats.Snapshot()}, waitErr
	}

	_, _, done, failedCount, _ := state.snapshot()
	duration := r.clock.Now().Sub(start)
	res := Result{
		TotalScraped:        seenQuota.total(),
		NewThisRun:          newThisRun,
		Duration:            duration,
		CategoriesProcessed: done,
		CategoriesFailed:    failedCount,
		Resumed:             resumed,
		Stats:               stats.Snapshot(),
	}
	if duration > 0 {
		res.ProductsPerSecond = float64(newThisRun) / duration.Seconds()
	}
	if failedCount > 0 && failedCount == len(pending) {
		return res, fmt.Errorf("all %d categories failed", failedCount)
	}

	marker := CompletionMarker{
		CompletedAt:         r.clock.Now(),
		TotalProducts:       res.TotalScraped,
		DurationSeconds:     duration.Seconds(),
		ProductsPerSecond:   res.ProductsPerSecond,
		CategoriesProcessed: done,
	}
	if err := r.checkpoints.SaveCompletion(context.WithoutCancel(ctx), marker); err != nil {
		log.Warn("completion marker save failed", zap.Error(err))
	}
	log.Info("harvest complete",
		zap.Int("total_scraped", res.TotalScraped),
		zap.Int("new_this_run", newThisRun),
		zap.Int("categories_failed", failedCount),
		zap.Duration("duration", duration),
	)
	return res, nil
}

// restore loads the previous checkpoint, seeding cursors, the completed set,
// the product budget, and the request counters. It returns the checkpointed
// ids and whether anything was restored.
func (r *Runner) restore(ctx context.Context, log *zap.Logger, stats *Counters, q *quota, state *runState) ([]string, bool) {
	cp, ok, err := r.checkpoints.Load(ctx)
	if err != nil {
		log.Warn("checkpoint unreadable, starting fresh", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	state.mu.Lock()
	for id, cur := range cp.Cursors {
		state.cursors[id] = cur
	}
	for _, id := range cp.CompletedCategories {
		state.completed[id] = struct{}{}
	}
	state.mu.Unlock()
	q.seed(cp.TotalScraped)
	stats.Restore(cp.Stats)
	log.Info("resuming from checkpoint",
		zap.Int("total_scraped", cp.TotalScraped),
		zap.Int("completed_categories", len(cp.CompletedCategories)),
		zap.Time("checkpoint_at", cp.Timestamp),
	)
	return cp.ScrapedIDs, true
}

// pending returns the categories still to harvest, with restored cursors.
func (r *Runner) pending(cats []Category, state *runState) []Category {
	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]Category, 0, len(cats))
	for _, cat := range cats {
		if _, done := state.completed[cat.ID]; done {
			continue
		}
		cat.Cursor = state.cursors[cat.ID]
		out = append(out, cat)
	}
	return out
}

func (r *Runner) saveCheckpoint(ctx context.Context, seen *IDSet, q *quota, stats *Counters, state *runState) error {
	cursors, completed, _, _, _ := state.snapshot()
	cp := Checkpoint{
		ScrapedIDs:          seen.Snapshot(),
		Cursors:             cursors,
		CompletedCategories: completed,
		TotalScraped:        q.total(),
		Stats:               stats.Snapshot(),
		Timestamp:           r.clock.Now(),
	}
	return r.checkpoints.Save(ctx, cp)
}

func (r *Runner) report(q *quota, stats *Counters, state *runState) {
	_, _, done, _, current := state.snapshot()
	p := Progress{
		ProductsScraped:     q.total(),
		CategoriesCompleted: done,
		TotalCategories:     state.totalCats,
		CurrentTask:         current,
		Stats:               stats.Snapshot(),
	}
	if state.totalCats > 0 {
		p.Percent = float64(done) / float64(state.totalCats) * 100
	}
	r.reporter.Report(p)
}
