// Package supervisor owns the job lifecycle: admission under a capacity cap,
// background execution, cancellation with a grace period, terminal webhook
// notification, and read access to results, logs, and progress.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
	"github.com/mwolters/catalog-harvester/internal/progress"
	"github.com/mwolters/catalog-harvester/internal/registry"
	"github.com/mwolters/catalog-harvester/internal/telemetry"
)

// ErrNotCompleted reports a results request for a job that has not finished
// successfully.
var ErrNotCompleted = errors.New("job is not completed")

const (
	defaultGracePeriod   = 5 * time.Second
	defaultNotifyTimeout = 10 * time.Second
	summaryPageSize      = 500
)

// Environment bundles the per-job resources built by the factory: the
// runner, the job's product store, its progress tracker, and the path of its
// log file. Close releases whatever the factory allocated.
type Environment struct {
	Runner  *harvest.Runner
	Store   harvest.ProductStore
	Tracker *progress.Tracker
	LogPath string
	Close   func()
}

// EnvironmentFactory builds one Environment per accepted job. The reporter
// must receive every progress update the job's runner emits.
type EnvironmentFactory interface {
	New(cfg harvest.JobConfig, reporter harvest.Reporter) (*Environment, error)
}

// Config tunes the Supervisor.
type Config struct {
	// Scraper names the source in job ids and notifications.
	Scraper string
	// MaxConcurrentJobs caps queued plus running jobs.
	MaxConcurrentJobs int
	// GracePeriod bounds how long Cancel waits for a job to stop before
	// abandoning it.
	GracePeriod time.Duration
}

// Supervisor runs accepted jobs in background goroutines and tracks them
// through the registry.
type Supervisor struct {
	cfg      Config
	registry *registry.Registry
	factory  EnvironmentFactory
	notifier harvest.Notifier
	clock    harvest.Clock
	ids      harvest.IDGenerator
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	env    *Environment
}

// New wires a Supervisor.
func New(cfg Config, reg *registry.Registry, factory EnvironmentFactory, notifier harvest.Notifier, clock harvest.Clock, ids harvest.IDGenerator, logger *zap.Logger) *Supervisor {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 3
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		registry: reg,
		factory:  factory,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		handles:  make(map[string]*handle),
	}
}

// CreateJob validates and admits a job, rejecting with CapacityError when
// the concurrent-job cap is reached, then starts it in the background.
func (s *Supervisor) CreateJob(cfg harvest.JobConfig) (harvest.Job, error) {
	if err := cfg.Validate(); err != nil {
		return harvest.Job{}, fmt.Errorf("invalid job config: %w", err)
	}
	if cfg.JobID == "" {
		id, err := s.newJobID()
		if err != nil {
			return harvest.Job{}, err
		}
		cfg.JobID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.CountActive() >= s.cfg.MaxConcurrentJobs {
		return harvest.Job{}, &harvest.CapacityError{Limit: s.cfg.MaxConcurrentJobs}
	}
	env, err := s.factory.New(cfg, s.progressReporter(cfg.JobID))
	if err != nil {
		return harvest.Job{}, fmt.Errorf("prepare job environment: %w", err)
	}
	job, err := s.registry.Create(cfg)
	if err != nil {
		if env.Close != nil {
			env.Close()
		}
		return harvest.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{}), env: env}
	s.handles[cfg.JobID] = h
	telemetry.IncActiveJobs()
	go s.run(ctx, cfg, env, h)

	s.logger.Info("job accepted",
		zap.String("job_id", cfg.JobID),
		zap.Int("active_jobs", s.registry.CountActive()),
	)
	return job, nil
}

// progressReporter mirrors runner progress into the registry so a status
// read sees live numbers while the job runs.
func (s *Supervisor) progressReporter(jobID string) harvest.Reporter {
	return harvest.ReporterFunc(func(p harvest.Progress) {
		if err := s.registry.SetProgress(jobID, p); err != nil {
			s.logger.Debug("record job progress", zap.String("job_id", jobID), zap.Error(err))
		}
	})
}

func (s *Supervisor) run(ctx context.Context, cfg harvest.JobConfig, env *Environment, h *handle) {
	defer close(h.done)
	defer telemetry.DecActiveJobs()
	log := s.logger.With(zap.String("job_id", cfg.JobID))

	if _, err := s.registry.SetStatus(cfg.JobID, harvest.StatusRunning, ""); err != nil {
		// Cancelled before it ever started.
		log.Info("job not started", zap.Error(err))
		s.finish(cfg, env, harvest.Result{}, context.Canceled)
		return
	}
	if env.Tracker != nil {
		env.Tracker.SetStatus(harvest.StatusRunning)
	}

	res, runErr := env.Runner.Run(ctx, cfg)
	s.finish(cfg, env, res, runErr)
}

// finish records the terminal state, closes the tracker, and fires the
// webhook. Failures past this point are logged, never fatal.
func (s *Supervisor) finish(cfg harvest.JobConfig, env *Environment, res harvest.Result, runErr error) {
	log := s.logger.With(zap.String("job_id", cfg.JobID))
	status := harvest.StatusCompleted
	errText := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = harvest.StatusCancelled
	default:
		status = harvest.StatusFailed
		errText = runErr.Error()
	}

	if _, err := s.registry.SetStatus(cfg.JobID, status, errText); err != nil {
		if errors.Is(err, registry.ErrTerminal) {
			// Cancel already recorded the terminal state; notify with its
			// verdict, not ours.
			if job, gerr := s.registry.Get(cfg.JobID); gerr == nil {
				status = job.Status
			}
		} else {
			log.Warn("record terminal status", zap.Error(err))
		}
	}
	if res.TotalScraped > 0 {
		if err := s.registry.SetTotal(cfg.JobID, res.TotalScraped); err != nil {
			log.Warn("record job total", zap.Error(err))
		}
	}
	telemetry.ObserveJob(string(status))

	if env.Tracker != nil {
		env.Tracker.SetStatus(status)
		closeCtx, cancel := context.WithTimeout(context.Background(), defaultNotifyTimeout)
		if err := env.Tracker.Close(closeCtx); err != nil {
			log.Warn("close progress tracker", zap.Error(err))
		}
		cancel()
	}
	if env.Close != nil {
		env.Close()
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), defaultNotifyTimeout)
	defer cancel()
	err := s.notifier.Notify(notifyCtx, harvest.Notification{
		JobID:           cfg.JobID,
		Status:          status,
		Scraper:         s.cfg.Scraper,
		WebhookURL:      cfg.WebhookURL,
		CompletedAt:     s.clock.Now(),
		DurationSeconds: res.Duration.Seconds(),
		ProductsScraped: res.TotalScraped,
	})
	if err != nil {
		log.Warn("webhook notification failed", zap.Error(err))
	}
	log.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("total_scraped", res.TotalScraped),
		zap.Int("categories_failed", res.CategoriesFailed),
	)
}

// Cancel requests cancellation and waits up to the grace period for the job
// goroutine to stop. Terminal jobs return registry.ErrTerminal.
func (s *Supervisor) Cancel(ctx context.Context, jobID string) (harvest.Job, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return harvest.Job{}, err
	}
	if job.Status.Terminal() {
		return harvest.Job{}, registry.ErrTerminal
	}
	s.mu.Lock()
	h := s.handles[jobID]
	s.mu.Unlock()
	if h == nil {
		return s.registry.SetStatus(jobID, harvest.StatusCancelled, "")
	}
	h.cancel()

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-ctx.Done():
		return harvest.Job{}, ctx.Err()
	case <-timer.C:
		s.logger.Warn("grace period elapsed, abandoning job goroutine",
			zap.String("job_id", jobID),
			zap.Duration("grace_period", s.cfg.GracePeriod),
		)
		if job, err := s.registry.SetStatus(jobID, harvest.StatusCancelled, "cancelled after grace period"); err == nil {
			return job, nil
		}
	}
	return s.registry.Get(jobID)
}

// Status returns the registry view of one job.
func (s *Supervisor) Status(jobID string) (harvest.Job, error) {
	return s.registry.Get(jobID)
}

// List returns jobs newest first, optionally filtered by status.
func (s *Supervisor) List(status harvest.JobStatus, limit int) []harvest.Job {
	return s.registry.List(status, limit)
}

func (s *Supervisor) environment(jobID string) (*Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return h.env, nil
}

func (s *Supervisor) newJobID() (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return fmt.Sprintf("%s_scrape_%s_%d", s.cfg.Scraper, compact, s.clock.Now().Unix()), nil
}
