// Package app assembles per-job environments from the service configuration:
// product store, checkpoint manager, job log file, and progress tracker.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/checkpoint"
	"github.com/mwolters/catalog-harvester/internal/config"
	"github.com/mwolters/catalog-harvester/internal/harvest"
	"github.com/mwolters/catalog-harvester/internal/logging"
	"github.com/mwolters/catalog-harvester/internal/progress"
	"github.com/mwolters/catalog-harvester/internal/progress/sinks"
	filestore "github.com/mwolters/catalog-harvester/internal/store/file"
	memorystore "github.com/mwolters/catalog-harvester/internal/store/memory"
	postgresstore "github.com/mwolters/catalog-harvester/internal/store/postgres"
	"github.com/mwolters/catalog-harvester/internal/supervisor"
)

// Factory builds job environments backed by the configured storage backend.
// The file backend gives every job its own results, checkpoint, progress,
// and log artifacts under the data directory; the postgres backend shares
// one product table across jobs.
type Factory struct {
	cfg    config.Config
	source harvest.Source
	clock  harvest.Clock
	logger *zap.Logger

	// pgStore is created once and shared when the postgres backend is
	// selected.
	pgStore *postgresstore.Store
}

// NewFactory wires a Factory. With the postgres backend the pool is opened
// eagerly so a bad DSN fails at startup, not at the first job.
func NewFactory(ctx context.Context, cfg config.Config, source harvest.Source, clock harvest.Clock, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{cfg: cfg, source: source, clock: clock, logger: logger}
	if cfg.Storage.Backend == "postgres" {
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.Storage.Postgres.DSN,
			Table:    cfg.Storage.Postgres.Table,
			MaxConns: cfg.Storage.Postgres.MaxConns,
			MinConns: cfg.Storage.Postgres.MinConns,
		})
		if err != nil {
			return nil, err
		}
		f.pgStore = store
	}
	return f, nil
}

// Close releases factory-wide resources.
func (f *Factory) Close() {
	if f.pgStore != nil {
		f.pgStore.Close()
	}
}

// New implements supervisor.EnvironmentFactory.
func (f *Factory) New(jobCfg harvest.JobConfig, reporter harvest.Reporter) (*supervisor.Environment, error) {
	dataDir := f.cfg.Storage.DataDir
	logPath := filepath.Join(dataDir, "logs", jobCfg.JobID+".log")
	jobLogger, closeLog, err := logging.NewJobLogger(f.logger, logPath)
	if err != nil {
		return nil, err
	}

	store, err := f.productStore(jobCfg.JobID, jobLogger)
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	checkpoints, err := checkpoint.New(filepath.Join(dataDir, "jobs"), jobCfg.JobID, jobLogger)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	trackerSinks := []progress.Sink{
		sinks.NewLogSink(jobLogger),
		sinks.NewPrometheusSink(),
	}
	fileSink, err := sinks.NewFileSink(filepath.Join(dataDir, "jobs", jobCfg.JobID+"_progress.json"))
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	trackerSinks = append(trackerSinks, fileSink)
	tracker := progress.NewTracker(progress.Config{
		Scraper:       f.cfg.Source.Name,
		JobID:         jobCfg.JobID,
		FlushInterval: f.cfg.Progress.FlushInterval(),
		Logger:        jobLogger,
	}, f.clock, trackerSinks...)

	runnerCfg := harvest.RunnerConfig{
		MaxEmptyPages:    f.cfg.Harvest.MaxEmptyPages,
		CheckpointEvery:  f.cfg.Harvest.CheckpointEvery,
		ThrottleCooldown: f.cfg.HTTP.Cooldown(),
		Retry: harvest.RetryConfig{
			MaxRetries:       f.cfg.HTTP.MaxRetries,
			BaseDelay:        f.cfg.HTTP.BackoffInitial(),
			MaxDelay:         f.cfg.HTTP.BackoffMax(),
			MaxThrottleWaits: f.cfg.HTTP.MaxThrottleWaits,
		},
		AdaptivePageSize: f.cfg.Harvest.AdaptivePageSize,
		PageFloor:        f.cfg.Harvest.PageSizeFloor,
		PageCeiling:      f.cfg.Harvest.PageSizeCeiling,
		PageStep:         f.cfg.Harvest.PageSizeStep,
		Denylist:         f.cfg.Source.Denylist,
	}
	runner := harvest.NewRunner(f.source, store, checkpoints, f.clock,
		harvest.MultiReporter{tracker, reporter}, jobLogger, runnerCfg)

	return &supervisor.Environment{
		Runner:  runner,
		Store:   store,
		Tracker: tracker,
		LogPath: logPath,
		Close: func() {
			if err := closeLog(); err != nil {
				f.logger.Warn("close job log", zap.String("job_id", jobCfg.JobID), zap.Error(err))
			}
		},
	}, nil
}

func (f *Factory) productStore(jobID string, logger *zap.Logger) (harvest.ProductStore, error) {
	switch f.cfg.Storage.Backend {
	case "file":
		path := filepath.Join(f.cfg.Storage.DataDir, "results", jobID+"_products.json")
		return filestore.New(path, logger)
	case "memory":
		return memorystore.New(), nil
	case "postgres":
		return f.pgStore, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", f.cfg.Storage.Backend)
	}
}
