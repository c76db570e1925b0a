package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/progress"
)

// LogSink emits structured logs for progress snapshots. Useful during
// development or wherever a durable progress file is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Flush logs the snapshot using structured fields.
func (s *LogSink) Flush(_ context.Context, snap progress.Snapshot) error {
	s.logger.Info("harvest progress",
		zap.String("job_id", snap.JobID),
		zap.String("status", snap.Status),
		zap.Float64("percent", snap.Percent),
		zap.Int("products_scraped", snap.ProductsScraped),
		zap.Int("categories_completed", snap.CategoriesCompleted),
		zap.Int("total_categories", snap.TotalCategories),
		zap.String("current_task", snap.CurrentTask),
		zap.Int64("requests_succeeded", snap.RequestsSucceeded),
		zap.Int64("requests_failed", snap.RequestsFailed),
		zap.Int64("requests_throttled", snap.RequestsThrottled),
		zap.Float64("products_per_second", snap.ProductsPerSecond),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
