package sinks

import (
	"context"
	"sync"

	"github.com/mwolters/catalog-harvester/internal/progress"
	"github.com/mwolters/catalog-harvester/internal/telemetry"
)

// PrometheusSink mirrors progress snapshots into the service's Prometheus
// gauges.
type PrometheusSink struct {
	mu    sync.Mutex
	jobID string
}

// NewPrometheusSink constructs the sink.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Flush updates the progress gauge for the snapshot's job.
func (s *PrometheusSink) Flush(_ context.Context, snap progress.Snapshot) error {
	s.mu.Lock()
	s.jobID = snap.JobID
	s.mu.Unlock()
	telemetry.SetProgress(snap.JobID, snap.Percent)
	return nil
}

// Close drops the job's progress series.
func (s *PrometheusSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobID != "" {
		telemetry.ClearProgress(s.jobID)
	}
	return nil
}
