// Package registry keeps the in-process view of every job the service has
// accepted. It is the single authority on status transitions: terminal jobs
// are immutable, and a job can only move forward through its lifecycle.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

var (
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal reports an attempt to change a finished job.
	ErrTerminal = errors.New("job already in a terminal state")
)

// Registry is a lock-guarded in-memory job table.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]harvest.Job
	clock harvest.Clock
}

// New constructs an empty Registry.
func New(clock harvest.Clock) *Registry {
	return &Registry{jobs: make(map[string]harvest.Job), clock: clock}
}

// Create records a new job in queued status.
func (r *Registry) Create(cfg harvest.JobConfig) (harvest.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[cfg.JobID]; exists {
		return harvest.Job{}, fmt.Errorf("job %s already exists", cfg.JobID)
	}
	job := harvest.Job{
		ID:        cfg.JobID,
		Status:    harvest.StatusQueued,
		Config:    cfg,
		CreatedAt: r.clock.Now(),
	}
	r.jobs[cfg.JobID] = job
	return job, nil
}

// Get fetches a job by id.
func (r *Registry) Get(id string) (harvest.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return harvest.Job{}, ErrNotFound
	}
	return job, nil
}

// SetStatus transitions a job. Illegal transitions return ErrTerminal for
// finished jobs and a descriptive error otherwise.
func (r *Registry) SetStatus(id string, status harvest.JobStatus, errText string) (harvest.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return harvest.Job{}, ErrNotFound
	}
	if job.Status.Terminal() {
		return harvest.Job{}, ErrTerminal
	}
	if !job.Status.CanTransition(status) {
		return harvest.Job{}, fmt.Errorf("cannot transition job %s from %s to %s", id, job.Status, status)
	}
	now := r.clock.Now()
	job.Status = status
	job.Error = errText
	if status == harvest.StatusRunning && job.StartedAt == nil {
		job.StartedAt = ptr(now)
	}
	if status.Terminal() {
		job.CompletedAt = ptr(now)
	}
	r.jobs[id] = job
	return job, nil
}

// SetProgress updates the live progress view of a job. Terminal jobs keep
// their final snapshot.
func (r *Registry) SetProgress(id string, p harvest.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Progress = p
	job.TotalScraped = p.ProductsScraped
	r.jobs[id] = job
	return nil
}

// SetTotal records the final product count of a finished run.
func (r *Registry) SetTotal(id string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.TotalScraped = total
	job.Progress.ProductsScraped = total
	r.jobs[id] = job
	return nil
}

// List returns jobs newest first, optionally filtered by status, truncated
// to limit when positive.
func (r *Registry) List(status harvest.JobStatus, limit int) []harvest.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]harvest.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CountActive returns the number of queued or running jobs.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, job := range r.jobs {
		if !job.Status.Terminal() {
			n++
		}
	}
	return n
}

func ptr(t time.Time) *time.Time {
	ts := t
	return &ts
}
