package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mwolters/catalog-harvester/internal/harvest"
	"github.com/mwolters/catalog-harvester/internal/progress"
)

// ResultsPage is a slice of a completed job's products.
type ResultsPage struct {
	JobID    string            `json:"job_id"`
	Total    int               `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
	Products []harvest.Product `json:"products"`
}

// ResultsSummary aggregates a completed job's products per category.
type ResultsSummary struct {
	JobID         string         `json:"job_id"`
	TotalProducts int            `json:"total_products"`
	Categories    map[string]int `json:"categories"`
}

// LogTail is the last portion of a job's log file.
type LogTail struct {
	JobID     string   `json:"job_id"`
	Lines     []string `json:"lines"`
	LineCount int      `json:"line_count"`
	SizeBytes int64    `json:"size_bytes"`
}

// Results returns a page of a completed job's products. Jobs that are not
// completed return ErrNotCompleted.
func (s *Supervisor) Results(ctx context.Context, jobID string, offset, limit int) (ResultsPage, error) {
	env, err := s.completedEnv(jobID)
	if err != nil {
		return ResultsPage{}, err
	}
	total, err := env.Store.Count(ctx)
	if err != nil {
		return ResultsPage{}, fmt.Errorf("count results: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}
	products, err := env.Store.Read(ctx, offset, limit)
	if err != nil {
		return ResultsPage{}, fmt.Errorf("read results: %w", err)
	}
	return ResultsPage{
		JobID:    jobID,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
		Products: products,
	}, nil
}

// Summary aggregates per-category counts over the whole result set.
func (s *Supervisor) Summary(ctx context.Context, jobID string) (ResultsSummary, error) {
	env, err := s.completedEnv(jobID)
	if err != nil {
		return ResultsSummary{}, err
	}
	summary := ResultsSummary{JobID: jobID, Categories: make(map[string]int)}
	for offset := 0; ; offset += summaryPageSize {
		page, err := env.Store.Read(ctx, offset, summaryPageSize)
		if err != nil {
			return ResultsSummary{}, fmt.Errorf("read results: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			summary.Categories[p.CategoryID]++
			summary.TotalProducts++
		}
		if len(page) < summaryPageSize {
			break
		}
	}
	return summary, nil
}

// Logs returns the last lines of a job's log file.
func (s *Supervisor) Logs(jobID string, lines int) (LogTail, error) {
	if _, err := s.registry.Get(jobID); err != nil {
		return LogTail{}, err
	}
	env, err := s.environment(jobID)
	if err != nil {
		return LogTail{}, err
	}
	if lines <= 0 {
		lines = 50
	}
	tail := LogTail{JobID: jobID}
	if env.LogPath == "" {
		return tail, nil
	}
	data, err := os.ReadFile(env.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return tail, nil
		}
		return LogTail{}, fmt.Errorf("read job log: %w", err)
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) == 1 && all[0] == "" {
		all = nil
	}
	tail.LineCount = len(all)
	tail.SizeBytes = int64(len(data))
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	tail.Lines = all
	return tail, nil
}

// ServiceStats is the service-level view served by the stats endpoint.
type ServiceStats struct {
	Scraper           string         `json:"scraper"`
	ActiveJobs        int            `json:"active_jobs"`
	MaxConcurrentJobs int            `json:"max_concurrent_jobs"`
	TotalJobs         int            `json:"total_jobs"`
	JobsByStatus      map[string]int `json:"jobs_by_status"`
	ProductsScraped   int            `json:"products_scraped"`
}

// Stats aggregates job counts and product totals across every job the
// service has accepted.
func (s *Supervisor) Stats() ServiceStats {
	jobs := s.registry.List("", 0)
	stats := ServiceStats{
		Scraper:           s.cfg.Scraper,
		MaxConcurrentJobs: s.cfg.MaxConcurrentJobs,
		TotalJobs:         len(jobs),
		JobsByStatus:      make(map[string]int),
	}
	for _, job := range jobs {
		stats.JobsByStatus[string(job.Status)]++
		if !job.Status.Terminal() {
			stats.ActiveJobs++
		}
		stats.ProductsScraped += job.TotalScraped
	}
	return stats
}

// ProgressView is what the progress endpoint serves: the latest snapshot of
// the most recent running job, or an idle marker.
type ProgressView struct {
	Active   bool               `json:"active"`
	Message  string             `json:"message,omitempty"`
	Snapshot *progress.Snapshot `json:"snapshot,omitempty"`
}

// ProgressSummary reports the most recently started running job, falling
// back to an idle view when nothing is running.
func (s *Supervisor) ProgressSummary() ProgressView {
	running := s.registry.List(harvest.StatusRunning, 1)
	if len(running) == 0 {
		return ProgressView{Active: false, Message: "no job is currently running"}
	}
	env, err := s.environment(running[0].ID)
	if err != nil || env.Tracker == nil {
		return ProgressView{Active: false, Message: "no job is currently running"}
	}
	snap := env.Tracker.Snapshot()
	return ProgressView{Active: true, Snapshot: &snap}
}

func (s *Supervisor) completedEnv(jobID string) (*Environment, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != harvest.StatusCompleted {
		return nil, ErrNotCompleted
	}
	return s.environment(jobID)
}
