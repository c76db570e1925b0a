package harvest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"
)

// JobStatus is the lifecycle state of a harvest job. Transitions are
// monotonic: queued -> running -> one of the terminal states.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed || next == StatusCancelled
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// JobConfig is the caller-supplied configuration for a single harvest job.
// Nil pointer fields mean "unlimited".
type JobConfig struct {
	JobID           string        `json:"job_id"`
	MaxProducts     *int          `json:"max_products,omitempty"`
	CategoriesLimit *int          `json:"categories_limit,omitempty"`
	Concurrency     int           `json:"concurrency"`
	PageSize        int           `json:"page_size"`
	RequestInterval time.Duration `json:"request_interval"`
	WebhookURL      string        `json:"webhook_url,omitempty"`
}

// Validate checks the config for values that can never produce a valid run.
func (c JobConfig) Validate() error {
	if c.MaxProducts != nil && *c.MaxProducts < 0 {
		return fmt.Errorf("max_products must be non-negative, got %d", *c.MaxProducts)
	}
	if c.CategoriesLimit != nil && *c.CategoriesLimit < 0 {
		return fmt.Errorf("categories_limit must be non-negative, got %d", *c.CategoriesLimit)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.RequestInterval < 0 {
		return fmt.Errorf("request_interval must be non-negative")
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webhook_url %q is not a valid absolute URL", c.WebhookURL)
		}
	}
	return nil
}

// Job is the registry view of a harvest job.
type Job struct {
	ID           string     `json:"job_id"`
	Status       JobStatus  `json:"status"`
	Config       JobConfig  `json:"config"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	TotalScraped int        `json:"total_scraped"`
	Progress     Progress   `json:"progress"`
}

// Progress is a point-in-time view of a running job. Percent is a
// display-only estimate derived from completed categories.
type Progress struct {
	Percent             float64      `json:"percent"`
	ProductsScraped     int          `json:"products_scraped"`
	CategoriesCompleted int          `json:"categories_completed"`
	TotalCategories     int          `json:"total_categories"`
	CurrentTask         string       `json:"current_task,omitempty"`
	Stats               RequestStats `json:"request_stats"`
}

// Category is a harvestable slice of the catalog. Cursor is an item offset
// into the category listing; Total is the source-reported item count when
// known (zero means unknown).
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Cursor    int    `json:"cursor"`
	Total     int    `json:"total,omitempty"`
	Completed bool   `json:"completed"`
}

// Item is one raw catalog entry as returned by a source page.
type Item struct {
	ID      string
	Payload json.RawMessage
}

// Product is a deduplicated, persisted catalog entry. The payload is opaque
// to the engine.
type Product struct {
	ExternalID string          `json:"external_id"`
	CategoryID string          `json:"category_id"`
	Payload    json.RawMessage `json:"payload"`
	ScrapedAt  time.Time       `json:"scraped_at"`
}

// Page is one fetched slice of a category listing. Total carries the
// source-reported item count for the category when the source exposes one.
type Page struct {
	Items []Item
	Total int
}

// RequestStats is a snapshot of request outcome counters for a job.
// Throttled requests are tracked separately and never count as failures.
type RequestStats struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Throttled int64 `json:"throttled"`
}

// Counters accumulates request outcomes across goroutines.
type Counters struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	throttled atomic.Int64
}

func (c *Counters) Success()  { c.succeeded.Add(1) }
func (c *Counters) Failure()  { c.failed.Add(1) }
func (c *Counters) Throttle() { c.throttled.Add(1) }

// Restore seeds the counters from a previous run's snapshot.
func (c *Counters) Restore(s RequestStats) {
	c.succeeded.Store(s.Succeeded)
	c.failed.Store(s.Failed)
	c.throttled.Store(s.Throttled)
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() RequestStats {
	return RequestStats{
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Throttled: c.throttled.Load(),
	}
}

// SuccessRate returns succeeded/(succeeded+failed), or 1.0 before any
// request has completed. Throttled requests are excluded.
func (c *Counters) SuccessRate() float64 {
	ok := c.succeeded.Load()
	bad := c.failed.Load()
	if ok+bad == 0 {
		return 1.0
	}
	return float64(ok) / float64(ok+bad)
}

// Checkpoint is the resumable state of a job, persisted between runs.
type Checkpoint struct {
	ScrapedIDs          []string       `json:"scraped_ids"`
	Cursors             map[string]int `json:"category_cursors"`
	CompletedCategories []string       `json:"completed_categories"`
	TotalScraped        int            `json:"total_scraped"`
	Stats               RequestStats   `json:"request_stats"`
	Timestamp           time.Time      `json:"timestamp"`
}

// CompletionMarker records that a job finished successfully. Its presence
// short-circuits any later run of the same job.
type CompletionMarker struct {
	CompletedAt         time.Time `json:"completed_at"`
	TotalProducts       int       `json:"total_products"`
	DurationSeconds     float64   `json:"duration_seconds"`
	ProductsPerSecond   float64   `json:"products_per_second"`
	CategoriesProcessed int       `json:"categories_processed"`
}

// Notification is the payload delivered to a job's webhook on terminal
// transition.
type Notification struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	Scraper         string    `json:"scraper"`
	WebhookURL      string    `json:"-"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ProductsScraped int       `json:"products_scraped"`
}
