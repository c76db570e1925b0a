package progress

import (
	"fmt"
	"time"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// Snapshot is a point-in-time view of one job, as delivered to sinks and
// served by the progress endpoint.
type Snapshot struct {
	Scraper             string    `json:"scraper"`
	JobID               string    `json:"job_id"`
	Status              string    `json:"status"`
	Percent             float64   `json:"percent"`
	ProductsScraped     int       `json:"products_scraped"`
	CategoriesCompleted int       `json:"categories_completed"`
	TotalCategories     int       `json:"total_categories"`
	CurrentTask         string    `json:"current_task,omitempty"`
	RequestsSucceeded   int64     `json:"requests_succeeded"`
	RequestsFailed      int64     `json:"requests_failed"`
	RequestsThrottled   int64     `json:"requests_throttled"`
	ProductsPerSecond   float64   `json:"products_per_second"`
	Timestamp           time.Time `json:"timestamp"`
}

// Validate rejects snapshots that would be meaningless to a sink.
func (s Snapshot) Validate() error {
	if s.JobID == "" {
		return fmt.Errorf("snapshot job id is required")
	}
	return nil
}

func fromProgress(scraper, jobID, status string, p harvest.Progress, rate float64, now time.Time) Snapshot {
	return Snapshot{
		Scraper:             scraper,
		JobID:               jobID,
		Status:              status,
		Percent:             p.Percent,
		ProductsScraped:     p.ProductsScraped,
		CategoriesCompleted: p.CategoriesCompleted,
		TotalCategories:     p.TotalCategories,
		CurrentTask:         p.CurrentTask,
		RequestsSucceeded:   p.Stats.Succeeded,
		RequestsFailed:      p.Stats.Failed,
		RequestsThrottled:   p.Stats.Throttled,
		ProductsPerSecond:   rate,
		Timestamp:           now,
	}
}
