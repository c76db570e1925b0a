// Package telemetry exposes Prometheus collectors for the harvester service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterProductsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_products_total",
			Help: "Total number of new products persisted, labeled by category.",
		},
		[]string{"category"},
	)

	harvesterFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetches_total",
			Help: "Total number of page fetch attempts, labeled by result.",
		},
		[]string{"result"},
	)

	harvesterFetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	harvesterJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_jobs_total",
			Help: "Total number of jobs finished, labeled by terminal status.",
		},
		[]string{"status"},
	)

	harvesterActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_jobs",
			Help: "Number of jobs currently queued or running.",
		},
	)

	harvesterProgressPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_progress_percent",
			Help: "Estimated completion percentage of a running job.",
		},
		[]string{"job_id"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// AddProducts records newly persisted products for a category.
func AddProducts(category string, count int) {
	if count > 0 {
		harvesterProductsTotal.WithLabelValues(category).Add(float64(count))
	}
}

// ObserveFetch records one page fetch attempt.
func ObserveFetch(duration time.Duration, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	harvesterFetchesTotal.WithLabelValues(result).Inc()
	harvesterFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveJob records a job reaching a terminal status.
func ObserveJob(status string) {
	harvesterJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	harvesterActiveJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	harvesterActiveJobs.Dec()
}

// SetProgress records a job's estimated completion percentage.
func SetProgress(jobID string, percent float64) {
	harvesterProgressPercent.WithLabelValues(jobID).Set(percent)
}

// ClearProgress drops a finished job's progress series so the gauge does not
// grow one label set per job over the life of the service.
func ClearProgress(jobID string) {
	harvesterProgressPercent.DeleteLabelValues(jobID)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
