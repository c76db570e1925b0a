package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesHarvesterMetrics(t *testing.T) {
	AddProducts("101", 5)
	ObserveFetch(120*time.Millisecond, true)
	ObserveFetch(80*time.Millisecond, false)
	ObserveJob("completed")
	SetProgress("job-1", 42.5)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, metric := range []string{
		"harvester_products_total",
		"harvester_fetches_total",
		"harvester_fetch_duration_seconds",
		"harvester_jobs_total",
		"harvester_active_jobs",
		"harvester_progress_percent",
	} {
		require.Contains(t, body, metric)
	}
	require.Contains(t, body, `harvester_progress_percent{job_id="job-1"} 42.5`)
}

func TestMiddleware_RecordsRequestMetrics(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	metrics := httptest.NewRecorder()
	Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metrics.Body.String()
	require.Contains(t, body, `http_requests_total{code="418",method="GET"}`)
	require.True(t, strings.Contains(body, `route="/jobs/{job_id}"`))
}
