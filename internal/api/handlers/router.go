package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-batch-pipeline/internal/api/middleware"
	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Publisher  jobs.Publisher
	JobStore   jobs.JobStore
	Results    pipeline.AggregateReader
	Metrics    http.Handler
	APIKey     string
	MinQuality float64
	Log        zerolog.Logger
}

// NewRouter mounts every endpoint. /health and /metrics are not behind
// the API key.
func NewRouter(cfg RouterConfig) http.Handler {
	runs := NewRunsHandler(cfg.Publisher, cfg.Log)
	jobsHandler := NewJobsHandler(cfg.JobStore, cfg.Log)
	results := NewResultsHandler(cfg.Results, cfg.MinQuality, cfg.Log)

	mux := chi.NewRouter()
	mux.Use(
		middleware.RequestID,
		middleware.Recovery(cfg.Log),
		middleware.Logger(cfg.Log),
		middleware.CORS(),
	)

	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if cfg.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	mux.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey))

		r.Post("/runs", runs.EnqueueRun)
		r.Post("/backfills", runs.EnqueueBackfill)
		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{id}", jobsHandler.GetJob)
		r.Get("/aggregates", results.ListAggregates)
		r.Get("/anomalies", results.ListAnomalies)
		r.Get("/verify", results.Verify)
	})

	return mux
}
