package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-batch-pipeline/internal/api/middleware"
	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
)

// MaxBackfillDays bounds the number of partitions one backfill request may
// enqueue.
const MaxBackfillDays = 366

// RunsHandler enqueues partition runs.
type RunsHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		publisher: publisher,
		log:       log,
	}
}

// EnqueueRun handles POST /api/runs
func (h *RunsHandler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	date, err := civil.ParseDate(req.Date)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	job := &jobs.PartitionJob{ProcessingDate: date, Trigger: jobs.TriggerAPI}
	if err := h.publisher.PublishPartition(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("processing_date", date.String()).Msg("Failed to enqueue run")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue run")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("processing_date", date.String()).
		Msg("Run enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":          job.JobID,
		"processing_date": date,
		"status":          job.Status,
	})
}

// EnqueueBackfill handles POST /api/backfills. Both ends of the range are
// inclusive.
func (h *RunsHandler) EnqueueBackfill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]string, 0, to.DaysSince(from)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		job := &jobs.PartitionJob{ProcessingDate: d, Trigger: jobs.TriggerBackfill}
		if err := h.publisher.PublishPartition(r.Context(), job); err != nil {
			h.log.Error().Err(err).Str("processing_date", d.String()).Msg("Failed to enqueue backfill run")
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":   "Failed to enqueue backfill",
				"job_ids": ids,
			})
			return
		}
		ids = append(ids, job.JobID)
	}

	h.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Int("jobs", len(ids)).
		Msg("Backfill enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_ids": ids,
		"count":   len(ids),
	})
}

func parseRange(fromStr, toStr string) (civil.Date, civil.Date, error) {
	from, err := civil.ParseDate(fromStr)
	if err != nil {
		return civil.Date{}, civil.Date{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := civil.ParseDate(toStr)
	if err != nil {
		return civil.Date{}, civil.Date{}, errors.New("to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return civil.Date{}, civil.Date{}, errors.New("to is before from")
	}
	if n := to.DaysSince(from) + 1; n > MaxBackfillDays {
		return civil.Date{}, civil.Date{}, fmt.Errorf("range of %d days exceeds %d", n, MaxBackfillDays)
	}
	return from, to, nil
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if dateStr := query.Get("date"); dateStr != "" {
		date, err := civil.ParseDate(dateStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		filter.ProcessingDate = date
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
