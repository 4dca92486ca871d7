package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-batch-pipeline/internal/api/middleware"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// ResultsHandler serves persisted aggregates and anomalies.
type ResultsHandler struct {
	reader     pipeline.AggregateReader
	minQuality float64
	log        zerolog.Logger
}

// NewResultsHandler creates a new results handler. minQuality is the
// average score below which /api/verify reports a warning.
func NewResultsHandler(reader pipeline.AggregateReader, minQuality float64, log zerolog.Logger) *ResultsHandler {
	return &ResultsHandler{
		reader:     reader,
		minQuality: minQuality,
		log:        log,
	}
}

// ListAggregates handles GET /api/aggregates?date=YYYY-MM-DD
func (h *ResultsHandler) ListAggregates(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	rows, err := h.reader.ReadAggregates(r.Context(), date)
	if err != nil {
		h.log.Error().Err(err).Str("processing_date", date.String()).Msg("Failed to read aggregates")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read aggregates")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"aggregates": rows,
		"count":      len(rows),
	})
}

// ListAnomalies handles GET /api/anomalies?date=YYYY-MM-DD
func (h *ResultsHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	anomalies, err := h.reader.ReadAnomalies(r.Context(), date)
	if err != nil {
		h.log.Error().Err(err).Str("processing_date", date.String()).Msg("Failed to read anomalies")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read anomalies")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// Verify handles GET /api/verify?date=YYYY-MM-DD[&min_quality=80]
func (h *ResultsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	minQuality := h.minQuality
	if s := r.URL.Query().Get("min_quality"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "min_quality must be a number")
			return
		}
		minQuality = v
	}

	res, err := pipeline.VerifyLoad(r.Context(), h.reader, date, minQuality)
	if errors.Is(err, pipeline.ErrNoAggregates) {
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("processing_date", date.String()).Msg("Verification failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Verification failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, res)
}

func dateParam(w http.ResponseWriter, r *http.Request) (civil.Date, bool) {
	date, err := civil.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "date query parameter must be YYYY-MM-DD")
		return civil.Date{}, false
	}
	return date, true
}
