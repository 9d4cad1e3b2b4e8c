package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/acme/product-pipeline/internal/application"
	"github.com/acme/product-pipeline/internal/domain/capsim"
	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/persistence"
)

// Admitter runs one admission batch.
type Admitter interface {
	Run(ctx context.Context, submissions []application.LeadSubmission, requestedCap int) (*application.BatchResult, error)
}

// StageKExecutor runs one capital simulation.
type StageKExecutor interface {
	Run(ctx context.Context, req application.StageKRequest) (*application.StageKReport, error)
}

// Handlers manages all HTTP endpoint handlers.
type Handlers struct {
	admission Admitter
	stageK    StageKExecutor
	repos     *persistence.Repository
	metrics   *MetricsRegistry
	log       zerolog.Logger
}

// NewHandlers wires the endpoint handlers. Metrics may be nil when the
// caller does not expose a metrics endpoint.
func NewHandlers(admitter Admitter, stageK StageKExecutor, repos *persistence.Repository, metrics *MetricsRegistry, logger zerolog.Logger) *Handlers {
	return &Handlers{
		admission: admitter,
		stageK:    stageK,
		repos:     repos,
		metrics:   metrics,
		log:       logger,
	}
}

// writeJSONBody writes a JSON response with proper error handling.
func writeJSONBody(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSONBody(w, status, data)
}

// writeError writes the standardized error response.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, detail interface{}) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		Detail:    detail,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// NotFound handles 404 responses for unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist", nil)
}

// Triage handles POST /api/leads/triage: one admission batch.
func (h *Handlers) Triage(w http.ResponseWriter, r *http.Request) {
	var req TriageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body",
			"Request body must be valid JSON", nil)
		return
	}
	if len(req.Leads) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "empty_batch",
			"At least one lead is required", nil)
		return
	}

	var timer *StageTimer
	if h.metrics != nil {
		h.metrics.ActiveBatches.Inc()
		h.metrics.TotalBatches.Inc()
		defer h.metrics.ActiveBatches.Dec()
		timer = h.metrics.StartStageTimer("triage")
	}

	result, err := h.admission.Run(r.Context(), req.Leads, req.BatchCap)
	if err != nil {
		if timer != nil {
			timer.Stop("error")
		}
		h.log.Error().Err(err).Int("leads", len(req.Leads)).Msg("admission batch failed")
		h.writeError(w, r, http.StatusInternalServerError, "triage_failed",
			"Admission batch could not be processed", nil)
		return
	}
	if timer != nil {
		timer.Stop("success")
		for _, o := range result.Outcomes {
			if o.Disposition != "" {
				h.metrics.RecordOutcome(string(o.Disposition))
			}
		}
		h.metrics.Promotions.Add(float64(result.PromotedCount))
	}

	h.writeJSON(w, http.StatusOK, result)
}

// StageK handles POST /api/stages/k/run: one capital simulation request.
func (h *Handlers) StageK(w http.ResponseWriter, r *http.Request) {
	var req application.StageKRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body",
			"Request body must be valid JSON", nil)
		return
	}
	if req.CandidateID == "" {
		h.writeError(w, r, http.StatusBadRequest, "missing_candidate_id",
			"candidateId is required", nil)
		return
	}

	var timer *StageTimer
	if h.metrics != nil {
		timer = h.metrics.StartStageTimer("stage_k")
	}

	report, err := h.stageK.Run(r.Context(), req)
	if err != nil {
		if timer != nil {
			timer.Stop("refused")
		}
		h.writeStageKError(w, r, err)
		return
	}
	if timer != nil {
		timer.Stop("success")
	}

	h.writeJSON(w, http.StatusOK, report)
}

// writeStageKError maps stage-run refusals onto HTTP statuses.
func (h *Handlers) writeStageKError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *application.NotFoundError
	var cooldownErr *application.CooldownRefusalError
	var gateErr *application.GateRefusalError
	var missingErr *scenario.MissingPreconditionError
	var invalidErr *capsim.InvalidInputError

	switch {
	case errors.As(err, &notFound):
		h.writeError(w, r, http.StatusNotFound, notFound.Kind+"_not_found", err.Error(), nil)
	case errors.As(err, &cooldownErr):
		h.writeError(w, r, http.StatusConflict, "cooldown_active",
			"A cooldown is active for this candidate's fingerprint", cooldownErr)
	case errors.As(err, &gateErr):
		if h.metrics != nil {
			h.metrics.RecordGateBlock(gateErr.Decision.Code)
		}
		h.writeError(w, r, http.StatusConflict, gateErr.Decision.Code,
			gateErr.Decision.Detail, gateErr.Decision)
	case errors.As(err, &missingErr):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error(),
			"An upstream stage must succeed before the capital simulation can run", nil)
	case errors.As(err, &invalidErr):
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_simulation_input",
			err.Error(), map[string]string{"field": invalidErr.Field, "reason": invalidErr.Reason})
	default:
		h.log.Error().Err(err).Msg("stage K run failed")
		h.writeError(w, r, http.StatusInternalServerError, "stage_run_failed",
			"The stage run could not be completed", nil)
	}
}

// Candidates handles GET /api/candidates with optional filters.
func (h *Handlers) Candidates(w http.ResponseWriter, r *http.Request) {
	filter := persistence.CandidateFilter{
		StageStatus: r.URL.Query().Get("stage_status"),
		Decision:    r.URL.Query().Get("decision"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	candidates, err := h.repos.Candidates.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("candidate listing failed")
		h.writeError(w, r, http.StatusInternalServerError, "listing_failed",
			"Candidates could not be listed", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, CandidatesResponse{
		Candidates: candidates,
		Count:      len(candidates),
		Generated:  time.Now().UTC(),
	})
}

// CandidateByID handles GET /api/candidates/{id}.
func (h *Handlers) CandidateByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	cand, err := h.repos.Candidates.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("candidate", id).Msg("candidate lookup failed")
		h.writeError(w, r, http.StatusInternalServerError, "lookup_failed",
			"Candidate could not be loaded", nil)
		return
	}
	if cand == nil {
		h.writeError(w, r, http.StatusNotFound, "candidate_not_found",
			"No candidate exists with this id", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, cand)
}

// CandidateRuns handles GET /api/candidates/{id}/runs: the stage-run
// history, newest first.
func (h *Handlers) CandidateRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	runs, err := h.repos.StageRuns.ListByCandidate(r.Context(), id, limit)
	if err != nil {
		h.log.Error().Err(err).Str("candidate", id).Msg("run history lookup failed")
		h.writeError(w, r, http.StatusInternalServerError, "lookup_failed",
			"Run history could not be loaded", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, RunsResponse{
		CandidateID: id,
		Runs:        runs,
		Count:       len(runs),
	})
}
