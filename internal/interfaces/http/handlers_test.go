package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/product-pipeline/internal/application"
	"github.com/acme/product-pipeline/internal/domain/capsim"
	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/domain/stage"
	"github.com/acme/product-pipeline/internal/domain/stagegate"
	"github.com/acme/product-pipeline/internal/infrastructure/cache"
	"github.com/acme/product-pipeline/internal/persistence"
)

type stubAdmitter struct {
	result *application.BatchResult
	err    error
	gotCap int
}

func (s *stubAdmitter) Run(_ context.Context, _ []application.LeadSubmission, requestedCap int) (*application.BatchResult, error) {
	s.gotCap = requestedCap
	return s.result, s.err
}

type stubStageK struct {
	report *application.StageKReport
	err    error
	gotReq application.StageKRequest
}

func (s *stubStageK) Run(_ context.Context, req application.StageKRequest) (*application.StageKReport, error) {
	s.gotReq = req
	return s.report, s.err
}

type fakeCandidates struct {
	byID      map[string]*lead.Candidate
	listed    []lead.Candidate
	gotFilter persistence.CandidateFilter
}

func (f *fakeCandidates) Insert(context.Context, *lead.Candidate) error { return nil }

func (f *fakeCandidates) GetByID(_ context.Context, id string) (*lead.Candidate, error) {
	return f.byID[id], nil
}

func (f *fakeCandidates) List(_ context.Context, filter persistence.CandidateFilter) ([]lead.Candidate, error) {
	f.gotFilter = filter
	return f.listed, nil
}

func (f *fakeCandidates) UpdateStageStatus(context.Context, string, string) error { return nil }
func (f *fakeCandidates) SetDecision(context.Context, string, string, string) error {
	return nil
}
func (f *fakeCandidates) CountPromotedSince(context.Context, time.Time) (int, error) { return 0, nil }
func (f *fakeCandidates) FingerprintsExist(context.Context, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

type fakeRuns struct {
	runs []stage.Run
}

func (f *fakeRuns) Insert(context.Context, *stage.Run) error { return nil }
func (f *fakeRuns) TryClaim(context.Context, string, stage.RunStatus) (*stage.Run, error) {
	return nil, nil
}
func (f *fakeRuns) Finish(context.Context, string, stage.RunStatus, []byte, []byte) error {
	return nil
}
func (f *fakeRuns) LatestSucceeded(context.Context, string, stage.Letter) (*stage.Run, error) {
	return nil, nil
}
func (f *fakeRuns) ListByCandidate(_ context.Context, _ string, limit int) ([]stage.Run, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type testServer struct {
	router   *mux.Router
	admitter *stubAdmitter
	stageK   *stubStageK
	cands    *fakeCandidates
	runs     *fakeRuns
	metrics  *MetricsRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		admitter: &stubAdmitter{},
		stageK:   &stubStageK{},
		cands:    &fakeCandidates{byID: make(map[string]*lead.Candidate)},
		runs:     &fakeRuns{},
		metrics:  NewMetricsRegistry(),
	}

	repos := &persistence.Repository{
		Candidates: ts.cands,
		StageRuns:  ts.runs,
	}
	handlers := NewHandlers(ts.admitter, ts.stageK, repos, ts.metrics, zerolog.Nop())

	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		health:   NewHealthHandler(nil, cache.NewMemoryCache(), "test"),
		metrics:  ts.metrics,
		log:      zerolog.Nop(),
	}
	s.setupRoutes()
	ts.router = s.router

	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestTriageEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.admitter.result = &application.BatchResult{
		Outcomes: []application.LeadOutcome{
			{LeadID: "lead-1", Disposition: "promoted", CandidateID: "cand-1"},
			{LeadID: "lead-2", Disposition: "rejected"},
		},
		PromotedCount:  1,
		QuotaRemaining: 9,
	}

	rec := ts.do(t, "POST", "/api/leads/triage", TriageRequest{
		Leads: []application.LeadSubmission{
			{Source: "supplier_catalog", Title: "Collapsible Storage Crate", URL: "https://supplier.example/crate", Price: "4599"},
			{Source: "mystery", Title: "gadget", URL: "https://example.com/g", Price: "99000"},
		},
		BatchCap: 5,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, ts.admitter.gotCap)

	var result application.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.PromotedCount)
	assert.Len(t, result.Outcomes, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.Promotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.TriageOutcomes.WithLabelValues("promoted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.TriageOutcomes.WithLabelValues("rejected")))
}

func TestTriageEmptyBatch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/leads/triage", TriageRequest{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_batch", decodeError(t, rec).Code)
}

func TestTriageInvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/leads/triage", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decodeError(t, rec).Code)
}

func TestStageKSuccess(t *testing.T) {
	ts := newTestServer(t)
	ts.stageK.report = &application.StageKReport{
		RunID:         "run-1",
		EngineVersion: "stage-k:v1",
		InputHash:     "abc123",
		ReturnBand:    "healthy",
	}

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{CandidateID: "cand-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cand-1", ts.stageK.gotReq.CandidateID)

	var report application.StageKReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "stage-k:v1", report.EngineVersion)
}

func TestStageKMissingCandidateID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_candidate_id", decodeError(t, rec).Code)
}

func TestStageKNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.stageK.err = &application.NotFoundError{Kind: "candidate", ID: "ghost"}

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{CandidateID: "ghost"})

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "candidate_not_found", decodeError(t, rec).Code)
}

func TestStageKCooldownConflict(t *testing.T) {
	ts := newTestServer(t)
	recheck := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	ts.stageK.err = &application.CooldownRefusalError{
		Fingerprint:     "fp-a",
		Severity:        cooldown.SeverityShort,
		RecheckAfter:    &recheck,
		WhatWouldChange: "price drops below threshold",
	}

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{CandidateID: "cand-1"})

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "cooldown_active", resp.Code)

	detail, ok := resp.Detail.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "fp-a", detail["fingerprint"])
}

func TestStageKGateConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.stageK.err = &application.GateRefusalError{
		Decision: stagegate.Decision{
			Allowed: false,
			Code:    stagegate.CodeSBlocked,
			Detail:  "risk assessment blocks this candidate",
		},
	}

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{CandidateID: "cand-1"})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, stagegate.CodeSBlocked, decodeError(t, rec).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.GateBlocks.WithLabelValues(stagegate.CodeSBlocked)))
}

func TestStageKMissingPrecondition(t *testing.T) {
	ts := newTestServer(t)
	ts.stageK.err = &scenario.MissingPreconditionError{Stage: "b"}

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{CandidateID: "cand-1"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "stage_b_required", decodeError(t, rec).Code)
}

func TestStageKInvalidSimulationInput(t *testing.T) {
	ts := newTestServer(t)
	ts.stageK.err = &capsim.InvalidInputError{Field: "cashflows[1].day", Reason: "outside horizon"}

	rec := ts.do(t, "POST", "/api/stages/k/run", application.StageKRequest{CandidateID: "cand-1"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "invalid_simulation_input", resp.Code)

	detail, ok := resp.Detail.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cashflows[1].day", detail["field"])
	assert.Equal(t, "outside horizon", detail["reason"])
}

func TestCandidatesList(t *testing.T) {
	ts := newTestServer(t)
	ts.cands.listed = []lead.Candidate{
		{ID: "cand-1", StageStatus: "K_DONE"},
		{ID: "cand-2", StageStatus: "K_DONE"},
	}

	rec := ts.do(t, "GET", "/api/candidates?stage_status=K_DONE&limit=5", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "K_DONE", ts.cands.gotFilter.StageStatus)
	assert.Equal(t, 5, ts.cands.gotFilter.Limit)

	var resp CandidatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestCandidateByID(t *testing.T) {
	ts := newTestServer(t)
	ts.cands.byID["cand-1"] = &lead.Candidate{ID: "cand-1", LeadID: "lead-1", StageStatus: "P_DONE"}

	rec := ts.do(t, "GET", "/api/candidates/cand-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var cand lead.Candidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cand))
	assert.Equal(t, "lead-1", cand.LeadID)
}

func TestCandidateByIDNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/candidates/ghost", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "candidate_not_found", decodeError(t, rec).Code)
}

func TestCandidateRuns(t *testing.T) {
	ts := newTestServer(t)
	ts.runs.runs = []stage.Run{
		{ID: "run-2", CandidateID: "cand-1", Stage: stage.StageK, Status: stage.RunSucceeded},
		{ID: "run-1", CandidateID: "cand-1", Stage: stage.StageB, Status: stage.RunSucceeded},
	}

	rec := ts.do(t, "GET", "/api/candidates/cand-1/runs", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cand-1", resp.CandidateID)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "run-2", resp.Runs[0].ID)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "disabled", resp.Components["database"].Status)
	assert.Equal(t, "healthy", resp.Components["cache"].Status)
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/nonsense", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint_not_found", decodeError(t, rec).Code)
}

func TestRequestIDHeaderSet(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/candidates", nil)

	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
}
