package http

import (
	"time"

	"github.com/acme/product-pipeline/internal/application"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/stage"
)

// ErrorResponse is the standardized error body for all endpoints.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Code      string      `json:"code"`
	Detail    interface{} `json:"detail,omitempty"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// TriageRequest is one admission batch. BatchCap of zero means the
// configured default.
type TriageRequest struct {
	Leads    []application.LeadSubmission `json:"leads"`
	BatchCap int                          `json:"batchCap,omitempty"`
}

// CandidatesResponse lists candidates matching the query filters.
type CandidatesResponse struct {
	Candidates []lead.Candidate `json:"candidates"`
	Count      int              `json:"count"`
	Generated  time.Time        `json:"generated"`
}

// RunsResponse is a candidate's stage-run history, newest first.
type RunsResponse struct {
	CandidateID string      `json:"candidateId"`
	Runs        []stage.Run `json:"runs"`
	Count       int         `json:"count"`
}

// ComponentStatus reports one backing service in the health response.
type ComponentStatus struct {
	Status string      `json:"status"`
	Detail interface{} `json:"detail,omitempty"`
}

// HealthResponse is the composite health report.
type HealthResponse struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Version    string                     `json:"version"`
	Components map[string]ComponentStatus `json:"components"`
}
