// Package stage defines the letter-coded pipeline stages, the immutable
// stage-run fact, and the typed verdict payloads decoded from run outputs.
//
// Run input/output blobs are stored as opaque JSON by the collaborator
// store. At the engine boundary each stage letter gets its own typed
// summary so gates and scenario building pattern-match on concrete fields
// instead of probing untyped maps.
package stage

import (
	"encoding/json"
	"time"
)

// Letter identifies one pipeline stage.
type Letter string

const (
	StageP Letter = "P" // intake triage and promotion
	StageM Letter = "M" // market capture
	StageA Letter = "A" // quick economics screen
	StageT Letter = "T" // eligibility / terms
	StageS Letter = "S" // supplier and compliance risk
	StageN Letter = "N" // negotiation
	StageD Letter = "D" // asset readiness
	StageB Letter = "B" // landed cost
	StageC Letter = "C" // contribution margin
	StageK Letter = "K" // capital simulation
	StageR Letter = "R" // decision scorecard
)

// RunStatus is the lifecycle state of one stage-run attempt.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one append-only (candidate, stage, attempt) fact. The engine only
// ever reads the latest succeeded run per stage as that stage's verdict.
type Run struct {
	ID           string          `json:"id" db:"id"`
	CandidateID  string          `json:"candidateId" db:"candidate_id"`
	Stage        Letter          `json:"stage" db:"stage"`
	Status       RunStatus       `json:"status" db:"status"`
	InputVersion string          `json:"inputVersion" db:"input_version"`
	InputHash    string          `json:"inputHash" db:"input_hash"`
	Input        json.RawMessage `json:"input,omitempty" db:"input_json"`
	Output       json.RawMessage `json:"output,omitempty" db:"output_json"`
	Error        json.RawMessage `json:"error,omitempty" db:"error_json"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	StartedAt    *time.Time      `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
}

// TDecision is the Stage T eligibility verdict.
type TDecision string

const (
	TAllowed     TDecision = "allowed"
	TNeedsReview TDecision = "needs_review"
	TBlocked     TDecision = "blocked"
)

// RiskBand is the three-level band used by Stage S and Stage R.
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// SAction is the Stage S recommended action.
type SAction string

const (
	SAdvance SAction = "ADVANCE"
	SReview  SAction = "REVIEW"
	SBlock   SAction = "BLOCK"
)

// TVerdict is the decoded Stage T summary.
type TVerdict struct {
	Decision TDecision `json:"decision"`
	Action   string    `json:"action,omitempty"`
}

// SVerdict is the decoded Stage S summary.
type SVerdict struct {
	OverallRisk RiskBand `json:"overallRisk"`
	Action      SAction  `json:"action"`
	Score       int      `json:"score,omitempty"`
	Flags       []string `json:"flags,omitempty"`
}

// summaryEnvelope matches the stored output shape: stage outputs carry a
// machine-readable summary next to the full result payload.
type summaryEnvelope[V any] struct {
	Summary *V `json:"summary"`
}

// DecodeTVerdict extracts the Stage T summary from a run output blob.
// Returns nil when the blob is absent or carries no summary.
func DecodeTVerdict(output json.RawMessage) *TVerdict {
	return decodeSummary[TVerdict](output)
}

// DecodeSVerdict extracts the Stage S summary from a run output blob.
func DecodeSVerdict(output json.RawMessage) *SVerdict {
	return decodeSummary[SVerdict](output)
}

func decodeSummary[V any](output json.RawMessage) *V {
	if len(output) == 0 {
		return nil
	}
	var env summaryEnvelope[V]
	if err := json.Unmarshal(output, &env); err != nil {
		return nil
	}
	return env.Summary
}
