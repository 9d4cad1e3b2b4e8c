package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/domain/stage"
)

// ErrAlreadyClaimed is returned by TryClaim when another worker moved the
// run out of its expected status first.
var ErrAlreadyClaimed = errors.New("stage run already claimed")

// TimeRange is a query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CandidateFilter narrows candidate listings.
type CandidateFilter struct {
	StageStatus string
	Decision    string
	Limit       int
}

// LeadsRepo persists intake leads. Leads are soft state: triage mutates
// them in place, nothing deletes them.
type LeadsRepo interface {
	// Insert adds a new lead record
	Insert(ctx context.Context, l *lead.Lead) error

	// GetByID fetches one lead, nil when absent
	GetByID(ctx context.Context, id string) (*lead.Lead, error)

	// ListByStatus retrieves leads in a lifecycle state, newest first
	ListByStatus(ctx context.Context, status lead.Status, limit int) ([]lead.Lead, error)

	// UpdateTriage writes the triage outcome back onto the lead
	UpdateTriage(ctx context.Context, id string, status lead.Status, fingerprint, duplicateOf string) error
}

// CandidatesRepo persists promoted candidates.
type CandidatesRepo interface {
	// Insert adds a candidate created at promotion time
	Insert(ctx context.Context, c *lead.Candidate) error

	// GetByID fetches one candidate, nil when absent
	GetByID(ctx context.Context, id string) (*lead.Candidate, error)

	// List retrieves candidates matching the filter, newest first
	List(ctx context.Context, f CandidateFilter) ([]lead.Candidate, error)

	// UpdateStageStatus advances the candidate's stage marker
	UpdateStageStatus(ctx context.Context, id, stageStatus string) error

	// SetDecision records the terminal SCALE/KILL/REJECTED call
	SetDecision(ctx context.Context, id, decision, reason string) error

	// CountPromotedSince returns promotions at or after the cutoff, for
	// daily quota accounting
	CountPromotedSince(ctx context.Context, cutoff time.Time) (int, error)

	// FingerprintsExist reports which of the given fingerprints already
	// belong to a promoted candidate. Held or rejected leads never count
	// as duplicates.
	FingerprintsExist(ctx context.Context, fingerprints []string) (map[string]bool, error)
}

// StageRunsRepo persists append-only stage-run facts.
type StageRunsRepo interface {
	// Insert adds a new run attempt
	Insert(ctx context.Context, run *stage.Run) error

	// TryClaim moves a run from its expected status to running. Exactly
	// one caller wins; losers get ErrAlreadyClaimed.
	TryClaim(ctx context.Context, id string, expected stage.RunStatus) (*stage.Run, error)

	// Finish records the terminal status with output or error payload
	Finish(ctx context.Context, id string, status stage.RunStatus, output, errJSON []byte) error

	// LatestSucceeded returns the newest succeeded run for a stage, nil
	// when the candidate has none
	LatestSucceeded(ctx context.Context, candidateID string, letter stage.Letter) (*stage.Run, error)

	// ListByCandidate retrieves a candidate's run history, newest first
	ListByCandidate(ctx context.Context, candidateID string, limit int) ([]stage.Run, error)
}

// CooldownsRepo persists append-only cooldown records keyed by fingerprint.
type CooldownsRepo interface {
	// Insert adds a cooldown record
	Insert(ctx context.Context, rec *cooldown.Record) error

	// LatestByFingerprint returns the newest record for a fingerprint,
	// nil when none exists
	LatestByFingerprint(ctx context.Context, fingerprint string) (*cooldown.Record, error)

	// LatestByFingerprints batches LatestByFingerprint for admission
	LatestByFingerprints(ctx context.Context, fingerprints []string) (map[string]*cooldown.Record, error)

	// ListActive retrieves records still in effect at now
	ListActive(ctx context.Context, now time.Time, limit int) ([]cooldown.Record, error)
}

// PriorsRepo persists market-velocity priors keyed by fingerprint.
type PriorsRepo interface {
	// Upsert inserts or refreshes the prior for a fingerprint
	Upsert(ctx context.Context, fingerprint string, p *scenario.VelocityPrior) error

	// LatestByFingerprint returns the newest prior, nil when none exists
	LatestByFingerprint(ctx context.Context, fingerprint string) (*scenario.VelocityPrior, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Leads      LeadsRepo
	Candidates CandidatesRepo
	StageRuns  StageRunsRepo
	Cooldowns  CooldownsRepo
	Priors     PriorsRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to the database
	Ping(ctx context.Context) error
}
