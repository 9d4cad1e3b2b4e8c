// Package lead holds the raw intake record evaluated by Stage P.
package lead

// Status is the lead lifecycle state. Leads are soft state: they are
// mutated only by a Stage P run and never destroyed.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusOnHold   Status = "ON_HOLD"
	StatusPromoted Status = "PROMOTED"
	StatusRejected Status = "REJECTED"
)

// Lead is a candidate product idea prior to promotion.
type Lead struct {
	ID          string `json:"id" db:"id"`
	Source      string `json:"source" db:"source"`
	Title       string `json:"title" db:"title"`
	URL         string `json:"url" db:"url"`
	PriceCents  int64  `json:"priceCents" db:"price_cents"`
	Fingerprint string `json:"fingerprint,omitempty" db:"fingerprint"`
	// DuplicateOf is a weak reference to the lead or candidate this lead
	// collapsed into. Never ownership, never self, never cyclic within a
	// batch (the admission tie-break resolves groups to one primary).
	DuplicateOf string `json:"duplicateOf,omitempty" db:"duplicate_of"`
	Status      Status `json:"status" db:"status"`
}

// Candidate is created at promotion time and owns a copy of the lead's
// fingerprint.
type Candidate struct {
	ID             string `json:"id" db:"id"`
	LeadID         string `json:"leadId" db:"lead_id"`
	Fingerprint    string `json:"fingerprint,omitempty" db:"fingerprint"`
	StageStatus    string `json:"stageStatus" db:"stage_status"` // e.g. P_DONE, M_QUEUED, K_DONE
	Decision       string `json:"decision,omitempty" db:"decision"`
	DecisionReason string `json:"decisionReason,omitempty" db:"decision_reason"`
}

// Candidate decisions. Empty means undecided.
const (
	DecisionScale    = "SCALE"
	DecisionKill     = "KILL"
	DecisionRejected = "REJECTED"
)
