// Package admission enforces the daily promotion quota over a batch of
// scored leads, collapsing duplicates within and across batches.
package admission

import (
	"sort"

	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/triage"
)

// Disposition is the final outcome for one lead. Always exactly one of
// the three, irrespective of how many rules matched.
type Disposition string

const (
	Promoted Disposition = "promoted"
	Held     Disposition = "held"
	Rejected Disposition = "rejected"
)

// ScoredLead pairs a lead with its triage result.
type ScoredLead struct {
	Lead   lead.Lead
	Triage triage.Result
}

// Outcome is the admission verdict for one lead, in batch order.
type Outcome struct {
	LeadID      string        `json:"leadId"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Disposition Disposition   `json:"disposition"`
	Action      triage.Action `json:"action"`
	Score       int           `json:"score"`
	Reasons     []string      `json:"reasons"`
	// DuplicateOf names the primary lead this one collapsed into, for
	// within-batch duplicates. Existing-candidate duplicates leave it
	// empty; the fingerprint already identifies the candidate.
	DuplicateOf string `json:"duplicateOf,omitempty"`
}

// Input is everything one admission run needs, passed explicitly: the
// quota state is a snapshot as of call time, never implicit global state.
type Input struct {
	Batch []ScoredLead
	// ExistingFingerprints are fingerprints already on persisted candidates.
	ExistingFingerprints map[string]bool
	// ActiveCooldowns are fingerprints with an active cooldown record.
	ActiveCooldowns map[string]bool
	// RequestedCap limits promotions for this batch; 0 means no request cap.
	RequestedCap int
	// DailyQuota and QuotaUsedToday bound promotions for the day.
	DailyQuota     int
	QuotaUsedToday int
}

// Result reports the batch outcomes in original order.
type Result struct {
	Outcomes      []Outcome
	PromotedCount int
	// QuotaRemaining is the advisory remainder after this batch.
	QuotaRemaining int
}

// Admit runs the admission algorithm. Pure: the caller persists promotions,
// holds and cooldown records from the outcomes.
func Admit(in Input) Result {
	outcomes := make([]Outcome, len(in.Batch))
	for i, sl := range in.Batch {
		outcomes[i] = Outcome{
			LeadID:      sl.Lead.ID,
			Fingerprint: sl.Lead.Fingerprint,
			Score:       sl.Triage.Score,
			Action:      sl.Triage.Action,
			Reasons:     sl.Triage.Reasons,
		}
	}

	markBatchDuplicates(in.Batch, outcomes)

	// promotable set: indexes still eligible after the dedup/cooldown rules
	var promotable []int

	for i, sl := range in.Batch {
		o := &outcomes[i]
		fp := sl.Lead.Fingerprint

		switch {
		case fp != "" && in.ActiveCooldowns[fp]:
			// Active cooldown forces rejection regardless of score.
			o.Disposition = Rejected
			o.Action = triage.ActionReject
			o.Reasons = withCode(o.Reasons, triage.ReasonCooldownActive)
		case fp != "" && in.ExistingFingerprints[fp]:
			o.Disposition = Held
			o.Action = triage.ActionHold
			o.Reasons = withCode(o.Reasons, triage.ReasonDuplicateExisting)
		case o.DuplicateOf != "":
			o.Disposition = Held
			o.Action = triage.ActionHold
			o.Reasons = withCode(o.Reasons, triage.ReasonDuplicateInBatch)
		case sl.Triage.Action == triage.ActionPromote:
			promotable = append(promotable, i)
		case sl.Triage.Action == triage.ActionReject:
			o.Disposition = Rejected
		default:
			o.Disposition = Held
		}
	}

	// Rank by score descending; ties at the cutoff break by original batch
	// order so the algorithm stays deterministic.
	sort.SliceStable(promotable, func(a, b int) bool {
		return outcomes[promotable[a]].Score > outcomes[promotable[b]].Score
	})

	remaining := in.DailyQuota - in.QuotaUsedToday
	if remaining < 0 {
		remaining = 0
	}
	admit := len(promotable)
	if in.RequestedCap > 0 && in.RequestedCap < admit {
		admit = in.RequestedCap
	}
	if remaining < admit {
		admit = remaining
	}

	for rank, idx := range promotable {
		o := &outcomes[idx]
		if rank < admit {
			o.Disposition = Promoted
			o.Action = triage.ActionPromote
		} else {
			o.Disposition = Held
			o.Action = triage.ActionHold
			o.Reasons = withCode(o.Reasons, triage.ReasonQuotaExhausted)
		}
	}

	return Result{
		Outcomes:       outcomes,
		PromotedCount:  admit,
		QuotaRemaining: remaining - admit,
	}
}

// markBatchDuplicates groups the batch by fingerprint and designates the
// highest-scoring lead of each group primary; the rest collapse into it.
func markBatchDuplicates(batch []ScoredLead, outcomes []Outcome) {
	groups := make(map[string][]int)
	for i, sl := range batch {
		if fp := sl.Lead.Fingerprint; fp != "" {
			groups[fp] = append(groups[fp], i)
		}
	}
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		primary := idxs[0]
		for _, i := range idxs[1:] {
			// strict greater-than keeps first-seen on score ties
			if batch[i].Triage.Score > batch[primary].Triage.Score {
				primary = i
			}
		}
		for _, i := range idxs {
			if i != primary {
				outcomes[i].DuplicateOf = batch[primary].Lead.ID
			}
		}
	}
}

// withCode prepends an admission code and re-normalizes the reason list:
// deduplicated, severity-ordered, capped at three, with cooldown and
// duplicate codes outranking generic triage codes.
func withCode(reasons []string, code string) []string {
	merged := make([]string, 0, len(reasons)+1)
	merged = append(merged, code)
	merged = append(merged, reasons...)
	return triage.OrderReasons(merged)
}
