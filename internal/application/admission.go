package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/acme/product-pipeline/internal/domain/admission"
	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/fingerprint"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/money"
	"github.com/acme/product-pipeline/internal/domain/triage"
	"github.com/acme/product-pipeline/internal/infrastructure/cache"
	"github.com/acme/product-pipeline/internal/persistence"
)

// LeadSubmission is one raw lead in an admission batch. Price is a money
// string in cents; a malformed one fails that lead only.
type LeadSubmission struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Price  string `json:"priceCents"`
}

// LeadOutcome is the per-lead admission report. A lead that failed
// normalization carries Error and no disposition.
type LeadOutcome struct {
	LeadID      string                `json:"leadId,omitempty"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	Disposition admission.Disposition `json:"disposition,omitempty"`
	Score       int                   `json:"score,omitempty"`
	Reasons     []string              `json:"reasons,omitempty"`
	DuplicateOf string                `json:"duplicateOf,omitempty"`
	CandidateID string                `json:"candidateId,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// BatchResult reports one admission run.
type BatchResult struct {
	Outcomes       []LeadOutcome `json:"outcomes"`
	PromotedCount  int           `json:"promotedCount"`
	QuotaRemaining int           `json:"quotaRemaining"`
}

// AdmissionRunner orchestrates Stage P: normalize, fingerprint, score,
// admit, persist. Each step reads explicit state; the quota snapshot is
// re-read per batch.
type AdmissionRunner struct {
	repos   *persistence.Repository
	cache   cache.Cache
	scorer  *triage.Scorer
	policy  *cooldown.Policy
	cfg     AdmissionConfig
	metrics CacheMetrics
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewAdmissionRunner wires the Stage P orchestrator. The cache may be nil;
// lookups then go straight to the repositories.
func NewAdmissionRunner(repos *persistence.Repository, c cache.Cache, cfg *Config, logger zerolog.Logger) *AdmissionRunner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &AdmissionRunner{
		repos:  repos,
		cache:  c,
		scorer: triage.NewScorer(cfg.Triage),
		policy: cooldown.NewPolicy(cfg.Cooldown),
		cfg:    cfg.Admission,
		log:    logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// SetMetrics attaches a cache lookup recorder. Safe to leave unset.
func (r *AdmissionRunner) SetMetrics(m CacheMetrics) { r.metrics = m }

// Run admits one batch. A malformed lead yields an error outcome and the
// rest of the batch proceeds; only storage failures abort the run.
func (r *AdmissionRunner) Run(ctx context.Context, submissions []LeadSubmission, requestedCap int) (*BatchResult, error) {
	now := r.now().UTC()

	outcomes := make([]LeadOutcome, len(submissions))
	var scored []admission.ScoredLead
	scoredIdx := make([]int, 0, len(submissions)) // outcome index per scored lead

	for i, sub := range submissions {
		priceCents, err := money.Parse(sub.Price)
		if err != nil {
			outcomes[i] = LeadOutcome{Error: fmt.Sprintf("priceCents: %v", err)}
			r.log.Warn().Int("index", i).Err(err).Msg("lead failed normalization")
			continue
		}

		l := lead.Lead{
			ID:          r.newID(),
			Source:      sub.Source,
			Title:       sub.Title,
			URL:         sub.URL,
			PriceCents:  priceCents.Int64(),
			Fingerprint: fingerprint.Compute(sub.Title, sub.URL),
			Status:      lead.StatusNew,
		}
		scored = append(scored, admission.ScoredLead{Lead: l, Triage: r.scorer.Score(l)})
		scoredIdx = append(scoredIdx, i)
	}

	existing, err := r.existingFingerprints(ctx, scored)
	if err != nil {
		return nil, err
	}
	active, err := r.activeCooldowns(ctx, scored, now)
	if err != nil {
		return nil, err
	}

	used, err := r.repos.Candidates.CountPromotedSince(ctx, startOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	if requestedCap <= 0 {
		requestedCap = r.cfg.DefaultBatchCap
	}

	res := admission.Admit(admission.Input{
		Batch:                scored,
		ExistingFingerprints: existing,
		ActiveCooldowns:      active,
		RequestedCap:         requestedCap,
		DailyQuota:           r.cfg.DailyQuota,
		QuotaUsedToday:       used,
	})

	promoted, err := r.persist(ctx, scored, res, now)
	if err != nil {
		return nil, err
	}

	for j, o := range res.Outcomes {
		i := scoredIdx[j]
		outcomes[i] = LeadOutcome{
			LeadID:      o.LeadID,
			Fingerprint: o.Fingerprint,
			Disposition: o.Disposition,
			Score:       o.Score,
			Reasons:     o.Reasons,
			DuplicateOf: o.DuplicateOf,
			CandidateID: promoted[o.LeadID],
		}
	}

	r.log.Info().
		Int("batch", len(submissions)).
		Int("promoted", res.PromotedCount).
		Int("quota_remaining", res.QuotaRemaining).
		Msg("admission batch complete")

	return &BatchResult{
		Outcomes:       outcomes,
		PromotedCount:  res.PromotedCount,
		QuotaRemaining: res.QuotaRemaining,
	}, nil
}

// persist writes leads, candidates and cooldown records for one admission
// result and returns candidate ids keyed by lead id.
func (r *AdmissionRunner) persist(ctx context.Context, scored []admission.ScoredLead, res admission.Result, now time.Time) (map[string]string, error) {
	promoted := make(map[string]string)

	for j, o := range res.Outcomes {
		l := scored[j].Lead
		l.DuplicateOf = o.DuplicateOf

		disposition := o.Disposition
		if disposition == admission.Promoted && r.cfg.StrictQuota {
			// strict mode re-reads usage before each insert so concurrent
			// batches cannot overshoot the day's quota
			used, err := r.repos.Candidates.CountPromotedSince(ctx, startOfDay(now))
			if err != nil {
				return nil, fmt.Errorf("failed to re-check quota: %w", err)
			}
			if used >= r.cfg.DailyQuota {
				disposition = admission.Held
				res.Outcomes[j].Disposition = admission.Held
				res.Outcomes[j].Reasons = triage.OrderReasons(append([]string{triage.ReasonQuotaExhausted}, o.Reasons...))
			}
		}

		switch disposition {
		case admission.Promoted:
			l.Status = lead.StatusPromoted
		case admission.Rejected:
			l.Status = lead.StatusRejected
		default:
			l.Status = lead.StatusOnHold
		}

		if err := r.repos.Leads.Insert(ctx, &l); err != nil {
			return nil, fmt.Errorf("failed to persist lead %s: %w", l.ID, err)
		}

		switch disposition {
		case admission.Promoted:
			cand := lead.Candidate{
				ID:          r.newID(),
				LeadID:      l.ID,
				Fingerprint: l.Fingerprint,
				StageStatus: "P_DONE",
			}
			if err := r.repos.Candidates.Insert(ctx, &cand); err != nil {
				return nil, fmt.Errorf("failed to persist candidate for lead %s: %w", l.ID, err)
			}
			promoted[l.ID] = cand.ID
			// only candidates count as duplicates; a held lead must stay
			// promotable on resubmission
			if r.cache != nil && l.Fingerprint != "" {
				_ = r.cache.MarkFingerprint(ctx, l.Fingerprint, 6*time.Hour)
			}

		case admission.Rejected:
			if l.Fingerprint == "" {
				break
			}
			plan := r.policy.BuildPlan(scored[j].Triage, now)
			snapshot, _ := json.Marshal(scored[j].Triage)
			rec := cooldown.Record{
				ID:              r.newID(),
				Fingerprint:     l.Fingerprint,
				Severity:        plan.Severity,
				RecheckAfter:    plan.RecheckAfter,
				ReasonCode:      plan.ReasonCode,
				WhatWouldChange: plan.WhatWouldChange,
				Snapshot:        snapshot,
			}
			if err := r.repos.Cooldowns.Insert(ctx, &rec); err != nil {
				return nil, fmt.Errorf("failed to persist cooldown for lead %s: %w", l.ID, err)
			}
			if r.cache != nil && plan.RecheckAfter != nil {
				_ = r.cache.MarkCooldown(ctx, l.Fingerprint, true, plan.RecheckAfter.Sub(now))
			}
		}
	}

	return promoted, nil
}

func (r *AdmissionRunner) existingFingerprints(ctx context.Context, scored []admission.ScoredLead) (map[string]bool, error) {
	existing := make(map[string]bool)
	var misses []string

	for _, sl := range scored {
		fp := sl.Lead.Fingerprint
		if fp == "" || existing[fp] {
			continue
		}
		if r.cache != nil {
			seen, hit := r.cache.SeenFingerprint(ctx, fp)
			recordCacheLookup(r.metrics, cacheTypeFingerprint, hit)
			if hit {
				if seen {
					existing[fp] = true
				}
				continue
			}
		}
		misses = append(misses, fp)
	}

	if len(misses) > 0 {
		found, err := r.repos.Candidates.FingerprintsExist(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("failed to check fingerprints: %w", err)
		}
		for fp := range found {
			existing[fp] = true
			if r.cache != nil {
				_ = r.cache.MarkFingerprint(ctx, fp, 6*time.Hour)
			}
		}
	}

	return existing, nil
}

func (r *AdmissionRunner) activeCooldowns(ctx context.Context, scored []admission.ScoredLead, now time.Time) (map[string]bool, error) {
	active := make(map[string]bool)
	var misses []string

	for _, sl := range scored {
		fp := sl.Lead.Fingerprint
		if fp == "" || active[fp] {
			continue
		}
		if r.cache != nil {
			flag, hit := r.cache.CooldownActive(ctx, fp)
			recordCacheLookup(r.metrics, cacheTypeCooldown, hit)
			if hit {
				if flag {
					active[fp] = true
				}
				continue
			}
		}
		misses = append(misses, fp)
	}

	if len(misses) > 0 {
		recs, err := r.repos.Cooldowns.LatestByFingerprints(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("failed to check cooldowns: %w", err)
		}
		for fp, rec := range recs {
			isActive := cooldown.IsActive(rec.Severity, rec.RecheckAfter, now)
			if isActive {
				active[fp] = true
			}
			if r.cache != nil && rec.RecheckAfter != nil && isActive {
				_ = r.cache.MarkCooldown(ctx, fp, true, rec.RecheckAfter.Sub(now))
			}
		}
	}

	return active, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
