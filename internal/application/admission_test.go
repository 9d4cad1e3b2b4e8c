package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/product-pipeline/internal/domain/admission"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/triage"
)

func newTestRunner(s *memState, mutate func(*Config)) *AdmissionRunner {
	cfg := DefaultConfig()
	cfg.Admission.DailyQuota = 10
	if mutate != nil {
		mutate(cfg)
	}
	r := NewAdmissionRunner(s.repository(), nil, cfg, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC) }
	return r
}

func strongLead(title, url string) LeadSubmission {
	return LeadSubmission{
		Source: "supplier_catalog",
		Title:  title,
		URL:    url,
		Price:  "4599",
	}
}

func TestRunPromotesStrongLead(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, nil)

	res, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
	}, 0)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, admission.Promoted, o.Disposition)
	assert.NotEmpty(t, o.CandidateID)
	assert.Equal(t, 1, res.PromotedCount)

	require.Len(t, s.leads, 1)
	assert.Equal(t, lead.StatusPromoted, s.leads[0].Status)
	require.Len(t, s.candidates, 1)
	assert.Equal(t, "P_DONE", s.candidates[0].StageStatus)
	assert.Equal(t, s.leads[0].Fingerprint, s.candidates[0].Fingerprint)
}

func TestRunMalformedPriceFailsThatLeadOnly(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, nil)

	res, err := r.Run(context.Background(), []LeadSubmission{
		{Source: "supplier_catalog", Title: "ceramic pour over coffee dripper", URL: "https://example.com/dripper", Price: "12.50"},
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
	}, 0)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	assert.NotEmpty(t, res.Outcomes[0].Error)
	assert.Empty(t, res.Outcomes[0].Disposition)
	assert.Equal(t, admission.Promoted, res.Outcomes[1].Disposition)
	assert.Len(t, s.leads, 1, "the malformed lead is never persisted")
}

func TestRunRejectWritesCooldownAndBlocksResubmission(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, nil)

	// unknown source plus an out-of-band price scores cold
	weak := LeadSubmission{Source: "mystery", Title: "gadget thing", URL: "https://example.com/gadget", Price: "99000"}

	res, err := r.Run(context.Background(), []LeadSubmission{weak}, 0)
	require.NoError(t, err)
	require.Equal(t, admission.Rejected, res.Outcomes[0].Disposition)
	require.Len(t, s.cooldowns, 1)
	assert.Equal(t, res.Outcomes[0].Fingerprint, s.cooldowns[0].Fingerprint)

	// the same product resubmitted hits the active cooldown
	res2, err := r.Run(context.Background(), []LeadSubmission{weak}, 0)
	require.NoError(t, err)
	assert.Equal(t, admission.Rejected, res2.Outcomes[0].Disposition)
	assert.Contains(t, res2.Outcomes[0].Reasons, triage.ReasonCooldownActive)
	assert.Len(t, s.cooldowns, 2, "each rejection appends a record")
}

func TestRunQuotaDemotesOverflowToHeld(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, func(cfg *Config) { cfg.Admission.DailyQuota = 1 })

	res, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
		strongLead("stainless cold brew coffee maker", "https://example.com/coldbrew"),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PromotedCount)
	assert.Equal(t, 0, res.QuotaRemaining)

	var held *LeadOutcome
	for i := range res.Outcomes {
		if res.Outcomes[i].Disposition == admission.Held {
			held = &res.Outcomes[i]
		}
	}
	require.NotNil(t, held)
	assert.Contains(t, held.Reasons, triage.ReasonQuotaExhausted)
	assert.Len(t, s.candidates, 1)
}

func TestRunQuotaHeldLeadPromotesNextDay(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, func(cfg *Config) { cfg.Admission.DailyQuota = 1 })
	now := time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	coldbrew := strongLead("stainless cold brew coffee maker", "https://example.com/coldbrew")
	res, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
		coldbrew,
	}, 0)
	require.NoError(t, err)
	require.Equal(t, admission.Promoted, res.Outcomes[0].Disposition)
	require.Equal(t, admission.Held, res.Outcomes[1].Disposition)
	require.Contains(t, res.Outcomes[1].Reasons, triage.ReasonQuotaExhausted)

	// next day the quota is fresh; the held product resubmits and goes
	// through, it never became a duplicate
	now = now.Add(24 * time.Hour)
	res2, err := r.Run(context.Background(), []LeadSubmission{coldbrew}, 0)
	require.NoError(t, err)

	assert.Equal(t, admission.Promoted, res2.Outcomes[0].Disposition)
	assert.NotContains(t, res2.Outcomes[0].Reasons, triage.ReasonDuplicateExisting)
	assert.Len(t, s.candidates, 2)
}

func TestRunQuotaSpansBatches(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, func(cfg *Config) { cfg.Admission.DailyQuota = 1 })

	_, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
	}, 0)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("stainless cold brew coffee maker", "https://example.com/coldbrew"),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, res.PromotedCount, "second batch sees the used quota")
	assert.Equal(t, admission.Held, res.Outcomes[0].Disposition)
}

func TestRunExistingFingerprintHolds(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, nil)

	sub := strongLead("collapsible silicone travel kettle", "https://example.com/kettle")

	_, err := r.Run(context.Background(), []LeadSubmission{sub}, 0)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), []LeadSubmission{sub}, 0)
	require.NoError(t, err)

	assert.Equal(t, admission.Held, res.Outcomes[0].Disposition)
	assert.Contains(t, res.Outcomes[0].Reasons, triage.ReasonDuplicateExisting)
	assert.Len(t, s.candidates, 1)
}

func TestRunBatchDuplicateCollapses(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, nil)

	res, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
		strongLead("Collapsible Silicone TRAVEL Kettle", "https://example.com/kettle/"),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PromotedCount)
	assert.Equal(t, admission.Promoted, res.Outcomes[0].Disposition)
	assert.Equal(t, admission.Held, res.Outcomes[1].Disposition)
	assert.Contains(t, res.Outcomes[1].Reasons, triage.ReasonDuplicateInBatch)
	assert.Equal(t, res.Outcomes[0].LeadID, res.Outcomes[1].DuplicateOf)
}

func TestRunRequestedCapLimitsBatch(t *testing.T) {
	s := newMemState()
	r := newTestRunner(s, nil)

	res, err := r.Run(context.Background(), []LeadSubmission{
		strongLead("collapsible silicone travel kettle", "https://example.com/kettle"),
		strongLead("stainless cold brew coffee maker", "https://example.com/coldbrew"),
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PromotedCount)
}
