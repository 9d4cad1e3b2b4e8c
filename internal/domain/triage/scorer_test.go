package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acme/product-pipeline/internal/domain/lead"
)

func leadFixture() lead.Lead {
	return lead.Lead{
		ID:         "lead-1",
		Source:     "supplier_catalog",
		Title:      "Collapsible silicone travel kettle",
		URL:        "https://example.com/p/kettle",
		PriceCents: 4500,
	}
}

func TestScoreStrongLeadPromotes(t *testing.T) {
	s := NewScorer(nil)

	res := s.Score(leadFixture())

	assert.Equal(t, 75, res.Score)
	assert.Equal(t, BandHot, res.Band)
	assert.Equal(t, ActionPromote, res.Action)
	assert.Equal(t, []string{ReasonStrongSource, ReasonPriceSweetSpot}, res.Reasons)
}

func TestScoreWeakLeadRejects(t *testing.T) {
	s := NewScorer(nil)

	res := s.Score(lead.Lead{ID: "lead-2", Source: "pastebin"})

	assert.Equal(t, BandCold, res.Band)
	assert.Equal(t, ActionReject, res.Action)
	// missing title outranks the other drivers even with the cap applied
	assert.Equal(t, ReasonMissingTitle, res.Reasons[0])
	assert.LessOrEqual(t, len(res.Reasons), MaxReasons)
}

func TestScoreMidLeadHolds(t *testing.T) {
	s := NewScorer(nil)

	l := leadFixture()
	l.PriceCents = 25000 // above band: 50+15-20 = 45

	res := s.Score(l)

	assert.Equal(t, 45, res.Score)
	assert.Equal(t, BandWarm, res.Band)
	assert.Equal(t, ActionHold, res.Action)
	assert.Contains(t, res.Reasons, ReasonPriceAboveBand)
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(nil)
	l := leadFixture()

	first := s.Score(l)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(l))
	}
}

func TestScoreClampedToRange(t *testing.T) {
	s := NewScorer(nil)

	res := s.Score(lead.Lead{Source: "nowhere", PriceCents: 999999})
	assert.GreaterOrEqual(t, res.Score, 0)
	assert.LessOrEqual(t, res.Score, 100)
}

func TestOrderReasonsSeverityAndCap(t *testing.T) {
	got := OrderReasons([]string{
		ReasonPriceSweetSpot,
		ReasonQuotaExhausted,
		ReasonMissingTitle,
		ReasonDuplicateInBatch,
		ReasonCooldownActive,
		ReasonCooldownActive, // duplicate dropped
	})

	assert.Equal(t, []string{
		ReasonCooldownActive,
		ReasonDuplicateInBatch,
		ReasonQuotaExhausted,
	}, got)
}

func TestOrderReasonsUnknownCodesSortLast(t *testing.T) {
	got := OrderReasons([]string{"zz_custom", ReasonThinTitle, "aa_custom"})
	assert.Equal(t, []string{ReasonThinTitle, "aa_custom", "zz_custom"}, got)
}
