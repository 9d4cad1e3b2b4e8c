// Package risk implements the Stage S supplier/compliance assessment
// whose verdict feeds the S-gate.
package risk

import (
	"sort"

	"github.com/acme/product-pipeline/internal/domain/stage"
)

// Input carries the per-component risk levels captured for a candidate.
type Input struct {
	ComplianceRisk     stage.RiskBand `json:"complianceRisk"`
	IPRisk             stage.RiskBand `json:"ipRisk"`
	HazmatRisk         stage.RiskBand `json:"hazmatRisk"`
	ShippingRisk       stage.RiskBand `json:"shippingRisk"`
	ListingRisk        stage.RiskBand `json:"listingRisk"`
	PackagingRisk      stage.RiskBand `json:"packagingRisk"`
	MatchingConfidence float64        `json:"matchingConfidence"` // [0,1]
}

// Result is the Stage S verdict; the summary portion is what the S-gate
// reads back from the run output.
type Result struct {
	Score       int            `json:"score"` // 0-100, higher is worse
	OverallRisk stage.RiskBand `json:"overallRisk"`
	Action      stage.SAction  `json:"action"`
	Flags       []string       `json:"flags,omitempty"`
}

// component weights sum to 100
var weights = []struct {
	name   string
	weight int
	get    func(Input) stage.RiskBand
}{
	{"compliance", 25, func(in Input) stage.RiskBand { return in.ComplianceRisk }},
	{"ip", 25, func(in Input) stage.RiskBand { return in.IPRisk }},
	{"hazmat", 15, func(in Input) stage.RiskBand { return in.HazmatRisk }},
	{"listing", 15, func(in Input) stage.RiskBand { return in.ListingRisk }},
	{"shipping", 10, func(in Input) stage.RiskBand { return in.ShippingRisk }},
	{"packaging", 10, func(in Input) stage.RiskBand { return in.PackagingRisk }},
}

// Assess scores the component risks. Any hard-block component at high
// (compliance, IP, hazmat) forces a BLOCK regardless of the aggregate.
func Assess(in Input) Result {
	score := 0
	var flags []string
	hardBlock := false

	for _, w := range weights {
		switch w.get(in) {
		case stage.RiskHigh:
			score += w.weight
			flags = append(flags, w.name+"_high")
			if w.name == "compliance" || w.name == "ip" || w.name == "hazmat" {
				hardBlock = true
			}
		case stage.RiskMedium:
			score += w.weight / 2
		}
	}

	if in.MatchingConfidence < 0.6 {
		score += 10
		flags = append(flags, "low_matching_confidence")
	}
	if score > 100 {
		score = 100
	}
	sort.Strings(flags)

	band := stage.RiskLow
	switch {
	case hardBlock || score >= 60:
		band = stage.RiskHigh
	case score >= 30:
		band = stage.RiskMedium
	}

	action := stage.SAdvance
	switch band {
	case stage.RiskHigh:
		action = stage.SBlock
	case stage.RiskMedium:
		action = stage.SReview
	}

	return Result{
		Score:       score,
		OverallRisk: band,
		Action:      action,
		Flags:       flags,
	}
}

// Verdict converts a result to the gate-facing summary.
func (r Result) Verdict() *stage.SVerdict {
	return &stage.SVerdict{
		OverallRisk: r.OverallRisk,
		Action:      r.Action,
		Score:       r.Score,
		Flags:       r.Flags,
	}
}
