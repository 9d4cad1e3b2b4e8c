// Package triage scores incoming leads and recommends a Stage P action.
package triage

import (
	"sort"

	"github.com/acme/product-pipeline/internal/domain/lead"
)

// Action is the recommended disposition for a scored lead.
type Action string

const (
	ActionPromote Action = "PROMOTE_TO_CANDIDATE"
	ActionHold    Action = "HOLD_FOR_MANUAL_REVIEW"
	ActionReject  Action = "REJECT_WITH_COOLDOWN"
)

// Band groups scores for display and for the action thresholds.
type Band string

const (
	BandHot  Band = "hot"
	BandWarm Band = "warm"
	BandCold Band = "cold"
)

// MaxReasons caps the reason-code list on every triage result.
const MaxReasons = 3

// Reason codes emitted by the scoring drivers, most severe first. The
// severity order is fixed so identical inputs always produce identical
// reason lists.
const (
	ReasonMissingTitle   = "missing_title"
	ReasonMissingURL     = "missing_url"
	ReasonPriceAboveBand = "price_above_band"
	ReasonPriceBelowBand = "price_below_band"
	ReasonUnknownSource  = "unknown_source"
	ReasonThinTitle      = "thin_title"
	ReasonStrongSource   = "strong_source"
	ReasonPriceSweetSpot = "price_sweet_spot"
)

// Admission-level reason codes. They outrank every scoring-driver code so
// that a truncated list never hides why a lead was held or rejected.
const (
	ReasonCooldownActive    = "cooldown_active"
	ReasonDuplicateExisting = "duplicate_existing"
	ReasonDuplicateInBatch  = "duplicate_in_batch"
	ReasonQuotaExhausted    = "daily_quota_exhausted"
)

// reasonSeverity orders codes for truncation; lower is more severe.
var reasonSeverity = map[string]int{
	ReasonCooldownActive:    0,
	ReasonDuplicateExisting: 1,
	ReasonDuplicateInBatch:  2,
	ReasonQuotaExhausted:    3,

	ReasonMissingTitle:   10,
	ReasonMissingURL:     11,
	ReasonPriceAboveBand: 12,
	ReasonPriceBelowBand: 13,
	ReasonUnknownSource:  14,
	ReasonThinTitle:      15,
	ReasonStrongSource:   16,
	ReasonPriceSweetSpot: 17,
}

// Config carries the scoring weights and band boundaries.
type Config struct {
	// PromoteAt and HoldAt are inclusive lower score bounds for the hot
	// and warm bands. Below HoldAt is cold.
	PromoteAt int `yaml:"promote_at"`
	HoldAt    int `yaml:"hold_at"`

	// SourceWeights adjusts the base score per lead source. Unknown
	// sources take UnknownSourcePenalty instead.
	SourceWeights        map[string]int `yaml:"source_weights"`
	UnknownSourcePenalty int            `yaml:"unknown_source_penalty"`

	// PriceBand is the sellable price sweet spot in cents.
	PriceBand struct {
		MinCents int64 `yaml:"min_cents"`
		MaxCents int64 `yaml:"max_cents"`
	} `yaml:"price_band"`

	MinTitleRunes int `yaml:"min_title_runes"`
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		PromoteAt: 70,
		HoldAt:    40,
		SourceWeights: map[string]int{
			"supplier_catalog": 15,
			"marketplace_scan": 10,
			"manual":           5,
			"referral":         10,
		},
		UnknownSourcePenalty: 10,
		MinTitleRunes:        12,
	}
	cfg.PriceBand.MinCents = 1500  // $15
	cfg.PriceBand.MaxCents = 12000 // $120
	return cfg
}

// Result is the Stage P verdict for one lead.
type Result struct {
	Score   int      `json:"score"`
	Band    Band     `json:"band"`
	Reasons []string `json:"reasons"`
	Action  Action   `json:"action"`
}

// Scorer scores leads against a fixed configuration. Pure: safe for
// concurrent use.
type Scorer struct {
	cfg *Config
}

// NewScorer builds a scorer; nil config takes the defaults.
func NewScorer(cfg *Config) *Scorer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Score evaluates one lead. The score starts at a neutral 50 and each
// driver moves it; the final value is clamped to [0,100].
func (s *Scorer) Score(l lead.Lead) Result {
	score := 50
	var reasons []string

	if l.Title == "" {
		score -= 30
		reasons = append(reasons, ReasonMissingTitle)
	} else if len([]rune(l.Title)) < s.cfg.MinTitleRunes {
		score -= 10
		reasons = append(reasons, ReasonThinTitle)
	}

	if l.URL == "" {
		score -= 15
		reasons = append(reasons, ReasonMissingURL)
	}

	if w, ok := s.cfg.SourceWeights[l.Source]; ok {
		score += w
		if w >= 10 {
			reasons = append(reasons, ReasonStrongSource)
		}
	} else {
		score -= s.cfg.UnknownSourcePenalty
		reasons = append(reasons, ReasonUnknownSource)
	}

	switch {
	case l.PriceCents > s.cfg.PriceBand.MaxCents:
		score -= 20
		reasons = append(reasons, ReasonPriceAboveBand)
	case l.PriceCents > 0 && l.PriceCents < s.cfg.PriceBand.MinCents:
		score -= 15
		reasons = append(reasons, ReasonPriceBelowBand)
	case l.PriceCents > 0:
		score += 10
		reasons = append(reasons, ReasonPriceSweetSpot)
	}

	score = clamp(score, 0, 100)
	band, action := s.classify(score)

	return Result{
		Score:   score,
		Band:    band,
		Reasons: OrderReasons(reasons),
		Action:  action,
	}
}

func (s *Scorer) classify(score int) (Band, Action) {
	switch {
	case score >= s.cfg.PromoteAt:
		return BandHot, ActionPromote
	case score >= s.cfg.HoldAt:
		return BandWarm, ActionHold
	default:
		return BandCold, ActionReject
	}
}

// OrderReasons deduplicates, sorts by severity (most severe first) and
// caps the list at MaxReasons. Codes without a known severity sort last
// in lexical order, keeping the output deterministic.
func OrderReasons(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	uniq := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		uniq = append(uniq, c)
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		si, iok := reasonSeverity[uniq[i]]
		sj, jok := reasonSeverity[uniq[j]]
		switch {
		case iok && jok:
			return si < sj
		case iok:
			return true
		case jok:
			return false
		default:
			return uniq[i] < uniq[j]
		}
	})
	if len(uniq) > MaxReasons {
		uniq = uniq[:MaxReasons]
	}
	return uniq
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
