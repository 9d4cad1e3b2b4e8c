// Package cooldown tracks severity-tiered rejection state keyed by
// fingerprint, with time-based expiry and a remediation hint.
package cooldown

import (
	"encoding/json"
	"time"

	"github.com/acme/product-pipeline/internal/domain/triage"
)

// Severity tiers a rejection. Permanent records never expire and carry no
// recheck date; the other tiers expire at RecheckAfter.
type Severity string

const (
	SeverityPermanent Severity = "permanent"
	SeverityLong      Severity = "long_cooldown"
	SeverityShort     Severity = "short_cooldown"
)

// Record is one append-only cooldown fact. The active record for a
// fingerprint is the latest by creation time.
type Record struct {
	ID              string          `json:"id" db:"id"`
	Fingerprint     string          `json:"fingerprint" db:"fingerprint"`
	Severity        Severity        `json:"severity" db:"severity"`
	RecheckAfter    *time.Time      `json:"recheckAfter,omitempty" db:"recheck_after"`
	ReasonCode      string          `json:"reasonCode" db:"reason_code"`
	WhatWouldChange string          `json:"whatWouldChange,omitempty" db:"what_would_change"`
	Snapshot        json.RawMessage `json:"snapshot,omitempty" db:"snapshot_json"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// Plan is the cooldown to record for a rejected lead.
type Plan struct {
	Severity        Severity   `json:"severity"`
	RecheckAfter    *time.Time `json:"recheckAfter,omitempty"`
	ReasonCode      string     `json:"reasonCode"`
	WhatWouldChange string     `json:"whatWouldChange"`
}

// Config sets the default expiry windows per severity tier.
type Config struct {
	ShortDays int `yaml:"short_days"`
	LongDays  int `yaml:"long_days"`
	// LongBelowScore routes very weak leads to the long tier.
	LongBelowScore int `yaml:"long_below_score"`
}

// DefaultConfig returns the production cooldown windows.
func DefaultConfig() *Config {
	return &Config{
		ShortDays:      14,
		LongDays:       90,
		LongBelowScore: 20,
	}
}

// Policy derives cooldown plans and activity. Pure given explicit now.
type Policy struct {
	cfg *Config
}

// NewPolicy builds a policy; nil config takes the defaults.
func NewPolicy(cfg *Config) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Policy{cfg: cfg}
}

// BuildPlan maps a rejecting triage result to a cooldown plan. Idempotent:
// the same result and now always produce the same plan.
func (p *Policy) BuildPlan(res triage.Result, now time.Time) Plan {
	severity := SeverityShort
	if res.Score < p.cfg.LongBelowScore {
		severity = SeverityLong
	}

	reason := "triage_reject"
	if len(res.Reasons) > 0 {
		reason = res.Reasons[0]
	}

	return Plan{
		Severity:        severity,
		RecheckAfter:    p.ComputeRecheckAfter(severity, now, nil, nil),
		ReasonCode:      reason,
		WhatWouldChange: whatWouldChange(severity, reason),
	}
}

// ComputeRecheckAfter resolves the expiry timestamp for a severity. An
// explicit timestamp wins over an explicit day count, which wins over the
// severity default. Permanent always yields nil.
func (p *Policy) ComputeRecheckAfter(severity Severity, now time.Time, overrideDays *int, overrideAt *time.Time) *time.Time {
	if severity == SeverityPermanent {
		return nil
	}
	if overrideAt != nil {
		at := overrideAt.UTC()
		return &at
	}
	days := p.cfg.ShortDays
	if severity == SeverityLong {
		days = p.cfg.LongDays
	}
	if overrideDays != nil {
		days = *overrideDays
	}
	at := now.UTC().AddDate(0, 0, days)
	return &at
}

// IsActive reports whether a cooldown still blocks its fingerprint.
// Permanent records are always active. Non-permanent records are active
// strictly before RecheckAfter; a missing RecheckAfter on a non-permanent
// record is treated as expired.
func IsActive(severity Severity, recheckAfter *time.Time, now time.Time) bool {
	if severity == SeverityPermanent {
		return true
	}
	return recheckAfter != nil && now.Before(*recheckAfter)
}

func whatWouldChange(severity Severity, reason string) string {
	if severity == SeverityPermanent {
		return "Nothing; this fingerprint is permanently blocked."
	}
	switch reason {
	case triage.ReasonMissingTitle, triage.ReasonThinTitle:
		return "Resubmit with a complete product title."
	case triage.ReasonMissingURL:
		return "Resubmit with a source URL so the listing can be verified."
	case triage.ReasonPriceAboveBand:
		return "A supplier quote that brings the price into the sellable band."
	case triage.ReasonPriceBelowBand:
		return "Evidence the unit economics work below the price band floor."
	case triage.ReasonUnknownSource:
		return "A lead from a vetted source for the same product."
	default:
		return "A materially stronger triage signal on resubmission."
	}
}
