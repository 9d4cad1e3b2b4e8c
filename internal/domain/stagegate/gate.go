// Package stagegate blocks downstream stages while upstream gating stages
// hold an unfavorable verdict.
//
// Gate evaluation is read-only and pure given the latest stage-run facts:
// it never mutates state, and a refusal is a structured result rather than
// an error, because blocks are an expected business outcome.
package stagegate

import (
	"github.com/acme/product-pipeline/internal/domain/stage"
)

// Block codes returned on refusal.
const (
	CodeTBlocked     = "stage_t_blocked"
	CodeTNeedsReview = "stage_t_needs_review"
	CodeSBlocked     = "stage_s_blocked"
)

// Verdicts holds the decoded latest-succeeded verdicts of the gating
// stages. A nil field means that stage has no succeeded run yet.
type Verdicts struct {
	T *stage.TVerdict
	S *stage.SVerdict
}

// Decision is the gate outcome. Allowed is true iff Code is empty.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func allowed() Decision {
	return Decision{Allowed: true}
}

func blocked(code, detail string) Decision {
	return Decision{Code: code, Detail: detail}
}

// EvaluateT applies the T-gate: blocked and needs_review refuse, allowed
// or absent passes.
func EvaluateT(v Verdicts) Decision {
	if v.T == nil {
		return allowed()
	}
	switch v.T.Decision {
	case stage.TBlocked:
		return blocked(CodeTBlocked, "eligibility check blocked this candidate")
	case stage.TNeedsReview:
		return blocked(CodeTNeedsReview, "eligibility check requires manual review")
	default:
		return allowed()
	}
}

// EvaluateS applies the S-gate: overall risk high or action BLOCK refuses.
func EvaluateS(v Verdicts) Decision {
	if v.S == nil {
		return allowed()
	}
	if v.S.OverallRisk == stage.RiskHigh || v.S.Action == stage.SBlock {
		return blocked(CodeSBlocked, "risk assessment blocks this candidate")
	}
	return allowed()
}

// Evaluate applies the combined gate: T first, else S.
func Evaluate(v Verdicts) Decision {
	if d := EvaluateT(v); !d.Allowed {
		return d
	}
	return EvaluateS(v)
}

// gatedStages are refused while a gate holds. Upstream stages (market
// capture, the eligibility and risk checks themselves, and the pure B/C
// calculators) run ungated.
var gatedStages = map[stage.Letter]bool{
	stage.StageN: true,
	stage.StageD: true,
	stage.StageK: true,
	stage.StageR: true,
}

// IsGated reports whether a stage is subject to the combined gate.
func IsGated(s stage.Letter) bool {
	return gatedStages[s]
}

// Check evaluates the combined gate for a stage; ungated stages always
// pass without consulting the verdicts.
func Check(s stage.Letter, v Verdicts) Decision {
	if !IsGated(s) {
		return allowed()
	}
	return Evaluate(v)
}
