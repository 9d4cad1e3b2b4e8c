// Package scorecard implements the Stage R decision scorecard: it folds
// operator-entered risk/effort scores together with the Stage K capital
// return into a ranked next action for the human decision.
package scorecard

import (
	"github.com/acme/product-pipeline/internal/domain/stage"
)

// NextAction is the Stage R recommendation.
type NextAction string

const (
	NextAdvance      NextAction = "advance"
	NextReviewRisk   NextAction = "review_risk"
	NextReviewEffort NextAction = "review_effort"
	NextNeedStageK   NextAction = "need_stage_k"
)

// Input carries the scorecard facts. ReturnRate is the annualized capital
// return from the latest Stage K run; nil when Stage K has not succeeded.
type Input struct {
	RiskScore     int      `json:"riskScore"`   // 0-100, higher is worse
	EffortScore   int      `json:"effortScore"` // 0-100, higher is worse
	RiskDrivers   []string `json:"riskDrivers,omitempty"`
	EffortDrivers []string `json:"effortDrivers,omitempty"`
	ReturnRate    *float64 `json:"returnRate,omitempty"`
}

// Result is the Stage R verdict.
type Result struct {
	RiskBand    stage.RiskBand `json:"riskBand"`
	EffortBand  stage.RiskBand `json:"effortBand"`
	ReturnRate  *float64       `json:"returnRate"`
	RankScore   *float64       `json:"rankScore"`
	NextAction  NextAction     `json:"nextAction"`
}

// rank penalties: risk weighs heavier than effort
const (
	riskPenaltyWeight   = 0.25
	effortPenaltyWeight = 0.15
)

// Compute derives the scorecard. RankScore stays nil until Stage K has
// produced a defined return rate; an unknown return is never ranked as
// zero.
func Compute(in Input) Result {
	res := Result{
		RiskBand:   band(in.RiskScore),
		EffortBand: band(in.EffortScore),
		ReturnRate: in.ReturnRate,
	}

	if in.ReturnRate != nil {
		rank := *in.ReturnRate*100 -
			float64(in.RiskScore)*riskPenaltyWeight -
			float64(in.EffortScore)*effortPenaltyWeight
		res.RankScore = &rank
	}

	switch {
	case in.ReturnRate == nil:
		res.NextAction = NextNeedStageK
	case res.RiskBand == stage.RiskHigh:
		res.NextAction = NextReviewRisk
	case res.EffortBand == stage.RiskHigh:
		res.NextAction = NextReviewEffort
	default:
		res.NextAction = NextAdvance
	}
	return res
}

func band(score int) stage.RiskBand {
	switch {
	case score >= 67:
		return stage.RiskHigh
	case score >= 34:
		return stage.RiskMedium
	default:
		return stage.RiskLow
	}
}
