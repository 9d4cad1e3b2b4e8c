// Package capsim builds a day-indexed cash timeline from a unit-economics
// scenario and derives capital-efficiency metrics: peak outlay, payback
// day, sell-through day, net profit and annualized capital return.
//
// All cents arithmetic is exact integer. The only floats are the final
// rate and ratio values, computed once at the boundary and never re-fed
// into cents arithmetic.
package capsim

import (
	"fmt"
	"math"
	"math/big"

	"github.com/acme/product-pipeline/internal/domain/money"
)

// EngineVersion tags stage-run outputs for idempotent re-run detection.
const EngineVersion = "stage-k:v1"

// Cashflow is one sign-significant cash event on a day within the horizon.
type Cashflow struct {
	Day         int          `json:"day"`
	AmountCents *money.Cents `json:"amountCents"`
}

// Input is the simulation scenario.
type Input struct {
	HorizonDays int        `json:"horizonDays"`
	Cashflows   []Cashflow `json:"cashflows"`
	// UnitsPlanned and UnitsSoldByDay (cumulative units by day index)
	// enable the sell-through metric.
	UnitsPlanned   int   `json:"unitsPlanned,omitempty"`
	UnitsSoldByDay []int `json:"unitsSoldByDay,omitempty"`
	// SellThroughTargetPct defaults to 1.0 when nil.
	SellThroughTargetPct *float64     `json:"sellThroughTargetPct,omitempty"`
	SalvageValueCents    *money.Cents `json:"salvageValueCents,omitempty"`
}

// Timeline carries the parallel day-indexed series of the simulation.
type Timeline struct {
	Days            []int          `json:"days"`
	CashflowCents   []*money.Cents `json:"cashflowCents"`
	CumulativeCents []*money.Cents `json:"cumulativeCents"`
	InvestedCents   []*money.Cents `json:"investedCents"`
}

// Result is the simulation verdict. Nil pointer fields are defined
// "unknown" values (undefined rate, no payback within horizon), never
// silently-defaulted zeros.
type Result struct {
	PeakCashOutlayCents         *money.Cents `json:"peakCashOutlayCents"`
	CapitalDaysCentsDays        *money.Cents `json:"capitalDaysCentsDays"`
	PaybackDay                  *int         `json:"paybackDay"`
	SellThroughDay              *int         `json:"sellThroughDay"`
	NetCashProfitCents          *money.Cents `json:"netCashProfitCents"`
	ProfitPerCapitalDay         *float64     `json:"profitPerCapitalDay"`
	AnnualizedCapitalReturnRate *float64     `json:"annualizedCapitalReturnRate"`
	Timeline                    Timeline     `json:"timeline"`
}

// InvalidInputError reports a scenario that violates a domain invariant.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid simulation input %s: %s", e.Field, e.Reason)
}

// Simulate runs the capital simulation. Pure: safe for concurrent use.
func Simulate(in Input) (*Result, error) {
	if in.HorizonDays <= 0 {
		return nil, &InvalidInputError{Field: "horizonDays", Reason: "must be positive"}
	}
	if len(in.UnitsSoldByDay) > in.HorizonDays+1 {
		return nil, &InvalidInputError{Field: "unitsSoldByDay", Reason: "longer than horizon"}
	}

	days := in.HorizonDays + 1
	flows := make([]*big.Int, days)
	for i := range flows {
		flows[i] = money.Zero()
	}
	for _, cf := range in.Cashflows {
		if cf.Day < 0 || cf.Day > in.HorizonDays {
			return nil, &InvalidInputError{Field: "cashflows", Reason: fmt.Sprintf("day %d outside [0,%d]", cf.Day, in.HorizonDays)}
		}
		if cf.AmountCents == nil {
			return nil, &InvalidInputError{Field: "cashflows", Reason: "missing amount"}
		}
		flows[cf.Day] = money.Add(flows[cf.Day], cf.AmountCents.Big())
	}

	timeline := Timeline{
		Days:            make([]int, days),
		CashflowCents:   centsSeries(flows),
		CumulativeCents: make([]*money.Cents, days),
		InvestedCents:   make([]*money.Cents, days),
	}

	cumulative := money.Zero()
	peak := money.Zero()
	capitalDays := money.Zero()
	var paybackDay *int
	wasNegative := false

	for d := 0; d < days; d++ {
		cumulative = money.Add(cumulative, flows[d])
		invested := money.Zero()
		if cumulative.Sign() < 0 {
			invested = money.Neg(cumulative)
			wasNegative = true
			if invested.Cmp(peak) > 0 {
				peak = invested
			}
		} else if wasNegative && paybackDay == nil {
			day := d
			paybackDay = &day
		}
		capitalDays = money.Add(capitalDays, invested)

		timeline.Days[d] = d
		timeline.CumulativeCents[d] = money.AsCents(cumulative)
		timeline.InvestedCents[d] = money.AsCents(invested)
	}

	net := cumulative
	if in.SalvageValueCents != nil {
		net = money.Add(net, in.SalvageValueCents.Big())
	}

	res := &Result{
		PeakCashOutlayCents:  money.AsCents(peak),
		CapitalDaysCentsDays: money.AsCents(capitalDays),
		PaybackDay:           paybackDay,
		SellThroughDay:       sellThroughDay(in),
		NetCashProfitCents:   money.AsCents(net),
		Timeline:             timeline,
	}

	if capitalDays.Sign() > 0 {
		v := toFloat(net) / toFloat(capitalDays)
		res.ProfitPerCapitalDay = &v
	}
	if peak.Sign() > 0 {
		rate := toFloat(net) / toFloat(peak) * (365.0 / float64(in.HorizonDays))
		res.AnnualizedCapitalReturnRate = &rate
	}

	return res, nil
}

// sellThroughDay is the first day cumulative units sold meets the target
// fraction of planned units; nil when inputs are absent or the target is
// never reached within the horizon.
func sellThroughDay(in Input) *int {
	if in.UnitsPlanned <= 0 || len(in.UnitsSoldByDay) == 0 {
		return nil
	}
	target := 1.0
	if in.SellThroughTargetPct != nil {
		target = *in.SellThroughTargetPct
	}
	required := int(math.Ceil(target*float64(in.UnitsPlanned) - 1e-9))
	for d, sold := range in.UnitsSoldByDay {
		if sold >= required {
			day := d
			return &day
		}
	}
	return nil
}

// ReturnBand buckets an annualized return rate; nil maps to "unknown".
func ReturnBand(rate *float64) string {
	switch {
	case rate == nil:
		return "unknown"
	case *rate < 0.10:
		return "low"
	case *rate < 0.25:
		return "medium"
	default:
		return "high"
	}
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func centsSeries(vs []*big.Int) []*money.Cents {
	out := make([]*money.Cents, len(vs))
	for i, v := range vs {
		out[i] = money.AsCents(v)
	}
	return out
}
