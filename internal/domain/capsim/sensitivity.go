package capsim

import (
	"math/big"

	"github.com/acme/product-pipeline/internal/domain/money"
)

// Perturbation names one isolated input change. Apply must return a new
// Input derived from the base; it must not mutate it.
type Perturbation struct {
	Label string
	Delta float64
	Apply func(base Input, delta float64) Input
}

// Sensitivity labels.
const (
	LabelPriceDelta    = "price_delta_pct"
	LabelCostDelta     = "cost_delta_pct"
	LabelVelocityDelta = "velocity_delta_pct"
)

// DefaultPerturbations are the standard Stage K sensitivities: price and
// cost move one percent, sell-through velocity five percent. One factor
// at a time, never compounded.
func DefaultPerturbations() []Perturbation {
	return []Perturbation{
		{
			Label: LabelPriceDelta,
			Delta: 0.01,
			Apply: func(base Input, delta float64) Input {
				return scaleCashflows(base, delta, true)
			},
		},
		{
			Label: LabelCostDelta,
			Delta: 0.01,
			Apply: func(base Input, delta float64) Input {
				return scaleCashflows(base, delta, false)
			},
		},
		{
			Label: LabelVelocityDelta,
			Delta: 0.05,
			Apply: scaleVelocity,
		},
	}
}

// ComputeSensitivities re-runs the simulation once per perturbation and
// reports the delta in annualized capital return, keyed by label. A nil
// delta means either run's rate was undefined.
func ComputeSensitivities(base Input, defs []Perturbation) (map[string]*float64, error) {
	baseRes, err := Simulate(base)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*float64, len(defs))
	for _, def := range defs {
		perturbed, err := Simulate(def.Apply(base, def.Delta))
		if err != nil {
			return nil, err
		}
		if baseRes.AnnualizedCapitalReturnRate == nil || perturbed.AnnualizedCapitalReturnRate == nil {
			out[def.Label] = nil
			continue
		}
		delta := *perturbed.AnnualizedCapitalReturnRate - *baseRes.AnnualizedCapitalReturnRate
		out[def.Label] = &delta
	}
	return out, nil
}

// scaleCashflows adds delta of each matching flow back onto itself,
// touching only positive flows (price) or only negative flows (cost).
func scaleCashflows(base Input, delta float64, positive bool) Input {
	out := base
	out.Cashflows = make([]Cashflow, len(base.Cashflows))
	for i, cf := range base.Cashflows {
		amount := cf.AmountCents.Big()
		if (positive && amount.Sign() > 0) || (!positive && amount.Sign() < 0) {
			amount = money.Add(amount, money.ApplyRate(amount, delta))
		} else {
			amount = new(big.Int).Set(amount)
		}
		out.Cashflows[i] = Cashflow{Day: cf.Day, AmountCents: money.AsCents(amount)}
	}
	return out
}

// scaleVelocity scales the cumulative units-sold series, capped at the
// planned units. A no-op when the series or plan is absent.
func scaleVelocity(base Input, delta float64) Input {
	if len(base.UnitsSoldByDay) == 0 || base.UnitsPlanned <= 0 {
		return base
	}
	out := base
	out.UnitsSoldByDay = make([]int, len(base.UnitsSoldByDay))
	for i, v := range base.UnitsSoldByDay {
		scaled := int(float64(v)*(1+delta) + 0.5)
		if scaled > base.UnitsPlanned {
			scaled = base.UnitsPlanned
		}
		out.UnitsSoldByDay[i] = scaled
	}
	return out
}
