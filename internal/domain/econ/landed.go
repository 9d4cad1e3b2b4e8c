package econ

import (
	"math/big"

	"github.com/acme/product-pipeline/internal/domain/money"
)

// LandedCostInput is the Stage B request: per-unit cost components in
// cents, each non-negative and defaulting to zero.
type LandedCostInput struct {
	UnitsPlanned    int          `json:"unitsPlanned"`
	UnitCostCents   *money.Cents `json:"unitCostCents"`
	FreightCents    *money.Cents `json:"freightCents,omitempty"`
	DutyCents       *money.Cents `json:"dutyCents,omitempty"`
	VATCents        *money.Cents `json:"vatCents,omitempty"`
	PackagingCents  *money.Cents `json:"packagingCents,omitempty"`
	InspectionCents *money.Cents `json:"inspectionCents,omitempty"`
	OtherCents      *money.Cents `json:"otherCents,omitempty"`

	// DepositPctHundredths splits the total into a deposit due at day 0
	// and a balance due BalanceDueDays later (1500 == 15.00%).
	DepositPctHundredths int64 `json:"depositPctHundredths"`
	BalanceDueDays       int   `json:"balanceDueDays"`
	LeadTimeDays         int   `json:"leadTimeDays,omitempty"`
}

// LandedCostResult is the Stage B verdict.
type LandedCostResult struct {
	PerUnitLandedCents *money.Cents `json:"perUnitLandedCents"`
	TotalLandedCents   *money.Cents `json:"totalLandedCents"`
	DepositCents       *money.Cents `json:"depositCents"`
	BalanceCents       *money.Cents `json:"balanceCents"`
	DepositDueDay      int          `json:"depositDueDay"`
	BalanceDueDay      int          `json:"balanceDueDay"`
	LeadTimeDays       int          `json:"leadTimeDays"`
}

// ComputeLandedCost runs the Stage B calculation. The balance is the
// exact remainder after the truncating percent split, so deposit+balance
// always reproduces the total to the cent.
func ComputeLandedCost(in LandedCostInput) (*LandedCostResult, error) {
	if in.UnitsPlanned <= 0 {
		return nil, invalid("unitsPlanned", "must be positive")
	}
	if in.DepositPctHundredths < 0 || in.DepositPctHundredths > 10000 {
		return nil, invalid("depositPctHundredths", "must be within [0,10000]")
	}
	if in.BalanceDueDays < 0 {
		return nil, invalid("balanceDueDays", "must be non-negative")
	}

	perUnit := money.Zero()
	components := []struct {
		name  string
		cents *money.Cents
	}{
		{"unitCostCents", in.UnitCostCents},
		{"freightCents", in.FreightCents},
		{"dutyCents", in.DutyCents},
		{"vatCents", in.VATCents},
		{"packagingCents", in.PackagingCents},
		{"inspectionCents", in.InspectionCents},
		{"otherCents", in.OtherCents},
	}
	for _, c := range components {
		if c.cents == nil {
			continue
		}
		if c.cents.Sign() < 0 {
			return nil, invalid(c.name, "must be non-negative")
		}
		perUnit = money.Add(perUnit, c.cents.Big())
	}

	total := new(big.Int).Mul(perUnit, big.NewInt(int64(in.UnitsPlanned)))
	deposit := money.ApplyPercent(total, in.DepositPctHundredths)
	balance := money.Sub(total, deposit)

	return &LandedCostResult{
		PerUnitLandedCents: money.AsCents(perUnit),
		TotalLandedCents:   money.AsCents(total),
		DepositCents:       money.AsCents(deposit),
		BalanceCents:       money.AsCents(balance),
		DepositDueDay:      0,
		BalanceDueDay:      in.BalanceDueDays,
		LeadTimeDays:       in.LeadTimeDays,
	}, nil
}
