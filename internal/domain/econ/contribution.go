package econ

import (
	"math/big"

	"github.com/acme/product-pipeline/internal/domain/money"
)

// ContributionInput is the Stage C request. Percentages are expressed in
// hundredths of a percent (1500 == 15.00%).
type ContributionInput struct {
	SalePriceCents           *money.Cents `json:"salePriceCents"`
	PlatformFeePctHundredths int64        `json:"platformFeePctHundredths"`
	FulfillmentCents         *money.Cents `json:"fulfillmentCents,omitempty"`
	StorageCents             *money.Cents `json:"storageCents,omitempty"`
	AdvertisingCents         *money.Cents `json:"advertisingCents,omitempty"`
	OtherFeesCents           *money.Cents `json:"otherFeesCents,omitempty"`
	ReturnRatePctHundredths  int64        `json:"returnRatePctHundredths"`
	PayoutDelayDays          int          `json:"payoutDelayDays,omitempty"`
	UnitsPlanned             int          `json:"unitsPlanned,omitempty"`
}

// ContributionResult is the Stage C verdict. ContributionMarginPct is the
// only float in the result, computed once from an integer-rounded
// hundredths value and never re-fed into cents arithmetic.
type ContributionResult struct {
	PlatformFeeCents         *money.Cents `json:"platformFeeCents"`
	ReturnLossCents          *money.Cents `json:"returnLossCents"`
	NetRevenuePerUnitCents   *money.Cents `json:"netRevenuePerUnitCents"`
	ContributionPerUnitCents *money.Cents `json:"contributionPerUnitCents"`
	TotalContributionCents   *money.Cents `json:"totalContributionCents,omitempty"`
	ContributionMarginPct    float64      `json:"contributionMarginPct"`
	PayoutDelayDays          int          `json:"payoutDelayDays"`
}

// ComputeContribution runs the Stage C calculation.
func ComputeContribution(in ContributionInput) (*ContributionResult, error) {
	if in.SalePriceCents == nil || in.SalePriceCents.Sign() <= 0 {
		return nil, invalid("salePriceCents", "must be positive")
	}
	if in.PlatformFeePctHundredths < 0 || in.PlatformFeePctHundredths > 10000 {
		return nil, invalid("platformFeePctHundredths", "must be within [0,10000]")
	}
	if in.ReturnRatePctHundredths < 0 || in.ReturnRatePctHundredths > 10000 {
		return nil, invalid("returnRatePctHundredths", "must be within [0,10000]")
	}

	fees := money.Zero()
	for _, c := range []struct {
		name  string
		cents *money.Cents
	}{
		{"fulfillmentCents", in.FulfillmentCents},
		{"storageCents", in.StorageCents},
		{"advertisingCents", in.AdvertisingCents},
		{"otherFeesCents", in.OtherFeesCents},
	} {
		if c.cents == nil {
			continue
		}
		if c.cents.Sign() < 0 {
			return nil, invalid(c.name, "must be non-negative")
		}
		fees = money.Add(fees, c.cents.Big())
	}

	salePrice := in.SalePriceCents.Big()
	platformFee := money.ApplyPercent(salePrice, in.PlatformFeePctHundredths)
	returnLoss := money.ApplyPercent(salePrice, in.ReturnRatePctHundredths)
	netRevenue := money.Sub(money.Sub(salePrice, platformFee), returnLoss)
	contribution := money.Sub(netRevenue, fees)

	res := &ContributionResult{
		PlatformFeeCents:         money.AsCents(platformFee),
		ReturnLossCents:          money.AsCents(returnLoss),
		NetRevenuePerUnitCents:   money.AsCents(netRevenue),
		ContributionPerUnitCents: money.AsCents(contribution),
		ContributionMarginPct:    marginPct(contribution, salePrice),
		PayoutDelayDays:          in.PayoutDelayDays,
	}
	if in.UnitsPlanned > 0 {
		res.TotalContributionCents = money.AsCents(new(big.Int).Mul(contribution, big.NewInt(int64(in.UnitsPlanned))))
	}
	return res, nil
}

// marginPct computes contribution/salePrice as a percentage rounded to two
// decimal places. Rounding is half-away-from-zero on the scaled integer,
// keeping the result stable across platforms.
func marginPct(contribution, salePrice *big.Int) float64 {
	// hundredths of a percent: contribution*10000 / salePrice, rounded
	num := new(big.Int).Mul(contribution, big.NewInt(10000))
	num.Mul(num, big.NewInt(2))
	den := new(big.Int).Mul(salePrice, big.NewInt(2))
	if num.Sign() >= 0 {
		num.Add(num, salePrice)
	} else {
		num.Sub(num, salePrice)
	}
	hundredths := new(big.Int).Quo(num, den)
	f, _ := new(big.Float).SetInt(hundredths).Float64()
	return f / 100
}
