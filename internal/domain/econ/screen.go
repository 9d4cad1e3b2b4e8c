package econ

import (
	"math/big"

	"github.com/acme/product-pipeline/internal/domain/money"
)

// ScreenAction is the Stage A recommendation.
type ScreenAction string

const (
	ScreenAdvance ScreenAction = "advance"
	ScreenReview  ScreenAction = "review"
	ScreenReject  ScreenAction = "reject"
)

// ScreenInput is the Stage A quick economics screen: a coarse margin check
// run before any supplier work, using rough numbers.
type ScreenInput struct {
	SalePriceCents         *money.Cents `json:"salePriceCents"`
	UnitCostCents          *money.Cents `json:"unitCostCents"`
	ShippingCents          *money.Cents `json:"shippingCents,omitempty"`
	FeesPctHundredths      int64        `json:"feesPctHundredths"`
	TargetMarginHundredths int64        `json:"targetMarginHundredths"`
}

// ScreenResult is the Stage A verdict.
type ScreenResult struct {
	NetPerUnitCents  *money.Cents `json:"netPerUnitCents"`
	MarginHundredths int64        `json:"marginHundredths"`
	Action           ScreenAction `json:"action"`
}

// ComputeScreen runs the Stage A calculation. Margin at or above target
// advances; at least half the target goes to review; below that rejects.
func ComputeScreen(in ScreenInput) (*ScreenResult, error) {
	if in.SalePriceCents == nil || in.SalePriceCents.Sign() <= 0 {
		return nil, invalid("salePriceCents", "must be positive")
	}
	if in.UnitCostCents == nil || in.UnitCostCents.Sign() < 0 {
		return nil, invalid("unitCostCents", "must be non-negative")
	}
	if in.ShippingCents != nil && in.ShippingCents.Sign() < 0 {
		return nil, invalid("shippingCents", "must be non-negative")
	}
	if in.FeesPctHundredths < 0 || in.FeesPctHundredths > 10000 {
		return nil, invalid("feesPctHundredths", "must be within [0,10000]")
	}

	salePrice := in.SalePriceCents.Big()
	fees := money.ApplyPercent(salePrice, in.FeesPctHundredths)
	net := money.Sub(salePrice, fees)
	net = money.Sub(net, in.UnitCostCents.Big())
	if in.ShippingCents != nil {
		net = money.Sub(net, in.ShippingCents.Big())
	}

	// margin in hundredths of a percent, truncated toward zero
	scaled := new(big.Int).Mul(net, big.NewInt(10000))
	margin := scaled.Quo(scaled, salePrice).Int64()

	action := ScreenReject
	switch {
	case margin >= in.TargetMarginHundredths:
		action = ScreenAdvance
	case margin >= in.TargetMarginHundredths/2:
		action = ScreenReview
	}

	return &ScreenResult{
		NetPerUnitCents:  money.AsCents(net),
		MarginHundredths: margin,
		Action:           action,
	}, nil
}
