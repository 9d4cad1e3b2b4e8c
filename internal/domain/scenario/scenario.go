// Package scenario composes a capital-simulation input from the landed
// cost and contribution facts of Stages B and C, optionally shaped by a
// market-velocity prior.
package scenario

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/acme/product-pipeline/internal/domain/capsim"
	"github.com/acme/product-pipeline/internal/domain/econ"
	"github.com/acme/product-pipeline/internal/domain/money"
)

// Version tags scenarios for input-version bookkeeping on stage runs.
const Version = "v1"

// defaultSellDays is the assumed sell-through window when no velocity
// prior is available.
const defaultSellDays = 60

// maxHorizonDays caps generated scenarios at one year.
const maxHorizonDays = 365

// MissingPreconditionError reports an absent upstream stage fact. Distinct
// from a gate block: the caller may prompt for the missing stage instead
// of refusing outright.
type MissingPreconditionError struct {
	Stage string
}

func (e *MissingPreconditionError) Error() string {
	return fmt.Sprintf("stage_%s_required", e.Stage)
}

// VelocityPrior is an external market-velocity estimate for a candidate.
type VelocityPrior struct {
	Source         string     `json:"source"`
	VelocityPerDay float64    `json:"velocityPerDay"`
	UnitsSoldTotal *int       `json:"unitsSoldTotal,omitempty"`
	MaxDay         *int       `json:"maxDay,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// BFacts is the Stage B verdict plus the planned unit count from its input.
type BFacts struct {
	Result       *econ.LandedCostResult
	UnitsPlanned int
}

// Scenario is the composed simulation input with its provenance.
type Scenario struct {
	Version        string       `json:"version"`
	Input          capsim.Input `json:"input"`
	VelocitySource string       `json:"velocitySource"`
}

// Build composes the scenario: deposit and balance outflows on their due
// days, contribution inflows spread over the sell-through window shifted
// by the payout delay, and a cumulative units-sold series for the
// sell-through metric.
func Build(b *BFacts, c *econ.ContributionResult, prior *VelocityPrior) (*Scenario, error) {
	if b == nil || b.Result == nil {
		return nil, &MissingPreconditionError{Stage: "b"}
	}
	if c == nil {
		return nil, &MissingPreconditionError{Stage: "c"}
	}
	if b.UnitsPlanned <= 0 {
		return nil, &MissingPreconditionError{Stage: "b"}
	}

	units := b.UnitsPlanned
	velocitySource := "default"
	velocity := float64(units) / float64(defaultSellDays)
	if prior != nil && prior.VelocityPerDay > 0 {
		velocity = prior.VelocityPerDay
		velocitySource = prior.Source
	}

	sellDays := int(math.Ceil(float64(units) / velocity))
	if sellDays < 1 {
		sellDays = 1
	}

	leadTime := b.Result.LeadTimeDays
	if leadTime < 0 {
		leadTime = 0
	}
	horizon := leadTime + sellDays + c.PayoutDelayDays
	if horizon > maxHorizonDays {
		horizon = maxHorizonDays
	}
	if horizon < 1 {
		horizon = 1
	}

	var flows []capsim.Cashflow
	if b.Result.DepositCents.Sign() > 0 {
		flows = append(flows, capsim.Cashflow{
			Day:         clampDay(b.Result.DepositDueDay, horizon),
			AmountCents: money.AsCents(money.Neg(b.Result.DepositCents.Big())),
		})
	}
	if b.Result.BalanceCents.Sign() > 0 {
		flows = append(flows, capsim.Cashflow{
			Day:         clampDay(b.Result.BalanceDueDay, horizon),
			AmountCents: money.AsCents(money.Neg(b.Result.BalanceCents.Big())),
		})
	}

	soldByDay := make([]int, horizon+1)
	cumulative := 0
	for d := 0; d <= horizon; d++ {
		if d > leadTime {
			sold := int(math.Floor(velocity * float64(d-leadTime)))
			if sold > units {
				sold = units
			}
			cumulative = sold
		}
		soldByDay[d] = cumulative
	}

	// contribution inflows: units sold on a day pay out payoutDelay later
	prevSold := 0
	for d := 0; d <= horizon; d++ {
		soldToday := soldByDay[d] - prevSold
		prevSold = soldByDay[d]
		if soldToday <= 0 {
			continue
		}
		payday := clampDay(d+c.PayoutDelayDays, horizon)
		inflow := new(big.Int).Mul(c.ContributionPerUnitCents.Big(), big.NewInt(int64(soldToday)))
		flows = append(flows, capsim.Cashflow{Day: payday, AmountCents: money.AsCents(inflow)})
	}

	return &Scenario{
		Version:        Version,
		VelocitySource: velocitySource,
		Input: capsim.Input{
			HorizonDays:    horizon,
			Cashflows:      flows,
			UnitsPlanned:   units,
			UnitsSoldByDay: soldByDay,
		},
	}, nil
}

// Expired reports whether a prior is past its expiry at now.
func (p *VelocityPrior) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

func clampDay(d, horizon int) int {
	if d < 0 {
		return 0
	}
	if d > horizon {
		return horizon
	}
	return d
}
