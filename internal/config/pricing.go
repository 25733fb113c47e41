package config

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// Pricing is the resolved tier ladder shared by quoting and crediting.
type Pricing struct {
	Targets      map[model.Tier]decimal.Decimal
	Discounts    map[model.Chain]decimal.Decimal
	DefaultCalls int64
	StarterCalls int64
	QuoteValid   time.Duration
}

// TargetsFor resolves the USD targets of a tier selection. A lower rung
// that is disabled or free is replaced by the selected target, and an
// upper rung below the lower one by the lower amount, so a paid tier always
// has positive tier1 and tier2 >= tier1.
func (p Pricing) TargetsFor(tier model.Tier) model.TierTargets {
	selected := p.target(tier)
	lower, upper := tier.Family()

	t1 := p.target(lower)
	if !t1.IsPositive() {
		t1 = selected
	}
	t2 := p.target(upper)
	if t2.LessThan(t1) {
		t2 = t1
	}
	return model.TierTargets{Selected: selected, Tier1: t1, Tier2: t2}
}

func (p Pricing) target(tier model.Tier) decimal.Decimal {
	v, ok := p.Targets[tier]
	if !ok {
		return decimal.NewFromInt(-1)
	}
	return v
}

// Factor is the multiplier applied to a USD target for a coin: one for
// native coins, one minus the chain discount for block tokens.
func (p Pricing) Factor(coin model.Coin) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if coin.Kind() != model.KindBlockToken {
		return one
	}
	return one.Sub(p.Discounts[coin.Chain()])
}
