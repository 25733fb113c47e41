package watcher

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// Outcome is the result of applying one observed amount to a payment.
type Outcome string

const (
	OutcomeNoChange       Outcome = "no_change"
	OutcomeInsufficient   Outcome = "insufficient"
	OutcomeSettled        Outcome = "settled"
	OutcomeSettledExpired Outcome = "settled_expired"
	OutcomeTopUp          Outcome = "top_up"
	OutcomeWithdrawal     Outcome = "withdrawal"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeNoQuote        Outcome = "no_quote"
)

// Changed reports whether the project and payment must be persisted.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeSettled, OutcomeSettledExpired, OutcomeTopUp, OutcomeWithdrawal:
		return true
	}
	return false
}

// FreshQuote prices the coin at current rates for the project's tier.
type FreshQuote func() (model.CoinQuote, bool)

// Credit is the result of a crediting decision.
type Credit struct {
	Outcome Outcome
	Calls   int64
	Archive bool
	// Required is the minimum that value added had to reach.
	Required decimal.Decimal
}

// Apply runs the crediting rules for one coin on one payment. observed is
// the amount now held for the coin and valueAdded its increase over the
// credited high-water mark. proj and pay are mutated only when the outcome
// reports a change.
func Apply(now time.Time, proj *model.Project, pay *model.Payment, coin model.Coin, observed, valueAdded decimal.Decimal, pricing config.Pricing, fresh FreshQuote) Credit {
	q := pay.Quote(coin)

	if valueAdded.IsNegative() {
		q.CreditedAmount = observed
		return Credit{Outcome: OutcomeWithdrawal}
	}
	if valueAdded.IsZero() {
		return Credit{Outcome: OutcomeNoChange}
	}

	var (
		amounts model.CoinQuote
		rate    = pricing.DefaultCalls
		outcome Outcome
	)
	switch {
	case pay.Pending && !pay.QuoteExpired(now, pricing.QuoteValid):
		if !q.Priced() {
			return Credit{Outcome: OutcomeNoQuote}
		}
		amounts = *q
		outcome = OutcomeSettled
	case pay.Pending:
		fq, ok := fresh()
		if !ok || !fq.Priced() {
			return Credit{Outcome: OutcomeDeferred}
		}
		amounts = fq
		rate /= 2
		outcome = OutcomeSettledExpired
	default:
		fq, ok := fresh()
		if !ok || !fq.Priced() {
			return Credit{Outcome: OutcomeDeferred}
		}
		amounts = fq
		outcome = OutcomeTopUp
	}

	required := amounts.MinAmount.Decimal
	if valueAdded.LessThan(required) {
		return Credit{Outcome: OutcomeInsufficient, Required: required}
	}

	tier1 := amounts.Tier1Amount.Decimal
	if !tier1.IsPositive() {
		return Credit{Outcome: OutcomeNoQuote}
	}
	// A quote stored with a free or missing upper rung prices archive at tier1.
	tier2 := amounts.Tier2Amount.Decimal
	if tier2.LessThan(tier1) {
		tier2 = tier1
	}
	archive := valueAdded.GreaterThanOrEqual(tier2)
	chosen := tier1
	if archive {
		chosen = tier2
	}

	calls := callsFor(rate, valueAdded, chosen)

	// The first settlement of a never-activated project replaces the grant.
	if outcome != OutcomeTopUp && !proj.EverActivated {
		if calls > proj.GrantedCalls {
			proj.GrantedCalls = calls
		}
	} else {
		proj.GrantedCalls = addCalls(proj.GrantedCalls, calls)
	}
	proj.ArchiveMode = archive
	proj.RecomputeActive()
	proj.ExtendExpiry(now)

	q.CreditedAmount = observed
	pay.Pending = false

	return Credit{Outcome: outcome, Calls: calls, Archive: archive, Required: required}
}

var maxCalls = decimal.NewFromInt(math.MaxInt64)

// callsFor converts value at the chosen amount into whole calls, saturating
// at the largest grant a project can hold.
func callsFor(rate int64, value, chosen decimal.Decimal) int64 {
	calls := decimal.NewFromInt(rate).Mul(value).DivRound(chosen, 8).Floor()
	if calls.GreaterThan(maxCalls) {
		return math.MaxInt64
	}
	return calls.IntPart()
}

func addCalls(granted, calls int64) int64 {
	if calls > 0 && granted > math.MaxInt64-calls {
		return math.MaxInt64
	}
	return granted + calls
}
