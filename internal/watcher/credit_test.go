package watcher

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

var quoteStart = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPricing() config.Pricing {
	return config.Pricing{
		Targets: map[model.Tier]decimal.Decimal{
			model.TierEntry:   decimal.NewFromInt(35),
			model.TierArchive: decimal.NewFromInt(200),
		},
		DefaultCalls: 6_000_000,
		StarterCalls: 1000,
		QuoteValid:   time.Hour,
	}
}

func lockedQuote(coin model.Coin, min, tier1, tier2 string) model.CoinQuote {
	return model.CoinQuote{
		Coin:        coin,
		MinAmount:   decimal.NewNullDecimal(dec(min)),
		Tier1Amount: decimal.NewNullDecimal(dec(tier1)),
		Tier2Amount: decimal.NewNullDecimal(dec(tier2)),
	}
}

// pendingFixture is an entry tier project quoted at 2000 USD/ETH.
func pendingFixture() (*model.Project, *model.Payment) {
	proj := &model.Project{ID: uuid.New(), Tier: model.TierEntry}
	pay := model.NewPayment(proj.ID)
	pay.Pending = true
	start := quoteStart
	pay.QuoteStartTime = &start
	q := lockedQuote(model.CoinETH, "0.0175", "0.0175", "0.1")
	pay.Quotes[model.CoinETH] = &q
	return proj, pay
}

func freshQuote(q model.CoinQuote, ok bool) FreshQuote {
	return func() (model.CoinQuote, bool) { return q, ok }
}

func noFresh(t *testing.T) FreshQuote {
	return func() (model.CoinQuote, bool) {
		t.Fatal("fresh quote must not be requested")
		return model.CoinQuote{}, false
	}
}

func TestApplyPendingQuote(t *testing.T) {
	pricing := testPricing()
	now := quoteStart.Add(30 * time.Minute)

	t.Run("exact minimum grants the full allotment", func(t *testing.T) {
		proj, pay := pendingFixture()

		res := Apply(now, proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, noFresh(t))

		assert.Equal(t, OutcomeSettled, res.Outcome)
		assert.Equal(t, int64(6_000_000), proj.GrantedCalls)
		assert.True(t, proj.Active)
		assert.True(t, proj.EverActivated)
		assert.False(t, proj.ArchiveMode)
		assert.False(t, pay.Pending)
		assert.Equal(t, "0.0175", pay.Quotes[model.CoinETH].CreditedAmount.String())
		require.NotNil(t, proj.ExpiresAt)
		assert.Equal(t, now.Add(model.CreditValidity), *proj.ExpiresAt)
	})

	t.Run("scales by value added and rounds down", func(t *testing.T) {
		proj, pay := pendingFixture()

		res := Apply(now, proj, pay, model.CoinETH, dec("0.02"), dec("0.02"), pricing, noFresh(t))

		assert.Equal(t, OutcomeSettled, res.Outcome)
		assert.Equal(t, int64(6_857_142), res.Calls)
		assert.Equal(t, int64(6_857_142), proj.GrantedCalls)
	})

	t.Run("tier2 amount switches to archive mode", func(t *testing.T) {
		proj, pay := pendingFixture()

		res := Apply(now, proj, pay, model.CoinETH, dec("0.1"), dec("0.1"), pricing, noFresh(t))

		assert.True(t, res.Archive)
		assert.True(t, proj.ArchiveMode)
		assert.Equal(t, int64(6_000_000), proj.GrantedCalls)
	})

	t.Run("zero tier2 amount prices archive at tier1", func(t *testing.T) {
		proj, pay := pendingFixture()
		q := lockedQuote(model.CoinETH, "0.0175", "0.0175", "0")
		pay.Quotes[model.CoinETH] = &q

		res := Apply(now, proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, noFresh(t))

		assert.Equal(t, OutcomeSettled, res.Outcome)
		assert.True(t, res.Archive)
		assert.Equal(t, int64(6_000_000), proj.GrantedCalls)
		assert.False(t, pay.Pending)
	})

	t.Run("below minimum changes nothing", func(t *testing.T) {
		proj, pay := pendingFixture()

		res := Apply(now, proj, pay, model.CoinETH, dec("0.01"), dec("0.01"), pricing, noFresh(t))

		assert.Equal(t, OutcomeInsufficient, res.Outcome)
		assert.False(t, res.Outcome.Changed())
		assert.Equal(t, "0.0175", res.Required.String())
		assert.True(t, pay.Pending)
		assert.True(t, pay.Quotes[model.CoinETH].CreditedAmount.IsZero())
		assert.Zero(t, proj.GrantedCalls)
		assert.False(t, proj.Active)
	})

	t.Run("first settlement replaces the starting grant", func(t *testing.T) {
		proj, pay := pendingFixture()
		proj.GrantedCalls = 10

		Apply(now, proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, noFresh(t))
		assert.Equal(t, int64(6_000_000), proj.GrantedCalls)
	})

	t.Run("unpriced coin in a valid quote is skipped", func(t *testing.T) {
		proj, pay := pendingFixture()

		res := Apply(now, proj, pay, model.CoinABLOCK, dec("100"), dec("100"), pricing, noFresh(t))

		assert.Equal(t, OutcomeNoQuote, res.Outcome)
		assert.True(t, pay.Pending)
	})

	t.Run("active tracks usage after crediting", func(t *testing.T) {
		proj, pay := pendingFixture()
		proj.UsedCalls = 7_000_000

		Apply(now, proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, noFresh(t))

		assert.Equal(t, proj.GrantedCalls > proj.UsedCalls, proj.Active)
		assert.False(t, proj.Active)
	})
}

func TestApplyExpiredQuote(t *testing.T) {
	pricing := testPricing()
	fresh := lockedQuote(model.CoinETH, "0.0175", "0.0175", "0.1")

	t.Run("credits at half rate", func(t *testing.T) {
		projBefore, payBefore := pendingFixture()
		Apply(quoteStart.Add(10*time.Minute), projBefore, payBefore, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, noFresh(t))

		proj, pay := pendingFixture()
		res := Apply(quoteStart.Add(2*time.Hour), proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, freshQuote(fresh, true))

		assert.Equal(t, OutcomeSettledExpired, res.Outcome)
		assert.Equal(t, projBefore.GrantedCalls/2, proj.GrantedCalls)
		assert.Equal(t, int64(3_000_000), proj.GrantedCalls)
		assert.False(t, pay.Pending)
	})

	t.Run("the boundary instant counts as expired", func(t *testing.T) {
		proj, pay := pendingFixture()
		res := Apply(quoteStart.Add(time.Hour), proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, freshQuote(fresh, true))
		assert.Equal(t, OutcomeSettledExpired, res.Outcome)
	})

	t.Run("fresh prices govern the minimum", func(t *testing.T) {
		proj, pay := pendingFixture()
		pricier := lockedQuote(model.CoinETH, "0.035", "0.035", "0.2")

		res := Apply(quoteStart.Add(2*time.Hour), proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, freshQuote(pricier, true))

		assert.Equal(t, OutcomeInsufficient, res.Outcome)
		assert.Equal(t, "0.035", res.Required.String())
	})

	t.Run("defers without a fresh price", func(t *testing.T) {
		proj, pay := pendingFixture()

		res := Apply(quoteStart.Add(2*time.Hour), proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, freshQuote(model.CoinQuote{}, false))

		assert.Equal(t, OutcomeDeferred, res.Outcome)
		assert.True(t, pay.Pending)
		assert.True(t, pay.Quotes[model.CoinETH].CreditedAmount.IsZero())
	})
}

func TestApplySettledPayment(t *testing.T) {
	pricing := testPricing()
	now := quoteStart.Add(48 * time.Hour)
	fresh := lockedQuote(model.CoinETH, "0.0175", "0.0175", "0.1")

	settled := func() (*model.Project, *model.Payment) {
		proj, pay := pendingFixture()
		Apply(quoteStart.Add(time.Minute), proj, pay, model.CoinETH, dec("0.0175"), dec("0.0175"), pricing, noFresh(t))
		return proj, pay
	}

	t.Run("top-up adds to the grant", func(t *testing.T) {
		proj, pay := settled()

		res := Apply(now, proj, pay, model.CoinETH, dec("0.035"), dec("0.0175"), pricing, freshQuote(fresh, true))

		assert.Equal(t, OutcomeTopUp, res.Outcome)
		assert.Equal(t, int64(12_000_000), proj.GrantedCalls)
		assert.Equal(t, "0.035", pay.Quotes[model.CoinETH].CreditedAmount.String())
		assert.Equal(t, now.Add(model.CreditValidity), *proj.ExpiresAt)
	})

	t.Run("withdrawal lowers credited amount only", func(t *testing.T) {
		proj, pay := settled()
		expires := *proj.ExpiresAt

		res := Apply(now, proj, pay, model.CoinETH, dec("0.005"), dec("-0.0125"), pricing, noFresh(t))

		assert.Equal(t, OutcomeWithdrawal, res.Outcome)
		assert.True(t, res.Outcome.Changed())
		assert.Equal(t, "0.005", pay.Quotes[model.CoinETH].CreditedAmount.String())
		assert.Equal(t, int64(6_000_000), proj.GrantedCalls)
		assert.Equal(t, expires, *proj.ExpiresAt)
	})

	t.Run("unchanged balance is a no-op", func(t *testing.T) {
		proj, pay := settled()

		res := Apply(now, proj, pay, model.CoinETH, dec("0.0175"), decimal.Zero, pricing, noFresh(t))

		assert.Equal(t, OutcomeNoChange, res.Outcome)
		assert.Equal(t, int64(6_000_000), proj.GrantedCalls)
	})

	t.Run("grant saturates instead of overflowing", func(t *testing.T) {
		proj, pay := settled()
		proj.GrantedCalls = math.MaxInt64 - 10

		res := Apply(now, proj, pay, model.CoinETH, dec("0.035"), dec("0.0175"), pricing, freshQuote(fresh, true))

		assert.Equal(t, OutcomeTopUp, res.Outcome)
		assert.Equal(t, int64(math.MaxInt64), proj.GrantedCalls)
	})

	t.Run("credited amount never decreases on positive deposits", func(t *testing.T) {
		proj, pay := settled()
		for _, observed := range []string{"0.02", "0.03", "0.06"} {
			before := pay.Quotes[model.CoinETH].CreditedAmount
			added := dec(observed).Sub(before)
			Apply(now, proj, pay, model.CoinETH, dec(observed), added, pricing, freshQuote(fresh, true))
			assert.True(t, pay.Quotes[model.CoinETH].CreditedAmount.GreaterThanOrEqual(before))
		}
	})
}

func TestCallsFor(t *testing.T) {
	assert.Equal(t, int64(6_857_142), callsFor(6_000_000, dec("0.02"), dec("0.0175")))
	assert.Equal(t, int64(math.MaxInt64), callsFor(6_000_000, dec("1e30"), dec("0.000000000000000001")))
	assert.Equal(t, int64(math.MaxInt64), addCalls(math.MaxInt64-1, 5))
	assert.Equal(t, int64(15), addCalls(10, 5))
}
