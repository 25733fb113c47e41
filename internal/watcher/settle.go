package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/metrics"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

// observation describes what a strategy saw at one address.
type observation struct {
	// amounts yields the amount held for a coin and its increase over the
	// credited high-water mark.
	amounts func(q *model.CoinQuote) (observed, added decimal.Decimal)
	// txHash is set by the block scanner and makes the credit idempotent
	// per transaction.
	txHash string
	// accrue keeps value that could not be credited on the quote, so later
	// transfers to the same address add up to it.
	accrue bool
}

// Creditor applies observations to the payment that owns an address, one
// unit of work per address.
type Creditor struct {
	chain   model.Chain
	store   store.Store
	pricer  Pricer
	pricing config.Pricing
	now     func() time.Time
}

func NewCreditor(ch model.Chain, s store.Store, pricer Pricer, pricing config.Pricing) *Creditor {
	return &Creditor{
		chain:   ch,
		store:   s,
		pricer:  pricer,
		pricing: pricing,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// settle credits one address in its own unit of work.
func (c *Creditor) settle(ctx context.Context, coin model.Coin, address string, obs observation) (Outcome, error) {
	// Cheap read first so unchanged addresses never open a write transaction.
	current, err := c.store.GetPaymentByAddress(ctx, coin, address)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("chain", string(c.chain)).Str("address", address).Msg("watched address has no payment")
		return OutcomeNoChange, nil
	}
	if err != nil {
		return "", err
	}
	if obs.txHash != "" && current.HasSeen(obs.txHash) {
		return OutcomeNoChange, nil
	}
	if _, added := obs.amounts(current.Quote(coin)); added.IsZero() {
		return OutcomeNoChange, nil
	}

	var (
		res      Credit
		proj     *model.Project
		observed decimal.Decimal
		added    decimal.Decimal
	)
	err = c.store.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		pay, err := tx.GetPayment(ctx, current.ProjectID)
		if err != nil {
			return err
		}
		if obs.txHash != "" && pay.HasSeen(obs.txHash) {
			res = Credit{Outcome: OutcomeNoChange}
			return nil
		}
		if proj, err = tx.GetProject(ctx, pay.ProjectID); err != nil {
			return err
		}

		q := pay.Quote(coin)
		observed, added = obs.amounts(q)
		fresh := func() (model.CoinQuote, bool) {
			return c.pricer.Quote(ctx, coin, c.pricing.TargetsFor(proj.Tier), c.pricing.Factor(coin))
		}
		res = Apply(c.now(), proj, pay, coin, observed, added, c.pricing, fresh)

		changed := res.Outcome.Changed()
		dirty := changed
		if obs.accrue {
			switch {
			case changed:
				q.UncreditedAmount = decimal.Zero
			case !q.UncreditedAmount.Equal(added):
				q.UncreditedAmount = added
				dirty = true
			}
		}
		if obs.txHash != "" {
			pay.MarkSeen(obs.txHash)
			dirty = true
		}
		if !dirty {
			return nil
		}
		if changed {
			if err := tx.SaveProject(ctx, proj); err != nil {
				return err
			}
		}
		return tx.SavePayment(ctx, pay)
	})
	if err != nil {
		return "", err
	}

	c.report(coin, address, res, proj, observed, added, obs.txHash)
	return res.Outcome, nil
}

func (c *Creditor) report(coin model.Coin, address string, res Credit, proj *model.Project, observed, added decimal.Decimal, txHash string) {
	metrics.CreditOutcomes.WithLabelValues(string(c.chain), string(coin), string(res.Outcome)).Inc()

	if res.Outcome == OutcomeNoChange {
		return
	}
	ev := log.Info()
	switch res.Outcome {
	case OutcomeWithdrawal, OutcomeDeferred, OutcomeNoQuote:
		ev = log.Warn()
	}
	ev = ev.Str("chain", string(c.chain)).
		Str("coin", string(coin)).
		Str("address", address).
		Str("observed", observed.String()).
		Str("value_added", added.String()).
		Str("outcome", string(res.Outcome))
	if proj != nil {
		ev = ev.Str("project_id", proj.ID.String())
	}
	if txHash != "" {
		ev = ev.Str("tx_hash", txHash)
	}

	switch res.Outcome {
	case OutcomeInsufficient:
		ev.Str("required", res.Required.String()).Msg("payment below quoted minimum")
	case OutcomeWithdrawal:
		ev.Msg("balance decreased, credited amount lowered")
	case OutcomeDeferred:
		ev.Msg("no fresh price, crediting deferred")
	case OutcomeNoQuote:
		ev.Msg("coin was not priced in the quote, crediting skipped")
	default:
		metrics.CallsGranted.WithLabelValues(string(c.chain), string(coin)).Add(float64(res.Calls))
		ev.Int64("calls", res.Calls).
			Int64("granted_calls", proj.GrantedCalls).
			Bool("archive_mode", res.Archive).
			Bool("active", proj.Active).
			Msg("payment credited")
	}
}
