package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/metrics"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

// Pricer turns USD targets into per-coin amounts. *oracle.Oracle
// satisfies it.
type Pricer interface {
	Coins() []model.Coin
	Quote(ctx context.Context, coin model.Coin, targets model.TierTargets, factor decimal.Decimal) (model.CoinQuote, bool)
}

// QuoteEngine issues and extends deposit quotes.
type QuoteEngine struct {
	store   store.Store
	pricer  Pricer
	pricing config.Pricing
	chains  []model.Chain
	sealer  *chain.Sealer
	now     func() time.Time
}

// NewQuoteEngine builds an engine that mints addresses on the given chains.
func NewQuoteEngine(s store.Store, pricer Pricer, pricing config.Pricing, chains []model.Chain, sealer *chain.Sealer) *QuoteEngine {
	return &QuoteEngine{
		store:   s,
		pricer:  pricer,
		pricing: pricing,
		chains:  chains,
		sealer:  sealer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CoinAmounts are the quoted amounts of one coin. Nil means the coin could
// not be priced.
type CoinAmounts struct {
	Min   *decimal.Decimal `json:"min"`
	Tier1 *decimal.Decimal `json:"tier1"`
	Tier2 *decimal.Decimal `json:"tier2"`
}

// QuoteResult is returned to the client after a create or extend. APIKey is
// only set on create.
type QuoteResult struct {
	ProjectID      uuid.UUID                  `json:"project_id"`
	APIKey         string                     `json:"api_key,omitempty"`
	Tier           model.Tier                 `json:"service_tier"`
	Active         bool                       `json:"active"`
	Pending        bool                       `json:"pending"`
	Addresses      map[model.Chain]string     `json:"addresses"`
	Amounts        map[model.Coin]CoinAmounts `json:"amounts"`
	QuoteExpiresAt *time.Time                 `json:"quote_expires_at,omitempty"`
	Extended       bool                       `json:"extended"`
}

// CreateOrExtend issues a new quote, or re-quotes an existing project when
// projectID is set. Extensions keep the project's tier and addresses.
func (e *QuoteEngine) CreateOrExtend(ctx context.Context, projectID *uuid.UUID, tier model.Tier) (*QuoteResult, error) {
	if projectID != nil {
		return e.extend(ctx, *projectID)
	}
	return e.create(ctx, tier)
}

func (e *QuoteEngine) create(ctx context.Context, tier model.Tier) (*QuoteResult, error) {
	targets := e.pricing.TargetsFor(tier)
	if !targets.Offered() {
		return nil, NewBadRequest(CodeTierNotOffered, "Service tier "+string(tier)+" is not offered on this node")
	}

	key, err := generateAPIKey()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		return nil, NewInternal(CodeInternal, "Failed to create project")
	}

	now := e.now()
	proj := &model.Project{
		ID:           uuid.New(),
		APIKeyHash:   key.Hash,
		APIKeyPrefix: key.Prefix,
		Tier:         tier,
	}
	pay := model.NewPayment(proj.ID)

	kind := "create"
	if targets.Free() {
		kind = "free"
		proj.Grant(e.pricing.StarterCalls)
		proj.ExtendExpiry(now)
		pay.Pending = false
	} else {
		quotes, err := e.priceAll(ctx, targets)
		if err != nil {
			return nil, err
		}
		for coin, q := range quotes {
			cq := q
			pay.Quotes[coin] = &cq
		}
		if err := e.issueDeposits(pay, quotes); err != nil {
			return nil, err
		}
		if len(pay.Deposits) == 0 {
			return nil, NewInternal(CodeAddressIssuance, "Failed to get at least 1 payment address, please try again")
		}
		pay.Pending = true
		pay.QuoteStartTime = &now
	}

	err = e.store.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SaveProject(ctx, proj); err != nil {
			return err
		}
		return tx.SavePayment(ctx, pay)
	})
	if err != nil {
		log.Error().Err(err).Str("project_id", proj.ID.String()).Msg("failed to persist quote")
		return nil, NewInternal(CodeInternal, "Exception while creating project")
	}

	metrics.QuotesIssued.WithLabelValues(string(tier), kind).Inc()
	log.Info().Str("project_id", proj.ID.String()).Str("tier", string(tier)).Str("kind", kind).Msg("project created")

	res := e.result(proj, pay)
	res.APIKey = key.Raw
	return res, nil
}

func (e *QuoteEngine) extend(ctx context.Context, projectID uuid.UUID) (*QuoteResult, error) {
	current, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, e.lookupError(err, projectID, "project")
	}

	targets := e.pricing.TargetsFor(current.Tier)
	if !targets.Offered() {
		return nil, NewBadRequest(CodeTierNotOffered, "Service tier "+string(current.Tier)+" is not offered on this node")
	}

	var quotes map[model.Coin]model.CoinQuote
	if !targets.Free() {
		if quotes, err = e.priceAll(ctx, targets); err != nil {
			return nil, err
		}
	}

	var (
		proj *model.Project
		pay  *model.Payment
	)
	now := e.now()
	err = e.store.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if proj, err = tx.GetProject(ctx, projectID); err != nil {
			return e.lookupError(err, projectID, "project")
		}
		if pay, err = tx.GetPayment(ctx, projectID); err != nil {
			return e.lookupError(err, projectID, "payment")
		}

		if targets.Free() {
			proj.Grant(e.pricing.StarterCalls)
			proj.ExtendExpiry(now)
			pay.Pending = false
		} else {
			for _, coin := range e.coins() {
				fresh, ok := quotes[coin]
				if !ok {
					fresh = model.CoinQuote{Coin: coin}
				}
				pay.Quote(coin).Relock(fresh)
			}
			if err := e.issueDeposits(pay, quotes); err != nil {
				return err
			}
			pay.Pending = true
			pay.QuoteStartTime = &now
		}

		if err := tx.SaveProject(ctx, proj); err != nil {
			return err
		}
		return tx.SavePayment(ctx, pay)
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, svcErr
		}
		log.Error().Err(err).Str("project_id", projectID.String()).Msg("failed to persist quote extension")
		return nil, NewInternal(CodeInternal, "Exception while extending project")
	}

	metrics.QuotesIssued.WithLabelValues(string(proj.Tier), "extend").Inc()
	log.Info().Str("project_id", projectID.String()).Str("tier", string(proj.Tier)).Msg("project quote extended")

	res := e.result(proj, pay)
	res.Extended = true
	return res, nil
}

// priceAll prices every coin on the configured chains. At least one coin
// must resolve; the rest are left unpriced.
func (e *QuoteEngine) priceAll(ctx context.Context, targets model.TierTargets) (map[model.Coin]model.CoinQuote, error) {
	quotes := make(map[model.Coin]model.CoinQuote)
	for _, coin := range e.coins() {
		q, ok := e.pricer.Quote(ctx, coin, targets, e.pricing.Factor(coin))
		if !ok {
			log.Warn().Str("coin", string(coin)).Msg("coin could not be priced for quote")
			continue
		}
		quotes[coin] = q
	}

	if len(quotes) == 0 {
		details := make(map[model.Coin]CoinAmounts)
		for _, coin := range e.coins() {
			details[coin] = CoinAmounts{}
		}
		return nil, NewUnavailable(CodePricingUnavailable, "Failed to price any payment coin, please try again").WithDetails(details)
	}
	return quotes, nil
}

// issueDeposits mints an address for each configured chain that has a
// priced coin and no address yet.
func (e *QuoteEngine) issueDeposits(pay *model.Payment, quotes map[model.Coin]model.CoinQuote) error {
	for _, ch := range e.chains {
		if _, ok := pay.Deposits[ch]; ok {
			continue
		}
		priced := false
		for _, coin := range ch.Coins() {
			if _, ok := quotes[coin]; ok {
				priced = true
			}
		}
		if !priced {
			continue
		}

		d, err := e.mintDeposit(ch)
		if err != nil {
			log.Error().Err(err).Str("chain", string(ch)).Msg("failed to mint deposit address")
			return NewInternal(CodeAddressIssuance, "Failed to create payment address, please try again")
		}
		pay.Deposits[ch] = d
	}
	return nil
}

func (e *QuoteEngine) mintDeposit(ch model.Chain) (*model.Deposit, error) {
	token, err := chain.NewDepositToken()
	if err != nil {
		return nil, err
	}
	addr, key, err := chain.DeriveKeypair(token)
	if err != nil {
		return nil, err
	}
	sealed, err := e.sealer.Seal(key)
	if err != nil {
		return nil, err
	}
	return &model.Deposit{Chain: ch, Token: token, Address: addr.Hex(), SealedKey: sealed}, nil
}

func (e *QuoteEngine) coins() []model.Coin {
	configured := make(map[model.Chain]bool, len(e.chains))
	for _, ch := range e.chains {
		configured[ch] = true
	}
	var out []model.Coin
	for _, coin := range e.pricer.Coins() {
		if configured[coin.Chain()] {
			out = append(out, coin)
		}
	}
	return out
}

func (e *QuoteEngine) lookupError(err error, projectID uuid.UUID, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NewNotFound(CodeNotFound, "No "+what+" found with id "+projectID.String())
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	log.Error().Err(err).Str("project_id", projectID.String()).Msgf("failed to load %s", what)
	return NewInternal(CodeInternal, "Failed to load "+what)
}

func (e *QuoteEngine) result(proj *model.Project, pay *model.Payment) *QuoteResult {
	res := &QuoteResult{
		ProjectID: proj.ID,
		Tier:      proj.Tier,
		Active:    proj.Active,
		Pending:   pay.Pending,
		Addresses: make(map[model.Chain]string),
		Amounts:   make(map[model.Coin]CoinAmounts),
	}
	for ch, d := range pay.Deposits {
		res.Addresses[ch] = d.Address
	}
	for coin, q := range pay.Quotes {
		res.Amounts[coin] = CoinAmounts{
			Min:   nullable(q.MinAmount),
			Tier1: nullable(q.Tier1Amount),
			Tier2: nullable(q.Tier2Amount),
		}
	}
	if pay.Pending {
		res.QuoteExpiresAt = pay.QuoteExpiry(e.pricing.QuoteValid)
	}
	return res
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
