package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/metrics"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// AmountPlaces is the precision quoted amounts are rounded to.
const AmountPlaces = 6

// ErrUnpriced is returned by a Cached source when the coin has no usable price.
var ErrUnpriced = errors.New("price unavailable")

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Oracle caches USD prices per coin. It is shared by the quote engine and
// every watcher; all access goes through its methods.
type Oracle struct {
	ttl      time.Duration
	maxStale time.Duration
	now      func() time.Time

	mu      sync.Mutex
	sources map[model.Coin]Source
	cache   map[model.Coin]cachedPrice
}

// New builds an oracle. A failed refresh falls back to the cached price
// while it is younger than maxStale.
func New(ttl, maxStale time.Duration) *Oracle {
	if maxStale < ttl {
		maxStale = ttl
	}
	return &Oracle{
		ttl:      ttl,
		maxStale: maxStale,
		now:      time.Now,
		sources:  make(map[model.Coin]Source),
		cache:    make(map[model.Coin]cachedPrice),
	}
}

// Register binds a coin to its price source. Call during setup only.
func (o *Oracle) Register(coin model.Coin, src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[coin] = src
}

// Coins lists the priceable coins in chain order.
func (o *Oracle) Coins() []model.Coin {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []model.Coin
	for _, c := range model.AllCoins() {
		if _, ok := o.sources[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Price returns the coin's USD price, or false when it is temporarily
// unpriceable.
func (o *Oracle) Price(ctx context.Context, coin model.Coin) (decimal.Decimal, bool) {
	o.mu.Lock()
	src, ok := o.sources[coin]
	cached, hasCached := o.cache[coin]
	o.mu.Unlock()

	if !ok {
		metrics.PriceLookups.WithLabelValues(string(coin), "unavailable").Inc()
		return decimal.Zero, false
	}

	now := o.now()
	if hasCached && now.Sub(cached.fetchedAt) <= o.ttl {
		metrics.PriceLookups.WithLabelValues(string(coin), "cached").Inc()
		return cached.price, true
	}

	price, err := src.Price(ctx)
	if err == nil && price.IsPositive() {
		o.mu.Lock()
		o.cache[coin] = cachedPrice{price: price, fetchedAt: now}
		o.mu.Unlock()
		metrics.PriceLookups.WithLabelValues(string(coin), "fresh").Inc()
		return price, true
	}

	if err != nil {
		log.Warn().Err(err).Str("coin", string(coin)).Msg("price lookup failed")
	} else {
		log.Warn().Str("coin", string(coin)).Str("price", price.String()).Msg("price source returned a non-positive price")
	}
	if hasCached && now.Sub(cached.fetchedAt) <= o.maxStale {
		metrics.PriceLookups.WithLabelValues(string(coin), "stale").Inc()
		return cached.price, true
	}
	metrics.PriceLookups.WithLabelValues(string(coin), "unavailable").Inc()
	return decimal.Zero, false
}

// Cached returns a Source that reads the coin through the oracle, so a
// composite source shares its TTL cache and stale fallback.
func (o *Oracle) Cached(coin model.Coin) Source {
	return SourceFunc(func(ctx context.Context) (decimal.Decimal, error) {
		price, ok := o.Price(ctx, coin)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnpriced, coin)
		}
		return price, nil
	})
}

// AmountInToken converts a USD amount to the coin, rounded to six places.
func (o *Oracle) AmountInToken(ctx context.Context, usd decimal.Decimal, coin model.Coin) (decimal.Decimal, bool) {
	price, ok := o.Price(ctx, coin)
	if !ok {
		return decimal.Zero, false
	}
	return usd.DivRound(price, 18).Round(AmountPlaces), true
}

// Quote prices the minimum, tier1 and tier2 amounts of a coin from one
// price snapshot. factor scales every USD target, e.g. a block token
// discount.
func (o *Oracle) Quote(ctx context.Context, coin model.Coin, targets model.TierTargets, factor decimal.Decimal) (model.CoinQuote, bool) {
	price, ok := o.Price(ctx, coin)
	if !ok {
		return model.CoinQuote{Coin: coin}, false
	}
	amount := func(usd decimal.Decimal) decimal.NullDecimal {
		return decimal.NewNullDecimal(usd.Mul(factor).DivRound(price, 18).Round(AmountPlaces))
	}
	return model.CoinQuote{
		Coin:        coin,
		MinAmount:   amount(targets.Selected),
		Tier1Amount: amount(targets.Tier1),
		Tier2Amount: amount(targets.Tier2),
	}, true
}
