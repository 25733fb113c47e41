package oracle

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

type countingSource struct {
	calls atomic.Int32
	price decimal.Decimal
	err   error
}

func (s *countingSource) Price(context.Context) (decimal.Decimal, error) {
	s.calls.Add(1)
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.price, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestOracle(src Source) (*Oracle, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	o := New(60*time.Second, 5*time.Minute)
	o.now = clock.now
	o.Register(model.CoinETH, src)
	return o, clock
}

func TestOraclePriceIsCachedForTTL(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(2000)}
	o, clock := newTestOracle(src)
	ctx := context.Background()

	p, ok := o.Price(ctx, model.CoinETH)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(2000)))

	clock.t = clock.t.Add(59 * time.Second)
	_, ok = o.Price(ctx, model.CoinETH)
	require.True(t, ok)
	assert.Equal(t, int32(1), src.calls.Load())

	clock.t = clock.t.Add(2 * time.Second)
	_, ok = o.Price(ctx, model.CoinETH)
	require.True(t, ok)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestOracleFallsBackToStalePrice(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(2000)}
	o, clock := newTestOracle(src)
	ctx := context.Background()

	_, ok := o.Price(ctx, model.CoinETH)
	require.True(t, ok)

	src.err = errors.New("ticker down")
	clock.t = clock.t.Add(2 * time.Minute)
	p, ok := o.Price(ctx, model.CoinETH)
	require.True(t, ok, "stale price within tolerance")
	assert.True(t, p.Equal(decimal.NewFromInt(2000)))

	clock.t = clock.t.Add(10 * time.Minute)
	_, ok = o.Price(ctx, model.CoinETH)
	assert.False(t, ok, "stale price past tolerance")
}

func TestOracleUnknownCoinIsUnpriced(t *testing.T) {
	o, _ := newTestOracle(&countingSource{price: decimal.NewFromInt(1)})
	_, ok := o.Price(context.Background(), model.CoinAVAX)
	assert.False(t, ok)
	_, ok = o.AmountInToken(context.Background(), decimal.NewFromInt(35), model.CoinAVAX)
	assert.False(t, ok)
}

func TestOracleRejectsNonPositivePrice(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	o, _ := newTestOracle(&countingSource{price: decimal.NewFromInt(-3)})
	_, ok := o.Price(context.Background(), model.CoinETH)
	assert.False(t, ok)

	out := buf.String()
	assert.Contains(t, out, `"price":"-3"`)
	assert.Contains(t, out, "non-positive price")
	assert.NotContains(t, out, `"error"`)
}

func TestCachedSourceSharesOracleCache(t *testing.T) {
	native := &countingSource{price: decimal.NewFromInt(2000)}
	o, clock := newTestOracle(native)
	o.Register(model.CoinABLOCK, Product{
		A: SourceFunc(func(context.Context) (decimal.Decimal, error) {
			return decimal.RequireFromString("0.0001"), nil
		}),
		B: o.Cached(model.CoinETH),
	})
	ctx := context.Background()

	_, ok := o.Price(ctx, model.CoinETH)
	require.True(t, ok)

	clock.t = clock.t.Add(30 * time.Second)
	p, ok := o.Price(ctx, model.CoinABLOCK)
	require.True(t, ok)
	assert.Equal(t, "0.2", p.String())
	assert.Equal(t, int32(1), native.calls.Load(), "native leg served from cache")

	native.err = errors.New("ticker down")
	clock.t = clock.t.Add(2 * time.Minute)
	p, ok = o.Price(ctx, model.CoinABLOCK)
	require.True(t, ok, "stale native price still prices the token")
	assert.Equal(t, "0.2", p.String())

	clock.t = clock.t.Add(10 * time.Minute)
	_, ok = o.Price(ctx, model.CoinABLOCK)
	assert.False(t, ok)
	_, err := o.Cached(model.CoinETH).Price(ctx)
	assert.ErrorIs(t, err, ErrUnpriced)
}

func TestAmountInToken(t *testing.T) {
	o, _ := newTestOracle(&countingSource{price: decimal.NewFromInt(2000)})

	amt, ok := o.AmountInToken(context.Background(), decimal.NewFromInt(35), model.CoinETH)
	require.True(t, ok)
	assert.Equal(t, "0.0175", amt.String())

	amt, ok = o.AmountInToken(context.Background(), decimal.NewFromInt(1), model.CoinETH)
	require.True(t, ok)
	assert.Equal(t, "0.0005", amt.String())
}

func TestOracleQuoteAppliesFactor(t *testing.T) {
	o, _ := newTestOracle(&countingSource{price: decimal.NewFromInt(2)})
	o.Register(model.CoinABLOCK, &countingSource{price: decimal.NewFromInt(2)})

	targets := model.TierTargets{
		Selected: decimal.NewFromInt(35),
		Tier1:    decimal.NewFromInt(35),
		Tier2:    decimal.NewFromInt(200),
	}
	q, ok := o.Quote(context.Background(), model.CoinABLOCK, targets, decimal.RequireFromString("0.8"))
	require.True(t, ok)
	assert.True(t, q.Priced())
	assert.Equal(t, "14", q.MinAmount.Decimal.String())
	assert.Equal(t, "80", q.Tier2Amount.Decimal.String())

	assert.Equal(t, []model.Coin{model.CoinETH, model.CoinABLOCK}, o.Coins())
}

func TestOracleConcurrentAccess(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(30)}
	o := New(time.Minute, time.Minute)
	o.Register(model.CoinAVAX, src)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := o.AmountInToken(context.Background(), decimal.NewFromInt(35), model.CoinAVAX)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, src.calls.Load(), int32(1))
}
