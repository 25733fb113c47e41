package oracle

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
)

func TestSpotTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/prices/ETH-USD/spot" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"base":"ETH","currency":"USD","amount":"2000.50"}}`))
	}))
	defer srv.Close()

	price, err := NewSpotTicker(srv.Client(), srv.URL+"/", "ETH-USD").Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2000.50")))

	_, err = NewSpotTicker(srv.Client(), srv.URL, "DOGE-USD").Price(context.Background())
	assert.Error(t, err)
}

func TestSpotTickerRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"amount":"n/a"}}`))
	}))
	defer srv.Close()

	_, err := NewSpotTicker(srv.Client(), srv.URL, "ETH-USD").Price(context.Background())
	assert.Error(t, err)
}

type fakeReserves struct {
	res      chain.Reserves
	decimals map[common.Address]uint8
	err      error
}

func (f *fakeReserves) Reserves(context.Context, common.Address) (chain.Reserves, error) {
	return f.res, f.err
}

func (f *fakeReserves) Decimals(_ context.Context, token common.Address) (uint8, error) {
	d, ok := f.decimals[token]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return d, nil
}

func pow10(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }

func TestPoolPriceOrientation(t *testing.T) {
	wrapped := common.HexToAddress("0x1000")
	usdt := common.HexToAddress("0x2000")
	pool := common.HexToAddress("0x3000")
	decimals := map[common.Address]uint8{wrapped: 18, usdt: 6}

	// 10 wrapped native against 300 USDT.
	tenNative := new(big.Int).Mul(big.NewInt(10), pow10(18))
	threeHundredUSD := new(big.Int).Mul(big.NewInt(300), pow10(6))

	t.Run("base is token0", func(t *testing.T) {
		r := &fakeReserves{decimals: decimals, res: chain.Reserves{
			Reserve0: tenNative, Reserve1: threeHundredUSD, Token0: wrapped, Token1: usdt,
		}}
		p, err := NewPoolPrice(r, pool, wrapped).Price(context.Background())
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(30)), p.String())
	})

	t.Run("base is token1", func(t *testing.T) {
		r := &fakeReserves{decimals: decimals, res: chain.Reserves{
			Reserve0: threeHundredUSD, Reserve1: tenNative, Token0: usdt, Token1: wrapped,
		}}
		p, err := NewPoolPrice(r, pool, wrapped).Price(context.Background())
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(30)), p.String())
	})

	t.Run("base missing from pool", func(t *testing.T) {
		r := &fakeReserves{decimals: decimals, res: chain.Reserves{
			Reserve0: tenNative, Reserve1: threeHundredUSD, Token0: usdt, Token1: common.HexToAddress("0x9"),
		}}
		_, err := NewPoolPrice(r, pool, wrapped).Price(context.Background())
		assert.ErrorIs(t, err, ErrBaseNotInPool)
	})

	t.Run("empty pool", func(t *testing.T) {
		r := &fakeReserves{decimals: decimals, res: chain.Reserves{
			Reserve0: big.NewInt(0), Reserve1: threeHundredUSD, Token0: wrapped, Token1: usdt,
		}}
		_, err := NewPoolPrice(r, pool, wrapped).Price(context.Background())
		assert.Error(t, err)
	})
}

func TestProductSource(t *testing.T) {
	tokenInNative := SourceFunc(func(context.Context) (decimal.Decimal, error) {
		return decimal.RequireFromString("0.01"), nil
	})
	nativeUSD := SourceFunc(func(context.Context) (decimal.Decimal, error) {
		return decimal.NewFromInt(2000), nil
	})
	p, err := Product{A: tokenInNative, B: nativeUSD}.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(20)))

	failing := SourceFunc(func(context.Context) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("rpc down")
	})
	_, err = Product{A: tokenInNative, B: failing}.Price(context.Background())
	assert.Error(t, err)
}
