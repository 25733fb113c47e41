package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
)

// Source produces a fresh price. Each configured coin owns exactly one.
type Source interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (decimal.Decimal, error)

func (f SourceFunc) Price(ctx context.Context) (decimal.Decimal, error) { return f(ctx) }

// SpotTicker reads a centralized exchange spot price, e.g. ETH-USD.
type SpotTicker struct {
	client  *http.Client
	baseURL string
	pair    string
}

func NewSpotTicker(client *http.Client, baseURL, pair string) *SpotTicker {
	if client == nil {
		client = http.DefaultClient
	}
	return &SpotTicker{client: client, baseURL: strings.TrimRight(baseURL, "/"), pair: pair}
}

type spotResponse struct {
	Data struct {
		Amount string `json:"amount"`
	} `json:"data"`
}

func (s *SpotTicker) Price(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v2/prices/%s/spot", s.baseURL, s.pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build ticker request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker %s: %w", s.pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker %s: unexpected status %d", s.pair, resp.StatusCode)
	}

	var body spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker %s: %w", s.pair, err)
	}
	price, err := decimal.NewFromString(body.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker %s amount %q: %w", s.pair, body.Data.Amount, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("ticker %s returned non-positive price %s", s.pair, price)
	}
	return price, nil
}

// ReserveReader is the subset of chain.Contracts the pool source needs.
type ReserveReader interface {
	Reserves(ctx context.Context, pool common.Address) (chain.Reserves, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

var ErrBaseNotInPool = errors.New("base token is not a leg of the pool")

// PoolPrice prices Base in units of the pool's other leg:
// (quoteReserve / 10^quoteDecimals) / (baseReserve / 10^baseDecimals).
type PoolPrice struct {
	reader ReserveReader
	pool   common.Address
	base   common.Address

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

func NewPoolPrice(reader ReserveReader, pool, base common.Address) *PoolPrice {
	return &PoolPrice{
		reader:   reader,
		pool:     pool,
		base:     base,
		decimals: make(map[common.Address]uint8),
	}
}

func (p *PoolPrice) Price(ctx context.Context) (decimal.Decimal, error) {
	res, err := p.reader.Reserves(ctx, p.pool)
	if err != nil {
		return decimal.Zero, err
	}

	baseReserve, quoteReserve := res.Reserve0, res.Reserve1
	quoteToken := res.Token1
	switch p.base {
	case res.Token0:
	case res.Token1:
		baseReserve, quoteReserve = res.Reserve1, res.Reserve0
		quoteToken = res.Token0
	default:
		return decimal.Zero, fmt.Errorf("%w: %s not in %s", ErrBaseNotInPool, p.base.Hex(), p.pool.Hex())
	}

	if baseReserve == nil || baseReserve.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("pool %s has empty base reserve", p.pool.Hex())
	}

	bd, err := p.tokenDecimals(ctx, p.base)
	if err != nil {
		return decimal.Zero, err
	}
	qd, err := p.tokenDecimals(ctx, quoteToken)
	if err != nil {
		return decimal.Zero, err
	}

	base := chain.ToDecimal(baseReserve, int(bd))
	quote := chain.ToDecimal(quoteReserve, int(qd))
	return quote.DivRound(base, 18), nil
}

func (p *PoolPrice) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	p.mu.Lock()
	d, ok := p.decimals[token]
	p.mu.Unlock()
	if ok {
		return d, nil
	}

	d, err := p.reader.Decimals(ctx, token)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.decimals[token] = d
	p.mu.Unlock()
	return d, nil
}

// Product multiplies two prices, e.g. token-per-native times native-USD.
type Product struct {
	A, B Source
}

func (p Product) Price(ctx context.Context) (decimal.Decimal, error) {
	a, err := p.A.Price(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	b, err := p.B.Price(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Mul(b), nil
}
