package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoEndpoints     = errors.New("at least one RPC URL is required")
	ErrNodeUnreachable = errors.New("no reachable RPC endpoint")
	ErrChainIDMismatch = errors.New("RPC endpoint reports unexpected chain id")
)

type endpoint struct {
	url        string
	healthy    bool
	errorCount int
	lastCheck  time.Time
}

// Client is a reconnecting JSON-RPC client bound to one chain. Failed calls
// mark the current endpoint unhealthy and fail over to the next one.
type Client struct {
	name      string
	chainID   int64
	endpoints []*endpoint
	current   int

	mu     sync.RWMutex
	client *ethclient.Client

	maxRetries    int
	retryInterval time.Duration
	callTimeout   time.Duration
	recheckAfter  time.Duration
}

type ClientConfig struct {
	Name          string
	ChainID       int64 // zero skips the chain id check
	RPCURLs       []string
	MaxRetries    int
	RetryInterval time.Duration
	CallTimeout   time.Duration
}

// Dial connects to the first reachable endpoint. A node that is down at
// startup yields ErrNodeUnreachable so the caller can skip the chain.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, ErrNoEndpoints
	}

	eps := make([]*endpoint, len(cfg.RPCURLs))
	for i, u := range cfg.RPCURLs {
		eps[i] = &endpoint{url: u, healthy: true}
	}

	c := &Client{
		name:          cfg.Name,
		chainID:       cfg.ChainID,
		endpoints:     eps,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		callTimeout:   cfg.CallTimeout,
		recheckAfter:  30 * time.Second,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryInterval <= 0 {
		c.retryInterval = time.Second
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 15 * time.Second
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for i := range c.endpoints {
		idx := (c.current + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.healthy && time.Since(ep.lastCheck) < c.recheckAfter && len(c.endpoints) > 1 {
			continue
		}

		cl, err := c.dialEndpoint(ctx, ep.url)
		ep.lastCheck = time.Now()
		if err != nil {
			ep.healthy = false
			ep.errorCount++
			lastErr = err
			log.Warn().Err(err).Str("chain", c.name).Str("rpc", ep.url).Msg("RPC endpoint unavailable")
			continue
		}

		if c.client != nil {
			c.client.Close()
		}
		c.client = cl
		c.current = idx
		ep.healthy = true
		ep.errorCount = 0
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrNodeUnreachable, c.name, lastErr)
	}
	return fmt.Errorf("%w: %s", ErrNodeUnreachable, c.name)
}

func (c *Client) dialEndpoint(ctx context.Context, url string) (*ethclient.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	cl, err := ethclient.DialContext(dctx, url)
	if err != nil {
		return nil, err
	}
	id, err := cl.ChainID(dctx)
	if err != nil {
		cl.Close()
		return nil, err
	}
	if c.chainID != 0 && id.Int64() != c.chainID {
		cl.Close()
		return nil, fmt.Errorf("%w: got %s want %d", ErrChainIDMismatch, id, c.chainID)
	}
	return cl, nil
}

func (c *Client) get(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	cl := c.client
	c.mu.RUnlock()
	if cl != nil {
		return cl, nil
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context, cl *ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		cl, err := c.get(ctx)
		if err == nil {
			cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
			err = fn(cctx, cl)
			cancel()
			if err == nil {
				return nil
			}
			c.markUnhealthy()
		}
		lastErr = err

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
			_ = c.connect(ctx)
		}
	}
	return lastErr
}

func (c *Client) markUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < len(c.endpoints) {
		c.endpoints[c.current].healthy = false
		c.endpoints[c.current].errorCount++
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.withRetry(ctx, func(ctx context.Context, cl *ethclient.Client) error {
		var err error
		bal, err = cl.BalanceAt(ctx, account, nil)
		return err
	})
	return bal, err
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withRetry(ctx, func(ctx context.Context, cl *ethclient.Client) error {
		var err error
		n, err = cl.BlockNumber(ctx)
		return err
	})
	return n, err
}

// BlockTransfers returns the value-carrying transactions of a block.
func (c *Client) BlockTransfers(ctx context.Context, number uint64) ([]Transfer, error) {
	var out []Transfer
	err := c.withRetry(ctx, func(ctx context.Context, cl *ethclient.Client) error {
		block, err := cl.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		out = out[:0]
		for _, tx := range block.Transactions() {
			if tx.To() == nil || tx.Value().Sign() == 0 {
				continue
			}
			out = append(out, Transfer{
				Hash:  tx.Hash().Hex(),
				To:    *tx.To(),
				Value: new(big.Int).Set(tx.Value()),
				Block: number,
			})
		}
		return nil
	})
	return out, err
}

// CallContract runs a read-only eth_call at the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, func(ctx context.Context, cl *ethclient.Client) error {
		var err error
		out, err = cl.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.LatestBlockNumber(ctx)
	return err
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Transfer is a direct value transfer observed in a block.
type Transfer struct {
	Hash  string
	To    common.Address
	Value *big.Int
	Block uint64
}

// TokenBalance reads an ERC-20 balanceOf in the token's smallest unit.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return NewContracts(c).BalanceOf(ctx, token, holder)
}
