package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/lock"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/oracle"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
	"github.com/blocknetdx/eth-payment-processor/internal/watcher"
)

// connectedChain is a configured chain whose node answered at startup.
type connectedChain struct {
	desc   config.ChainDescriptor
	client *chain.Client
	dial   chain.ClientConfig
}

type chainSet struct {
	connected []connectedChain
	skipped   []model.Chain
}

func (s *chainSet) names() []model.Chain {
	out := make([]model.Chain, 0, len(s.connected))
	for _, c := range s.connected {
		out = append(out, c.desc.Chain)
	}
	return out
}

func (s *chainSet) close() {
	for _, c := range s.connected {
		c.client.Close()
	}
}

func clientConfig(cfg *config.Config, d config.ChainDescriptor) chain.ClientConfig {
	return chain.ClientConfig{
		Name:        string(d.Chain),
		ChainID:     d.ChainID,
		RPCURLs:     d.RPCURLs,
		CallTimeout: cfg.RPCTimeout,
	}
}

// dialChains connects every configured chain. A chain whose node is down
// is skipped for the life of the process.
func dialChains(ctx context.Context, cfg *config.Config) *chainSet {
	set := &chainSet{}
	for _, d := range cfg.Chains() {
		cc := clientConfig(cfg, d)
		client, err := chain.Dial(ctx, cc)
		if err != nil {
			log.Warn().Err(err).Str("chain", string(d.Chain)).Msg("chain node unreachable, skipping")
			set.skipped = append(set.skipped, d.Chain)
			continue
		}
		log.Info().Str("chain", string(d.Chain)).Strs("coins", coinNames(d.Coins())).Msg("chain connected")
		set.connected = append(set.connected, connectedChain{desc: d, client: client, dial: cc})
	}
	return set
}

func coinNames(coins []model.Coin) []string {
	out := make([]string, len(coins))
	for i, c := range coins {
		out[i] = string(c)
	}
	return out
}

func newSealer(cfg *config.Config) (*chain.Sealer, error) {
	sealer, err := chain.NewSealer(cfg.DepositKeySecret)
	if err != nil {
		return nil, fmt.Errorf("deposit key secret: %w", err)
	}
	return sealer, nil
}

// newOracle registers a USD source for every coin of every connected chain.
// The native coin is priced by the spot ticker when one is configured and
// by the stable pool otherwise. The block token is priced through its pool
// against wrapped native, with the native leg read through the oracle cache.
func newOracle(cfg *config.Config, chains *chainSet) *oracle.Oracle {
	o := oracle.New(cfg.PriceTTL, cfg.PriceMaxStale)
	httpClient := &http.Client{Timeout: 10 * time.Second}

	for _, c := range chains.connected {
		contracts := chain.NewContracts(c.client)

		var native oracle.Source
		if c.desc.NativeTicker != "" {
			native = oracle.NewSpotTicker(httpClient, cfg.TickerURL, c.desc.NativeTicker)
		} else {
			native = oracle.NewPoolPrice(contracts, c.desc.StablePool, c.desc.WrappedNative)
		}
		o.Register(model.NativeCoin(c.desc.Chain), native)

		if c.desc.HasBlockToken() {
			o.Register(model.BlockCoin(c.desc.Chain), oracle.Product{
				A: oracle.NewPoolPrice(contracts, c.desc.TokenPool, c.desc.BlockToken),
				B: o.Cached(model.NativeCoin(c.desc.Chain)),
			})
		}
	}
	return o
}

// connectLease returns a Redis lease when REDIS_URL is set. Without one
// the process assumes it is the only replica.
func connectLease(ctx context.Context, cfg *config.Config) (watcher.Lease, func(), error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, chain leases disabled")
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Dur("ttl", cfg.ChainLeaseTTL).Msg("redis connected")

	return lock.NewLeaser(client, "eth-payment-processor:", cfg.ChainLeaseTTL), func() { _ = client.Close() }, nil
}

func buildWatchers(cfg *config.Config, chains *chainSet, db store.Store, prices watcher.Pricer, pricing config.Pricing, lease watcher.Lease) []*watcher.Watcher {
	out := make([]*watcher.Watcher, 0, len(chains.connected))
	for _, c := range chains.connected {
		creditor := watcher.NewCreditor(c.desc.Chain, db, prices, pricing)

		var strategy watcher.Strategy
		switch cfg.WatchStrategy {
		case "blocks":
			strategy = watcher.NewBlockStrategy(c.desc, creditor, cfg.RescanDepth, cfg.MaxBlocks)
		default:
			strategy = watcher.NewBalanceStrategy(c.desc, creditor)
		}

		dialCfg := c.dial
		dial := func(ctx context.Context) (watcher.ChainReader, error) {
			return chain.Dial(ctx, dialCfg)
		}

		out = append(out, watcher.New(watcher.Config{
			Chain:    c.desc,
			Interval: cfg.WatchInterval,
			Backoff:  cfg.WatchBackoff,
		}, c.client, dial, strategy, lease))
	}
	return out
}
