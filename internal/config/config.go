package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

type Config struct {
	DatabaseURL      string   `env:"DATABASE_URL,required"`
	RedisURL         string   `env:"REDIS_URL"`
	AdminToken       string   `env:"ADMIN_TOKEN,required"`
	DepositKeySecret string   `env:"DEPOSIT_KEY_SECRET,required"`
	Port             int      `env:"PORT,default=8080"`
	LogLevel         string   `env:"LOG_LEVEL,default=info"`
	LogFormat        string   `env:"LOG_FORMAT,default=json"`
	CORSOrigins      []string `env:"CORS_ORIGINS"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`

	// USD tier targets. Negative disables a tier, zero activates for free.
	Tier1      float64 `env:"PAYMENT_AMOUNT_TIER1,default=35"`
	Tier2      float64 `env:"PAYMENT_AMOUNT_TIER2,default=200"`
	XQuery     float64 `env:"PAYMENT_AMOUNT_XQUERY,default=35"`
	HydraTier1 float64 `env:"PAYMENT_AMOUNT_HYDRA_TIER1,default=-1"`
	HydraTier2 float64 `env:"PAYMENT_AMOUNT_HYDRA_TIER2,default=-1"`

	DefaultCalls    int64         `env:"DEFAULT_API_CALLS,default=6000000"`
	StarterCalls    int64         `env:"STARTER_API_CALLS,default=1000"`
	QuoteValidHours int           `env:"QUOTE_VALID_HOURS,default=1"`
	PriceTTL        time.Duration `env:"PRICE_TTL,default=60s"`
	PriceMaxStale   time.Duration `env:"PRICE_MAX_STALE,default=5m"`
	TickerURL       string        `env:"TICKER_URL,default=https://api.coinbase.com"`
	QuoteRateLimit  int           `env:"QUOTE_RATE_LIMIT,default=20"`

	WatchInterval   time.Duration `env:"WATCH_INTERVAL,default=20s"`
	WatchBackoff    time.Duration `env:"WATCH_BACKOFF,default=30s"`
	WatchStrategy   string        `env:"WATCH_STRATEGY,default=balance"`
	RescanDepth     uint64        `env:"RESCAN_DEPTH,default=500"`
	MaxBlocks       int           `env:"MAX_BLOCKS_PER_CYCLE,default=100"`
	RPCTimeout      time.Duration `env:"RPC_TIMEOUT,default=15s"`
	FlushSchedule   string        `env:"METERING_FLUSH_SCHEDULE,default=@every 5s"`
	ChainLeaseTTL   time.Duration `env:"CHAIN_LEASE_TTL,default=2m"`

	ETH  ChainConfig `env:", prefix=ETH_"`
	AVAX ChainConfig `env:", prefix=AVAX_"`
	NEVM ChainConfig `env:", prefix=NEVM_"`
}

// ChainConfig is the per-chain section. A chain without RPC_URL is not
// configured and never watched.
type ChainConfig struct {
	RPCURLs       []string `env:"RPC_URL"`
	ChainID       int64    `env:"CHAIN_ID"`
	BlockToken    string   `env:"BLOCK_TOKEN"`
	BlockDecimals int      `env:"BLOCK_TOKEN_DECIMALS,default=8"`
	BlockDiscount float64  `env:"BLOCK_DISCOUNT,default=0.2"`
	WrappedNative string   `env:"WRAPPED_NATIVE"`
	StablePool    string   `env:"STABLE_POOL"`
	TokenPool     string   `env:"TOKEN_POOL"`
	NativeTicker  string   `env:"NATIVE_TICKER"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	secret, err := hex.DecodeString(c.DepositKeySecret)
	if err != nil || len(secret) != 32 {
		return fmt.Errorf("DEPOSIT_KEY_SECRET must be 64 hex characters")
	}

	if c.DefaultCalls <= 0 {
		return fmt.Errorf("DEFAULT_API_CALLS must be positive, got %d", c.DefaultCalls)
	}
	if c.StarterCalls <= 0 {
		return fmt.Errorf("STARTER_API_CALLS must be positive, got %d", c.StarterCalls)
	}
	if c.QuoteValidHours < 1 {
		return fmt.Errorf("QUOTE_VALID_HOURS must be at least 1, got %d", c.QuoteValidHours)
	}
	for _, rung := range []struct {
		lower, upper         float64
		lowerName, upperName string
	}{
		{c.Tier1, c.Tier2, "PAYMENT_AMOUNT_TIER1", "PAYMENT_AMOUNT_TIER2"},
		{c.HydraTier1, c.HydraTier2, "PAYMENT_AMOUNT_HYDRA_TIER1", "PAYMENT_AMOUNT_HYDRA_TIER2"},
	} {
		if rung.upper >= 0 && rung.lower > 0 && rung.upper < rung.lower {
			return fmt.Errorf("%s (%v) must not be below %s (%v); use a negative value to disable the tier",
				rung.upperName, rung.upper, rung.lowerName, rung.lower)
		}
	}
	if c.MaxBlocks < 1 {
		return fmt.Errorf("MAX_BLOCKS_PER_CYCLE must be positive, got %d", c.MaxBlocks)
	}
	if c.WatchStrategy != "balance" && c.WatchStrategy != "blocks" {
		return fmt.Errorf("WATCH_STRATEGY must be 'balance' or 'blocks', got %q", c.WatchStrategy)
	}

	for _, d := range c.Chains() {
		if err := d.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) chainConfig(ch model.Chain) ChainConfig {
	switch ch {
	case model.ChainAVAX:
		return c.AVAX
	case model.ChainNEVM:
		return c.NEVM
	default:
		return c.ETH
	}
}

// Chains returns a descriptor for every configured chain.
func (c *Config) Chains() []ChainDescriptor {
	var out []ChainDescriptor
	for _, ch := range model.Chains() {
		cc := c.chainConfig(ch)
		if len(cc.RPCURLs) == 0 {
			continue
		}
		out = append(out, ChainDescriptor{
			Chain:         ch,
			RPCURLs:       cc.RPCURLs,
			ChainID:       cc.ChainID,
			BlockToken:    addressOrZero(cc.BlockToken),
			BlockDecimals: cc.BlockDecimals,
			BlockDiscount: decimal.NewFromFloat(cc.BlockDiscount),
			WrappedNative: addressOrZero(cc.WrappedNative),
			StablePool:    addressOrZero(cc.StablePool),
			TokenPool:     addressOrZero(cc.TokenPool),
			NativeTicker:  cc.NativeTicker,
			raw:           cc,
		})
	}
	return out
}

// Pricing resolves the tier ladder from the environment.
func (c *Config) Pricing() Pricing {
	p := Pricing{
		Targets: map[model.Tier]decimal.Decimal{
			model.TierEntry:        decimal.NewFromFloat(c.Tier1),
			model.TierArchive:      decimal.NewFromFloat(c.Tier2),
			model.TierXQuery:       decimal.NewFromFloat(c.XQuery),
			model.TierHydraEntry:   decimal.NewFromFloat(c.HydraTier1),
			model.TierHydraArchive: decimal.NewFromFloat(c.HydraTier2),
		},
		Discounts:    make(map[model.Chain]decimal.Decimal),
		DefaultCalls: c.DefaultCalls,
		StarterCalls: c.StarterCalls,
		QuoteValid:   time.Duration(c.QuoteValidHours) * time.Hour,
	}
	for _, d := range c.Chains() {
		p.Discounts[d.Chain] = d.BlockDiscount
	}
	return p
}

// ChainDescriptor parameterizes one watcher and its price sources.
type ChainDescriptor struct {
	Chain         model.Chain
	RPCURLs       []string
	ChainID       int64
	BlockToken    common.Address
	BlockDecimals int
	BlockDiscount decimal.Decimal
	WrappedNative common.Address
	StablePool    common.Address
	TokenPool     common.Address
	NativeTicker  string

	raw ChainConfig
}

// HasBlockToken is false for chains where only the native coin is accepted.
func (d ChainDescriptor) HasBlockToken() bool {
	return d.BlockToken != (common.Address{})
}

// Coins lists the coins watched on the chain, native first.
func (d ChainDescriptor) Coins() []model.Coin {
	if d.HasBlockToken() {
		return d.Chain.Coins()
	}
	return []model.Coin{model.NativeCoin(d.Chain)}
}

func (d ChainDescriptor) validate() error {
	prefix := strings.ToUpper(string(d.Chain)) + "_"
	for name, v := range map[string]string{
		"BLOCK_TOKEN":    d.raw.BlockToken,
		"WRAPPED_NATIVE": d.raw.WrappedNative,
		"STABLE_POOL":    d.raw.StablePool,
		"TOKEN_POOL":     d.raw.TokenPool,
	} {
		if v != "" && !common.IsHexAddress(v) {
			return fmt.Errorf("%s%s is not a valid EVM address: %q", prefix, name, v)
		}
	}
	if d.NativeTicker == "" && d.StablePool == (common.Address{}) {
		return fmt.Errorf("%sNATIVE_TICKER or %sSTABLE_POOL is required", prefix, prefix)
	}
	if d.StablePool != (common.Address{}) && d.WrappedNative == (common.Address{}) {
		return fmt.Errorf("%sWRAPPED_NATIVE is required when %sSTABLE_POOL is set", prefix, prefix)
	}
	if d.HasBlockToken() && d.TokenPool == (common.Address{}) {
		return fmt.Errorf("%sTOKEN_POOL is required when %sBLOCK_TOKEN is set", prefix, prefix)
	}
	if d.BlockDecimals < 0 || d.BlockDecimals > 36 {
		return fmt.Errorf("%sBLOCK_TOKEN_DECIMALS out of range: %d", prefix, d.BlockDecimals)
	}
	if d.BlockDiscount.IsNegative() || d.BlockDiscount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%sBLOCK_DISCOUNT must be in [0, 1)", prefix)
	}
	return nil
}

func addressOrZero(s string) common.Address {
	if s == "" || !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
