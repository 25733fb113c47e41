package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const pairABI = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

var (
	ERC20ABI = mustParseABI(erc20ABI)
	PairABI  = mustParseABI(pairABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Caller executes read-only contract calls. *Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Reserves is a snapshot of a constant-product pool.
type Reserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
	Token0   common.Address
	Token1   common.Address
}

// Contracts wraps the ERC-20 and pair calls the processor needs.
type Contracts struct {
	caller Caller
}

func NewContracts(caller Caller) *Contracts {
	return &Contracts{caller: caller}
}

func (c *Contracts) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := c.call(ctx, ERC20ABI, token, "balanceOf", &balance, holder); err != nil {
		return nil, err
	}
	return balance, nil
}

func (c *Contracts) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	var decimals uint8
	if err := c.call(ctx, ERC20ABI, token, "decimals", &decimals); err != nil {
		return 0, err
	}
	return decimals, nil
}

func (c *Contracts) Reserves(ctx context.Context, pool common.Address) (Reserves, error) {
	data, err := PairABI.Pack("getReserves")
	if err != nil {
		return Reserves{}, fmt.Errorf("pack getReserves: %w", err)
	}
	out, err := c.caller.CallContract(ctx, pool, data)
	if err != nil {
		return Reserves{}, fmt.Errorf("call getReserves on %s: %w", pool.Hex(), err)
	}
	vals, err := PairABI.Unpack("getReserves", out)
	if err != nil {
		return Reserves{}, fmt.Errorf("unpack getReserves: %w", err)
	}
	if len(vals) < 2 {
		return Reserves{}, fmt.Errorf("unpack getReserves: got %d values", len(vals))
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return Reserves{}, fmt.Errorf("unpack getReserves: unexpected types %T %T", vals[0], vals[1])
	}

	res := Reserves{Reserve0: r0, Reserve1: r1}
	if err := c.call(ctx, PairABI, pool, "token0", &res.Token0); err != nil {
		return Reserves{}, err
	}
	if err := c.call(ctx, PairABI, pool, "token1", &res.Token1); err != nil {
		return Reserves{}, err
	}
	return res, nil
}

func (c *Contracts) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := c.caller.CallContract(ctx, to, data)
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	if err := parsed.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}

// ToDecimal converts an integer amount in smallest units to whole units.
func ToDecimal(amount *big.Int, decimals int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// NativeDecimals is the unit scale of every supported chain's native coin.
const NativeDecimals = 18
