package model

import "fmt"

// Chain identifies an EVM network the processor accepts deposits on.
type Chain string

const (
	ChainETH  Chain = "eth"
	ChainAVAX Chain = "avax"
	ChainNEVM Chain = "nevm"
)

// Chains returns every supported chain in a stable order.
func Chains() []Chain {
	return []Chain{ChainETH, ChainAVAX, ChainNEVM}
}

func (c Chain) Valid() bool {
	switch c {
	case ChainETH, ChainAVAX, ChainNEVM:
		return true
	}
	return false
}

// Coins returns the native coin followed by the block token of the chain.
func (c Chain) Coins() []Coin {
	return []Coin{NativeCoin(c), BlockCoin(c)}
}

// CoinKind separates a chain's native coin from its ERC-20 block token.
type CoinKind int

const (
	KindNative CoinKind = iota
	KindBlockToken
)

func (k CoinKind) String() string {
	if k == KindBlockToken {
		return "block_token"
	}
	return "native"
}

// Coin is a payable asset. Every coin belongs to exactly one chain.
type Coin string

const (
	CoinETH      Coin = "eth"
	CoinABLOCK   Coin = "ablock"
	CoinAVAX     Coin = "avax"
	CoinAABLOCK  Coin = "aablock"
	CoinWSYS     Coin = "wsys"
	CoinSYSBLOCK Coin = "sysblock"
)

type coinInfo struct {
	chain Chain
	kind  CoinKind
}

var coins = map[Coin]coinInfo{
	CoinETH:      {ChainETH, KindNative},
	CoinABLOCK:   {ChainETH, KindBlockToken},
	CoinAVAX:     {ChainAVAX, KindNative},
	CoinAABLOCK:  {ChainAVAX, KindBlockToken},
	CoinWSYS:     {ChainNEVM, KindNative},
	CoinSYSBLOCK: {ChainNEVM, KindBlockToken},
}

// AllCoins returns every coin grouped by chain, native first.
func AllCoins() []Coin {
	out := make([]Coin, 0, len(coins))
	for _, c := range Chains() {
		out = append(out, c.Coins()...)
	}
	return out
}

func ParseCoin(s string) (Coin, error) {
	c := Coin(s)
	if _, ok := coins[c]; !ok {
		return "", fmt.Errorf("unknown coin %q", s)
	}
	return c, nil
}

func (c Coin) Chain() Chain { return coins[c].chain }

func (c Coin) Kind() CoinKind { return coins[c].kind }

func NativeCoin(ch Chain) Coin {
	switch ch {
	case ChainAVAX:
		return CoinAVAX
	case ChainNEVM:
		return CoinWSYS
	default:
		return CoinETH
	}
}

func BlockCoin(ch Chain) Coin {
	switch ch {
	case ChainAVAX:
		return CoinAABLOCK
	case ChainNEVM:
		return CoinSYSBLOCK
	default:
		return CoinABLOCK
	}
}
