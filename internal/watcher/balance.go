package watcher

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// BalanceStrategy diffs on-chain balances of watched addresses against the
// credited amounts. It needs no cursor and cannot miss a block.
type BalanceStrategy struct {
	desc     config.ChainDescriptor
	creditor *Creditor
}

func NewBalanceStrategy(desc config.ChainDescriptor, creditor *Creditor) *BalanceStrategy {
	return &BalanceStrategy{desc: desc, creditor: creditor}
}

func (s *BalanceStrategy) Cycle(ctx context.Context, r ChainReader) error {
	addrs, err := s.creditor.store.WatchedAddresses(ctx, s.desc.Chain)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return nil
	}

	for _, coin := range s.desc.Coins() {
		for _, addr := range addrs {
			if err := ctx.Err(); err != nil {
				return err
			}

			raw, err := s.balance(ctx, r, coin, common.HexToAddress(addr))
			if err != nil {
				return asNodeError(err)
			}
			observed := chain.ToDecimal(raw, s.decimals(coin))

			amounts := func(q *model.CoinQuote) (decimal.Decimal, decimal.Decimal) {
				return observed, observed.Sub(q.CreditedAmount)
			}
			if _, err := s.creditor.settle(ctx, coin, addr, observation{amounts: amounts}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *BalanceStrategy) balance(ctx context.Context, r ChainReader, coin model.Coin, holder common.Address) (*big.Int, error) {
	if coin.Kind() == model.KindBlockToken {
		return r.TokenBalance(ctx, s.desc.BlockToken, holder)
	}
	return r.NativeBalance(ctx, holder)
}

func (s *BalanceStrategy) decimals(coin model.Coin) int {
	if coin.Kind() == model.KindBlockToken {
		return s.desc.BlockDecimals
	}
	return chain.NativeDecimals
}
