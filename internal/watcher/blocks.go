package watcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// BlockStrategy scans blocks for native transfers to watched addresses.
// On its first cycle it walks back RescanDepth blocks from the head so
// transfers made while the process was down are still found, then moves
// forward. Every transfer is recorded in the payment's seen tx hashes; value
// that cannot be credited yet accrues on the quote and is retried each cycle
// together with later transfers.
type BlockStrategy struct {
	desc     config.ChainDescriptor
	creditor *Creditor
	depth    uint64
	perCycle int

	started bool
	back    int64 // next block of the backward rescan
	floor   int64 // lowest block of the backward rescan
	next    uint64
}

func NewBlockStrategy(desc config.ChainDescriptor, creditor *Creditor, rescanDepth uint64, maxBlocksPerCycle int) *BlockStrategy {
	if maxBlocksPerCycle <= 0 {
		maxBlocksPerCycle = 100
	}
	return &BlockStrategy{desc: desc, creditor: creditor, depth: rescanDepth, perCycle: maxBlocksPerCycle}
}

func (s *BlockStrategy) Cycle(ctx context.Context, r ChainReader) error {
	head, err := r.LatestBlockNumber(ctx)
	if err != nil {
		return asNodeError(err)
	}

	if !s.started {
		s.started = true
		s.next = head + 1
		s.back = int64(head)
		s.floor = int64(head) - int64(s.depth)
		if s.floor < 0 {
			s.floor = 0
		}
		log.Info().Str("chain", string(s.desc.Chain)).Uint64("head", head).Int64("rescan_to", s.floor).Msg("block scan starting")
	}

	addrs, err := s.creditor.store.WatchedAddresses(ctx, s.desc.Chain)
	if err != nil {
		return err
	}
	watched := make(map[string]string, len(addrs))
	for _, a := range addrs {
		watched[strings.ToLower(a)] = a
	}

	if err := s.retryUncredited(ctx, addrs); err != nil {
		return err
	}

	budget := s.perCycle
	for s.back >= s.floor && budget > 0 {
		if err := s.scan(ctx, r, uint64(s.back), watched); err != nil {
			return err
		}
		s.back--
		budget--
	}
	for s.next <= head && budget > 0 {
		if err := s.scan(ctx, r, s.next, watched); err != nil {
			return err
		}
		s.next++
		budget--
	}
	return nil
}

// Caught reports whether the backward rescan has finished and the forward
// cursor reached the given head.
func (s *BlockStrategy) Caught(head uint64) bool {
	return s.started && s.back < s.floor && s.next > head
}

func (s *BlockStrategy) scan(ctx context.Context, r ChainReader, number uint64, watched map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(watched) == 0 {
		return nil
	}

	transfers, err := r.BlockTransfers(ctx, number)
	if err != nil {
		return asNodeError(err)
	}

	coin := model.NativeCoin(s.desc.Chain)
	for _, t := range transfers {
		addr, ok := watched[strings.ToLower(t.To.Hex())]
		if !ok || t.Value == nil || t.Value.Sign() <= 0 {
			continue
		}
		value := chain.ToDecimal(t.Value, chain.NativeDecimals)
		amounts := func(q *model.CoinQuote) (decimal.Decimal, decimal.Decimal) {
			added := q.UncreditedAmount.Add(value)
			return q.CreditedAmount.Add(added), added
		}
		obs := observation{amounts: amounts, txHash: t.Hash, accrue: true}
		if _, err := s.creditor.settle(ctx, coin, addr, obs); err != nil {
			return err
		}
	}
	return nil
}

// retryUncredited re-applies value that arrived earlier but could not be
// credited, e.g. while no fresh price was available or after the quote
// was extended. Addresses without uncredited value cost one read.
func (s *BlockStrategy) retryUncredited(ctx context.Context, addrs []string) error {
	coin := model.NativeCoin(s.desc.Chain)
	amounts := func(q *model.CoinQuote) (decimal.Decimal, decimal.Decimal) {
		return q.CreditedAmount.Add(q.UncreditedAmount), q.UncreditedAmount
	}
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.creditor.settle(ctx, coin, addr, observation{amounts: amounts, accrue: true}); err != nil {
			return err
		}
	}
	return nil
}
