// Package watcher polls one chain for deposits to issued payment addresses
// and converts them into API call credit.
package watcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/chain"
	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/lock"
	"github.com/blocknetdx/eth-payment-processor/internal/metrics"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// ChainReader is the part of chain.Client a watcher needs.
type ChainReader interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTransfers(ctx context.Context, number uint64) ([]chain.Transfer, error)
	Close()
}

// Pricer produces fresh quotes when a payment is settled after its quote
// expired or tops up a settled payment.
type Pricer interface {
	Quote(ctx context.Context, coin model.Coin, targets model.TierTargets, factor decimal.Decimal) (model.CoinQuote, bool)
}

// Strategy runs one poll cycle against a connected reader.
type Strategy interface {
	Cycle(ctx context.Context, r ChainReader) error
}

// Lease lets only one replica poll a chain.
type Lease interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// State is the connection state of a watcher.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StatePolling:
		return "polling"
	default:
		return "disconnected"
	}
}

// nodeError marks a failure of the chain connection. Any other cycle error
// keeps the connection.
type nodeError struct{ err error }

func (e *nodeError) Error() string { return "node: " + e.err.Error() }
func (e *nodeError) Unwrap() error { return e.err }

func asNodeError(err error) error {
	if err == nil {
		return nil
	}
	return &nodeError{err: err}
}

func isNodeError(err error) bool {
	var ne *nodeError
	return errors.As(err, &ne)
}

type Config struct {
	Chain    config.ChainDescriptor
	Interval time.Duration
	Backoff  time.Duration
}

// Watcher drives a strategy for one chain until its context is cancelled.
type Watcher struct {
	chain    model.Chain
	dial     func(ctx context.Context) (ChainReader, error)
	strategy Strategy
	lease    Lease
	interval time.Duration
	backoff  time.Duration

	mu     sync.RWMutex
	state  State
	reader ChainReader
}

// New builds a watcher. reader may be nil, in which case the first cycle
// dials. lease may be nil for single-replica deployments.
func New(cfg Config, reader ChainReader, dial func(ctx context.Context) (ChainReader, error), strategy Strategy, lease Lease) *Watcher {
	w := &Watcher{
		chain:    cfg.Chain.Chain,
		dial:     dial,
		strategy: strategy,
		lease:    lease,
		interval: cfg.Interval,
		backoff:  cfg.Backoff,
		reader:   reader,
	}
	if w.interval <= 0 {
		w.interval = 20 * time.Second
	}
	if w.backoff <= 0 {
		w.backoff = 30 * time.Second
	}
	if reader != nil {
		w.setState(StateConnected)
	} else {
		w.setState(StateDisconnected)
	}
	return w
}

func (w *Watcher) Chain() model.Chain { return w.chain }

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	metrics.WatcherState.WithLabelValues(string(w.chain)).Set(float64(s))
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log.Info().Str("chain", string(w.chain)).Dur("interval", w.interval).Msg("watcher started")
	defer func() {
		if w.reader != nil {
			w.reader.Close()
		}
		log.Info().Str("chain", string(w.chain)).Msg("watcher stopped")
	}()

	for {
		wait := w.interval
		if err := w.step(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = w.backoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// step runs one cycle, connecting first when needed.
func (w *Watcher) step(ctx context.Context) error {
	if w.reader == nil {
		r, err := w.dial(ctx)
		if err != nil {
			log.Error().Err(err).Str("chain", string(w.chain)).Dur("backoff", w.backoff).Msg("failed to connect to chain")
			metrics.WatcherCycles.WithLabelValues(string(w.chain), "connect_error").Inc()
			return err
		}
		w.reader = r
		w.setState(StateConnected)
		log.Info().Str("chain", string(w.chain)).Msg("connected to chain")
	}

	start := time.Now()
	w.setState(StatePolling)
	err := w.runCycle(ctx)
	metrics.WatcherCycleDuration.WithLabelValues(string(w.chain)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.WatcherCycles.WithLabelValues(string(w.chain), "ok").Inc()
		return nil
	case errors.Is(err, lock.ErrLeaseTaken):
		metrics.WatcherCycles.WithLabelValues(string(w.chain), "skipped").Inc()
		log.Debug().Str("chain", string(w.chain)).Msg("another replica holds the chain lease")
		return nil
	case isNodeError(err):
		metrics.WatcherCycles.WithLabelValues(string(w.chain), "node_error").Inc()
		log.Error().Err(err).Str("chain", string(w.chain)).Dur("backoff", w.backoff).Msg("chain poll failed, reconnecting")
		w.reader.Close()
		w.reader = nil
		w.setState(StateDisconnected)
		return err
	default:
		metrics.WatcherCycles.WithLabelValues(string(w.chain), "error").Inc()
		log.Error().Err(err).Str("chain", string(w.chain)).Dur("backoff", w.backoff).Msg("chain poll failed")
		w.setState(StateConnected)
		return err
	}
}

func (w *Watcher) runCycle(ctx context.Context) error {
	if w.lease == nil {
		return w.strategy.Cycle(ctx, w.reader)
	}
	return w.lease.WithLease(ctx, "chain:"+string(w.chain), func(ctx context.Context) error {
		return w.strategy.Cycle(ctx, w.reader)
	})
}
