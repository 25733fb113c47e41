// Package metering counts metered API calls in memory and periodically
// folds them into each project's used call total.
package metering

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/metrics"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

// Cache holds per-project call counts not yet written to the store.
type Cache struct {
	store store.Store

	mu      sync.Mutex
	pending map[uuid.UUID]int64

	flushMu sync.Mutex
}

func NewCache(s store.Store) *Cache {
	return &Cache{store: s, pending: make(map[uuid.UUID]int64)}
}

// Record counts one call and returns the project's unflushed count.
func (c *Cache) Record(projectID uuid.UUID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[projectID]++
	return c.pending[projectID]
}

// Pending returns the unflushed count of a project.
func (c *Cache) Pending(projectID uuid.UUID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[projectID]
}

// FlushResult summarizes one flush.
type FlushResult struct {
	Projects int
	Calls    int64
	Failed   int
	Dropped  int
}

// Flush writes a snapshot of the counters, one unit of work per project.
// A counter is reduced by the flushed delta only after its commit succeeds,
// so calls recorded during the flush and deltas of failed commits stay for
// the next run.
func (c *Cache) Flush(ctx context.Context) FlushResult {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	snapshot := make(map[uuid.UUID]int64, len(c.pending))
	for id, n := range c.pending {
		if n > 0 {
			snapshot[id] = n
		}
	}
	c.mu.Unlock()

	var res FlushResult
	for id, delta := range snapshot {
		err := c.commit(ctx, id, delta)
		switch {
		case err == nil:
			c.settle(id, delta)
			res.Projects++
			res.Calls += delta
		case errors.Is(err, store.ErrNotFound):
			log.Warn().Str("project_id", id.String()).Int64("calls", delta).Msg("dropping usage for unknown project")
			c.settle(id, delta)
			res.Dropped++
		default:
			log.Error().Err(err).Str("project_id", id.String()).Int64("calls", delta).Msg("failed to flush usage, will retry")
			metrics.MeteringFlushErrors.Inc()
			res.Failed++
		}
	}

	metrics.MeteringFlushed.Add(float64(res.Calls))
	c.mu.Lock()
	metrics.MeteringPending.Set(float64(len(c.pending)))
	c.mu.Unlock()
	return res
}

func (c *Cache) commit(ctx context.Context, id uuid.UUID, delta int64) error {
	return c.store.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProject(ctx, id)
		if err != nil {
			return err
		}
		p.UsedCalls += delta
		p.RecomputeActive()
		return tx.SaveProject(ctx, p)
	})
}

func (c *Cache) settle(id uuid.UUID, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if left := c.pending[id] - delta; left > 0 {
		c.pending[id] = left
	} else {
		delete(c.pending, id)
	}
}
