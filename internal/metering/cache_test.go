package metering

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store/storetest"
)

func seedProject(mem *storetest.Memory, granted, used int64) *model.Project {
	p := &model.Project{ID: uuid.New(), Tier: model.TierEntry, GrantedCalls: granted, UsedCalls: used}
	p.RecomputeActive()
	mem.Seed(p, nil)
	return p
}

func TestCacheFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("many calls become one delta", func(t *testing.T) {
		mem := storetest.NewMemory()
		p := seedProject(mem, 6_000_000, 0)
		cache := NewCache(mem)

		for i := 0; i < 500_000; i++ {
			cache.Record(p.ID)
		}
		res := cache.Flush(ctx)

		assert.Equal(t, 1, mem.Commits)
		assert.Equal(t, 1, res.Projects)
		assert.Equal(t, int64(500_000), res.Calls)
		assert.Equal(t, int64(500_000), mem.Project(p.ID).UsedCalls)
		assert.Zero(t, cache.Pending(p.ID))
	})

	t.Run("deactivates when usage reaches the grant", func(t *testing.T) {
		mem := storetest.NewMemory()
		p := seedProject(mem, 10, 7)
		cache := NewCache(mem)

		for i := 0; i < 3; i++ {
			cache.Record(p.ID)
		}
		cache.Flush(ctx)

		got := mem.Project(p.ID)
		assert.Equal(t, int64(10), got.UsedCalls)
		assert.False(t, got.Active)
		assert.True(t, got.EverActivated)
	})

	t.Run("failed commit keeps the delta", func(t *testing.T) {
		mem := storetest.NewMemory()
		p := seedProject(mem, 100, 0)
		cache := NewCache(mem)
		mem.FailCommits = 1

		cache.Record(p.ID)
		cache.Record(p.ID)
		res := cache.Flush(ctx)

		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, int64(2), cache.Pending(p.ID))
		assert.Zero(t, mem.Project(p.ID).UsedCalls)

		cache.Record(p.ID)
		cache.Flush(ctx)
		assert.Equal(t, int64(3), mem.Project(p.ID).UsedCalls)
		assert.Zero(t, cache.Pending(p.ID))
	})

	t.Run("unknown project is dropped", func(t *testing.T) {
		mem := storetest.NewMemory()
		cache := NewCache(mem)
		id := uuid.New()

		cache.Record(id)
		res := cache.Flush(ctx)

		assert.Equal(t, 1, res.Dropped)
		assert.Zero(t, cache.Pending(id))
	})

	t.Run("concurrent recording during flushes loses nothing", func(t *testing.T) {
		mem := storetest.NewMemory()
		p := seedProject(mem, 1_000_000, 0)
		cache := NewCache(mem)

		const workers, perWorker = 16, 2_000
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					cache.Record(p.ID)
				}
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
	loop:
		for {
			select {
			case <-done:
				break loop
			default:
				cache.Flush(ctx)
			}
		}
		cache.Flush(ctx)

		got := mem.Project(p.ID)
		assert.Equal(t, int64(workers*perWorker), got.UsedCalls)
		assert.Equal(t, got.GrantedCalls > got.UsedCalls, got.Active)
	})
}

func TestFlusher(t *testing.T) {
	t.Run("rejects a bad schedule", func(t *testing.T) {
		_, err := NewFlusher(NewCache(storetest.NewMemory()), "not a schedule", time.Second)
		require.Error(t, err)
	})

	t.Run("stop flushes what is left", func(t *testing.T) {
		mem := storetest.NewMemory()
		p := seedProject(mem, 100, 0)
		cache := NewCache(mem)

		f, err := NewFlusher(cache, "@every 1h", time.Second)
		require.NoError(t, err)
		f.Start()

		cache.Record(p.ID)
		f.Stop(context.Background())

		assert.Equal(t, int64(1), mem.Project(p.ID).UsedCalls)
	})

	t.Run("scheduled flush runs", func(t *testing.T) {
		mem := storetest.NewMemory()
		p := seedProject(mem, 100, 0)
		cache := NewCache(mem)

		f, err := NewFlusher(cache, "@every 1s", time.Second)
		require.NoError(t, err)
		cache.Record(p.ID)
		f.Start()
		defer f.Stop(context.Background())

		assert.Eventually(t, func() bool {
			return cache.Pending(p.ID) == 0
		}, 3*time.Second, 50*time.Millisecond)
		assert.Equal(t, int64(1), mem.Project(p.ID).UsedCalls)
	})
}
