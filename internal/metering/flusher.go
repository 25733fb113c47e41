package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Flusher runs Cache.Flush on a cron schedule.
type Flusher struct {
	cache    *Cache
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
}

// NewFlusher schedules flushes, e.g. "@every 5s". Overlapping runs are
// skipped.
func NewFlusher(cache *Cache, schedule string, timeout time.Duration) (*Flusher, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &Flusher{
		cache:    cache,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: schedule,
		timeout:  timeout,
	}
	if _, err := f.cron.AddFunc(schedule, f.run); err != nil {
		return nil, fmt.Errorf("invalid metering flush schedule %q: %w", schedule, err)
	}
	return f, nil
}

func (f *Flusher) Start() {
	f.cron.Start()
	log.Info().Str("schedule", f.schedule).Msg("metering flusher started")
}

// Stop waits for a running flush, then flushes what is left.
func (f *Flusher) Stop(ctx context.Context) {
	<-f.cron.Stop().Done()
	res := f.cache.Flush(ctx)
	log.Info().Int("projects", res.Projects).Int64("calls", res.Calls).Int("failed", res.Failed).Msg("metering flusher stopped")
}

func (f *Flusher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	res := f.cache.Flush(ctx)
	if res.Projects > 0 || res.Failed > 0 {
		log.Debug().Int("projects", res.Projects).Int64("calls", res.Calls).Int("failed", res.Failed).Msg("usage flushed")
	}
}
