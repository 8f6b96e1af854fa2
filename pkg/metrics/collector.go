package metrics

import (
	"context"
	"time"

	"github.com/cuemby/engram/pkg/store"
)

const collectInterval = 15 * time.Second

// TailerCounter reports the number of tailers currently running; the
// Collector polls it on the same cadence as the store gauges so both move
// together in a scrape.
type TailerCounter func() int

// Collector periodically refreshes the store-backed gauges from a live
// *store.Store. It owns no other state. The maintenance histogram and the
// tailer-eviction counter are recorded by pkg/daemon; the extraction,
// recollection, retrieval, embedding and consolidation metrics are
// registered and exported, but no package in this module records into them.
type Collector struct {
	store   *store.Store
	tailers TailerCounter
	stopCh  chan struct{}
}

// NewCollector builds a Collector over s, polling tailers for the active
// tailer count on each tick.
func NewCollector(s *store.Store, tailers TailerCounter) *Collector {
	return &Collector{
		store:   s,
		tailers: tailers,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the polling loop in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the polling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if stats, err := c.store.Stats(ctx); err == nil {
		ChunksTotal.Set(float64(stats.Chunks))
		EpisodesTotal.Set(float64(stats.Episodes))
		GraduatedEpisodesTotal.Set(float64(stats.GraduatedRows))
		ProjectsTotal.Set(float64(stats.Projects))
	}

	if c.tailers != nil {
		TailersActive.Set(float64(c.tailers()))
	}
}
