package cachefacade

import (
	"context"
	"time"
)

// Start launches the background trim loop in a new goroutine, and starts
// the File Store's trash-emptier worker alongside it so staged trash/
// subtrees are actually drained (spec.md §4.1) rather than only signaled.
// Calling Start more than once is a no-op, mirroring
// internal/janitor.Janitor.Start.
func (c *Cache) Start(ctx context.Context) {
	if c.ticker != nil {
		return
	}
	if c.files != nil {
		c.files.StartTrashWorker(ctx)
	}
	c.ticker = time.NewTicker(c.trimInterval)
	go c.loop(ctx)
}

// Stop signals the trim loop to exit and waits for it to finish, then stops
// the trash-emptier worker, mirroring internal/janitor.Janitor.Stop.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	<-c.doneCh
	if c.files != nil {
		c.files.StopTrashWorker()
	}
}

func (c *Cache) loop(ctx context.Context) {
	log := c.log()
	defer func() {
		if c.ticker != nil {
			c.ticker.Stop()
		}
		close(c.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("trim loop stop", "reason", "context_cancel")
			return
		case <-c.stopCh:
			log.Info("trim loop stop", "reason", "stop_signal")
			return
		case <-c.ticker.C:
			c.runCycle()
		}
	}
}

// runCycle enforces cost, then count, then age limits, in that order
// (spec.md §6, ADDED): cost and count bound resource usage directly, while
// age is a softer staleness bound applied last.
func (c *Cache) runCycle() {
	start := time.Now()
	log := c.log().With("action", "trim_cycle")

	if c.limits.MaxCost > 0 {
		if !c.TrimToCost(c.limits.MaxCost) {
			log.Error("trim_cost_failed")
		}
	}
	if c.limits.MaxCount > 0 {
		if !c.TrimToCount(c.limits.MaxCount) {
			log.Error("trim_count_failed")
		}
	}
	if c.limits.MaxAge > 0 {
		if !c.TrimToAge(c.limits.MaxAge) {
			log.Error("trim_age_failed")
		}
	}

	log.Info("trim cycle complete", "ms", time.Since(start).Milliseconds())
}
