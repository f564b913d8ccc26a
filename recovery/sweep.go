package recovery

import (
	"context"
	"sort"
	"time"

	"github.com/jonwraymond/backstop/resilience"
)

// Start launches the automatic sweep loop. Each interval the coordinator
// walks registered services by descending priority and attempts recovery
// for every one whose breaker is open or whose status is failed or degraded,
// skipping manual strategies. Start is a no-op if the loop already runs.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.sweepStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.sweepStop = stop
	c.sweepDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()

	c.logger.Infof("recovery sweep started (interval=%s)", c.config.SweepInterval)
}

// Stop halts the sweep loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	stop := c.sweepStop
	done := c.sweepDone
	c.sweepStop = nil
	c.sweepDone = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	c.logger.Infof("recovery sweep stopped")
}

// Sweep runs one pass over all registered services and returns how many
// recovery attempts were dispatched.
func (c *Coordinator) Sweep(ctx context.Context) int {
	type candidate struct {
		name     string
		priority int
	}

	c.mu.Lock()
	candidates := make([]candidate, 0, len(c.services))
	for name, sc := range c.services {
		if sc.Strategy == StrategyManual {
			continue
		}
		st := c.statuses[name]
		needy := st.State == StateFailed || st.State == StateDegraded
		if !needy && sc.Breaker != nil && sc.Breaker.State() == resilience.StateOpen {
			needy = true
		}
		if needy {
			candidates = append(candidates, candidate{name: name, priority: sc.Priority})
		}
	}
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	attempts := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		attempts++
		if _, err := c.RecoverService(ctx, cand.name); err != nil {
			c.logger.Errorf("sweep: recover %s: %v", cand.name, err)
		}
	}
	return attempts
}
