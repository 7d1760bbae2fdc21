// Package scheduler runs the connector's periodic sweeps on fixed-delay
// tickers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"eddie.energy/internal/obs"
)

// Sweep is one scheduled unit of work. Errors are logged, never fatal: the
// next tick retries from a fresh repository snapshot.
type Sweep func(ctx context.Context) error

// Scheduler owns the sweep goroutines. One goroutine per registered sweep,
// so a slow polling cycle never delays the timeout sweep.
type Scheduler struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New() *Scheduler { return &Scheduler{} }

// Entry is a named sweep with its schedule.
type Entry struct {
	name     string
	interval time.Duration
	sweep    Sweep
}

// Run starts all registered sweeps and blocks until ctx is cancelled, then
// waits for in-flight sweeps to drain.
func (s *Scheduler) Run(ctx context.Context, entries ...Entry) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	<-ctx.Done()
	s.wg.Wait()
}

// Every describes a sweep to run on a fixed delay. The first run happens one
// interval after start, not immediately, so process startup stays fast.
func Every(name string, interval time.Duration, sweep Sweep) Entry {
	return Entry{name: name, interval: interval, sweep: sweep}
}

// Stop cancels the run context. Safe to call before Run.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	defer s.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.sweep(ctx); err != nil {
				obs.LogEvent("scheduler.sweep_error", map[string]any{
					"sweep": e.name,
					"error": err.Error(),
				})
			}
		}
	}
}
