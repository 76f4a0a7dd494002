// Package sync2 provides the small concurrency primitives the updater loop
// (C7) and the drain barrier (C4) are built on: a pausable, triggerable
// periodic scheduler and a one-shot broadcast gate.
package sync2

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Cycle is a periodic scheduler that invokes a worker function on every
// tick of its interval, and additionally whenever Trigger is called. It can
// be paused, restarted and stopped, and every call to the worker is
// serialized — a long-running worker simply delays the next tick, it is
// never invoked concurrently with itself.
type Cycle struct {
	interval time.Duration

	mu      sync.Mutex
	paused  bool
	changed chan struct{}

	trigger   chan struct{}
	triggered chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCycle returns a Cycle with the given tick interval. An interval of 0
// means "never tick on its own"; only explicit Trigger calls drive it.
func NewCycle(interval time.Duration) *Cycle {
	c := &Cycle{}
	c.SetInterval(interval)
	return c
}

// SetInterval changes the tick interval. It is safe to call before Start or
// concurrently with a running cycle.
func (c *Cycle) SetInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
}

func (c *Cycle) getInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Pause stops automatic ticking until Restart is called; Trigger still
// works while paused.
func (c *Cycle) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Restart resumes automatic ticking; the next tick comes when the interval
// timer already under way fires.
func (c *Cycle) Restart() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *Cycle) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Start launches the cycle's loop in group, calling fn on every tick and on
// every Trigger, until ctx is cancelled or Stop is called. Start may be
// called at most once per Cycle.
func (c *Cycle) Start(ctx context.Context, group *errgroup.Group, fn func(ctx context.Context) error) {
	c.trigger = make(chan struct{}, 1)
	c.triggered = make(chan struct{})
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	group.Go(func() error {
		defer close(c.done)
		return c.run(ctx, fn)
	})
}

func (c *Cycle) run(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		interval := c.getInterval()
		var timerCh <-chan time.Time
		var timer *time.Timer
		if interval > 0 {
			timer = time.NewTimer(interval)
			timerCh = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case <-c.stop:
			stopTimer(timer)
			return nil
		case <-c.trigger:
			stopTimer(timer)
			if err := fn(ctx); err != nil {
				return err
			}
			c.notifyTriggered()
		case <-timerCh:
			if c.isPaused() {
				continue
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (c *Cycle) notifyTriggered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.triggered)
	c.triggered = make(chan struct{})
}

// Trigger requests an out-of-band run of fn, without blocking for it to
// complete. It never blocks even if the channel is momentarily full.
func (c *Cycle) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// TriggerWait requests a run of fn and blocks until it has completed.
func (c *Cycle) TriggerWait() {
	c.mu.Lock()
	waitCh := c.triggered
	c.mu.Unlock()

	c.Trigger()
	<-waitCh
}

// Stop terminates the cycle's loop. It is idempotent and safe to call
// multiple times.
func (c *Cycle) Stop() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
}

// Close stops the cycle and waits for its goroutine to finish.
func (c *Cycle) Close() {
	c.Stop()
	if c.done != nil {
		<-c.done
	}
}
