package updater

import (
	"context"
	"sync"

	"github.com/relaycore/autoupdate/internal/sync2"
)

// ActionHandle is returned by RegisterAction; release it exactly once via
// Deregister to decrement the counter.
type ActionHandle struct {
	counter  *CriticalActionsCounter
	released bool
	mu       sync.Mutex
}

// Deregister decrements the counter. It is idempotent: calling it more than
// once on the same handle is a no-op rather than underflowing the counter
// (spec testable property 8).
func (h *ActionHandle) Deregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.counter.release()
}

// CriticalActionsCounter tracks in-flight application-declared regions
// during which self-restart is forbidden (spec §4.4). Admission and the
// locked_for_restart transition share one mutex so "is it safe to admit"
// and "increment" happen atomically (spec §5). The drain barrier itself —
// "wait until locked and count == 0" — is a sync2.Fence, released the
// instant that condition first becomes true.
type CriticalActionsCounter struct {
	mu     sync.Mutex
	count  int
	locked bool
	drain  sync2.Fence
}

// NewCriticalActionsCounter returns a counter at zero, unlocked.
func NewCriticalActionsCounter() *CriticalActionsCounter {
	return &CriticalActionsCounter{}
}

// Register admits a new critical action, returning a handle to release it,
// or ok=false if admission is denied. Admission is denied once the counter
// has been locked for restart (spec §4.4 admission rule; once
// set_status(PendingRestart) is reached, this returns Denied forever).
func (c *CriticalActionsCounter) Register() (handle *ActionHandle, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return nil, false
	}
	c.count++
	return &ActionHandle{counter: c}, true
}

func (c *CriticalActionsCounter) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.count--
	}
	c.maybeReleaseDrainLocked()
}

// LockForRestart forbids all future admissions. Once set, the counter may
// only decrease (spec §3 CriticalActionsCounter invariant); there is no way
// to unlock it again within this process (spec §4.4).
func (c *CriticalActionsCounter) LockForRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
	c.maybeReleaseDrainLocked()
}

func (c *CriticalActionsCounter) maybeReleaseDrainLocked() {
	if c.locked && c.count == 0 {
		c.drain.Release()
	}
}

// Count returns the current in-flight count.
func (c *CriticalActionsCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// IsSafeToUpdate reports whether the counter is at zero (spec §4.4).
func (c *CriticalActionsCounter) IsSafeToUpdate() bool {
	return c.Count() == 0
}

// WaitDrained blocks until the counter has been locked for restart and has
// drained to zero (spec §4.6/§9 drain barrier), or ctx is cancelled.
func (c *CriticalActionsCounter) WaitDrained(ctx context.Context) bool {
	return c.drain.Wait(ctx)
}
