package sync2

import (
	"context"
	"sync"
)

// Fence is a one-shot gate: any number of goroutines can Wait on it, and
// they are all released the moment Release is called (or earlier if their
// context is cancelled). Used as the drain barrier primitive: the updater
// waits on a Fence that is released once the critical-actions counter
// reaches zero.
type Fence struct {
	initOnce    sync.Once
	gate        chan struct{}
	releaseOnce sync.Once
}

func (f *Fence) init() {
	f.initOnce.Do(func() {
		f.gate = make(chan struct{})
	})
}

// Wait blocks until Release is called or ctx is cancelled, returning true in
// the former case and false in the latter.
func (f *Fence) Wait(ctx context.Context) bool {
	f.init()
	select {
	case <-f.gate:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release opens the gate, waking every current and future Wait call.
// Release is idempotent: calling it more than once is a no-op.
func (f *Fence) Release() {
	f.init()
	f.releaseOnce.Do(func() {
		close(f.gate)
	})
}

// Released reports whether Release has been called, without blocking.
func (f *Fence) Released() bool {
	f.init()
	select {
	case <-f.gate:
		return true
	default:
		return false
	}
}
