package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/relaycore/autoupdate/internal/sync2"
)

func TestCycle_Trigger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cycle := sync2.NewCycle(0)

	var group errgroup.Group
	var counter int64
	cycle.Start(ctx, &group, func(ctx context.Context) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt64(&counter))

	cycle.TriggerWait()
	require.EqualValues(t, 1, atomic.LoadInt64(&counter))

	cycle.Stop()
	require.NoError(t, group.Wait())
}

func TestCycle_Paused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cycle := sync2.NewCycle(time.Millisecond)
	cycle.Pause()

	var group errgroup.Group
	var counter int64
	cycle.Start(ctx, &group, func(ctx context.Context) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt64(&counter))

	cycle.Stop()
	require.NoError(t, group.Wait())
}

func TestCycle_Restart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cycle := sync2.NewCycle(50 * time.Millisecond)
	cycle.Pause()

	var group errgroup.Group
	var counter int64
	cycle.Start(ctx, &group, func(ctx context.Context) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})
	cycle.Restart()

	time.Sleep(500 * time.Millisecond)
	cycle.Stop()
	require.NoError(t, group.Wait())
	require.Greater(t, atomic.LoadInt64(&counter), int64(0))
}

func TestCycle_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cycle := sync2.NewCycle(time.Second)
	var group errgroup.Group
	cycle.Start(ctx, &group, func(ctx context.Context) error { return nil })

	cycle.Stop()
	cycle.Stop()
	require.NoError(t, group.Wait())
}
