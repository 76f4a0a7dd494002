package updater_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/autoupdate/updater"
)

func TestBroadcaster_InitialStatusIdle(t *testing.T) {
	b := updater.NewBroadcaster()
	require.Equal(t, updater.PhaseIdle, b.Status().Phase)
}

func TestBroadcaster_SubscriberObservesOrder(t *testing.T) {
	b := updater.NewBroadcaster()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	sequence := []updater.Phase{
		updater.PhaseChecking,
		updater.PhaseUpdateAvailable,
		updater.PhaseDownloading,
		updater.PhaseInstalling,
		updater.PhasePendingRestart,
		updater.PhaseRestarting,
	}
	for _, phase := range sequence {
		b.Set(updater.Status{Phase: phase})
	}

	for _, want := range sequence {
		select {
		case got := <-sub.C():
			require.Equal(t, want, got.Phase)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for phase %v", want)
		}
	}
}

func TestBroadcaster_MultipleSubscribersIndependent(t *testing.T) {
	b := updater.NewBroadcaster()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Set(updater.Status{Phase: updater.PhaseChecking})

	for _, sub := range []*updater.Subscription{sub1, sub2} {
		select {
		case got := <-sub.C():
			require.Equal(t, updater.PhaseChecking, got.Phase)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestBroadcaster_TerminalStatusAlwaysDelivered(t *testing.T) {
	b := updater.NewBroadcaster()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	// flood past the buffer with non-terminal updates, then finish with a
	// terminal one; the terminal status must still arrive.
	for i := 0; i < 1000; i++ {
		b.Set(updater.Status{Phase: updater.PhaseDownloading, Have: int64(i)})
	}
	b.Set(updater.Status{Phase: updater.PhaseRestarting})

	var lastPhase updater.Phase
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case s, ok := <-sub.C():
			if !ok {
				break drain
			}
			lastPhase = s.Phase
			if s.Phase == updater.PhaseRestarting {
				break drain
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal status")
		}
	}
	require.Equal(t, updater.PhaseRestarting, lastPhase)
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := updater.NewBroadcaster()
	sub := b.Subscribe()
	sub.Unsubscribe()

	b.Set(updater.Status{Phase: updater.PhaseChecking})

	_, ok := <-sub.C()
	require.False(t, ok, "channel should be closed after unsubscribe")
}
