// Package updater implements the Client Core (spec §4.4–§4.7): the update
// state machine, critical-actions admission, the verification pipeline, the
// HTTP checker client, and the periodic loop that drives them.
package updater

import (
	"sync"

	"github.com/zeebo/errs"

	"github.com/relaycore/autoupdate/release"
)

// Error is the error class for client-core failures.
var Error = errs.Class("updater")

// ErrorKind distinguishes Status.Error values (spec §7).
type ErrorKind int

// ErrorKind values.
const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindNetwork
	ErrorKindSignatureInvalid
	ErrorKindHashMismatch
	ErrorKindCannotLocateExecutable
	ErrorKindInstallFailed
	ErrorKindCancelled
)

// String renders the ErrorKind for logging.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNetwork:
		return "network"
	case ErrorKindSignatureInvalid:
		return "signature_invalid"
	case ErrorKindHashMismatch:
		return "hash_mismatch"
	case ErrorKindCannotLocateExecutable:
		return "cannot_locate_executable"
	case ErrorKindInstallFailed:
		return "install_failed"
	case ErrorKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Phase is the tag of a Status value (spec §3).
type Phase int

// Phase values, in the order the state machine (spec §4.7) visits them.
const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseUpdateAvailable
	PhaseDownloading
	PhaseInstalling
	PhasePendingRestart
	PhaseRestarting
	PhaseError
)

// String renders the Phase for logging.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseUpdateAvailable:
		return "update_available"
	case PhaseDownloading:
		return "downloading"
	case PhaseInstalling:
		return "installing"
	case PhasePendingRestart:
		return "pending_restart"
	case PhaseRestarting:
		return "restarting"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the updater's lifecycle (spec §3's tagged union).
// Only the fields relevant to Phase are meaningful; e.g. Version is set for
// PhaseUpdateAvailable, Have/Total for PhaseDownloading, ErrorKind for
// PhaseError.
type Status struct {
	Phase     Phase
	Version   release.Version
	Have      int64
	Total     int64 // -1 means unknown
	ErrorKind ErrorKind
	Err       error
}

// Broadcaster publishes Status transitions to any number of subscribers.
// Publication is synchronous in transition order, so a single subscriber
// always observes the state machine's order (spec §9's ordering law,
// testable property 9). Each subscriber gets its own buffered channel so a
// lagging subscriber never blocks the publisher (spec §3); if a
// subscriber's buffer is full, the oldest unread non-terminal status is
// dropped to make room, but PhaseRestarting and PhaseError are always
// delivered or the channel is closed trying.
type Broadcaster struct {
	mu          sync.Mutex
	current     Status
	subscribers map[*subscription]struct{}
}

// subscriberBuffer bounds the per-subscriber channel; large enough that a
// realistic consumer never actually drops anything, matching the spec's
// "lagging subscribers do not block the producer" tolerance.
const subscriberBuffer = 32

type subscription struct {
	ch     chan Status
	closed bool
}

// NewBroadcaster returns a Broadcaster initialised to PhaseIdle.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current:     Status{Phase: PhaseIdle},
		subscribers: make(map[*subscription]struct{}),
	}
}

// Status returns the current status with a single lock-guarded read.
func (b *Broadcaster) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscription is a fan-out receiver returned by Subscribe.
type Subscription struct {
	b   *Broadcaster
	sub *subscription
}

// C returns the channel to receive Status transitions from, starting from
// the moment of subscribe onward.
func (s *Subscription) C() <-chan Status {
	return s.sub.ch
}

// Unsubscribe stops delivery and releases the subscription's resources.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subscribers, s.sub)
	if !s.sub.closed {
		close(s.sub.ch)
		s.sub.closed = true
	}
}

// Subscribe registers a new fan-out receiver.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{ch: make(chan Status, subscriberBuffer)}
	b.subscribers[sub] = struct{}{}
	return &Subscription{b: b, sub: sub}
}

// Set publishes a new status, fanning it out to every current subscriber in
// the order transitions are made (spec §4.4 set_status).
func (b *Broadcaster) Set(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s

	terminal := s.Phase == PhaseRestarting || s.Phase == PhaseError
	for sub := range b.subscribers {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- s:
		default:
			if terminal {
				// Never silently drop a terminal status: make room by
				// discarding the oldest queued non-terminal one.
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- s:
				default:
					close(sub.ch)
					sub.closed = true
				}
			}
			// Non-terminal statuses are allowed to be dropped for a
			// lagging subscriber (spec §3).
		}
	}
}
