package registry

import (
	"sync"
	"sync/atomic"
)

// outboxSize bounds how many pending broadcasts a single subscriber may
// have queued before it is considered backpressured. Mirrors the
// buffered-channel-per-subscriber design in the ws_poc reference
// (internal/shared/connection.go in the retrieved pack), sized down from
// that file's 1024-slot broadcast buffer since registry broadcasts carry
// full CRDT state rather than small trading ticks.
const outboxSize = 64

// maxDeliveryStrikes is the number of consecutive failed (full-buffer)
// deliveries tolerated before a subscriber is dropped. Same "three
// strikes" convention as the ws_poc slow-client detector.
const maxDeliveryStrikes = 3

// Subscriber is a lightweight send-side handle for a session. The
// registry never calls it synchronously except to enqueue a broadcast;
// delivery to the subscriber's own goroutine happens by draining Outbox.
type Subscriber struct {
	ID      string
	Outbox  chan Broadcast
	strikes atomic.Int32
}

// Broadcast is the payload handed to a subscriber when a key's replica
// changes: the key, its newly-converged wire state, and an origin marker
// so the owning session can suppress echo of its own mutation.
type Broadcast struct {
	Key    string
	Wire   any // crdt.Wire, kept as `any` here to avoid an import cycle
	Origin string
}

// NewSubscriber creates a Subscriber with a bounded outbox.
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, Outbox: make(chan Broadcast, outboxSize)}
}

// deliver attempts a non-blocking send. It returns false when the
// subscriber's outbox is full, which the caller uses to track strikes
// without ever blocking on a slow subscriber.
func (s *Subscriber) deliver(b Broadcast) bool {
	select {
	case s.Outbox <- b:
		return true
	default:
		return false
	}
}

// subscriberSet holds the subscribers for one key with a copy-on-write
// snapshot, grounded on the ws_poc SubscriptionIndex: reads of the
// snapshot are lock-free relative to delivery, writes (subscribe/
// unsubscribe) take the lock and swap in a new slice.
type subscriberSet struct {
	mu       sync.RWMutex
	snapshot []*Subscriber
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{}
}

func (s *subscriberSet) add(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshot {
		if existing == sub {
			return
		}
	}
	next := make([]*Subscriber, len(s.snapshot)+1)
	copy(next, s.snapshot)
	next[len(s.snapshot)] = sub
	s.snapshot = next
}

func (s *subscriberSet) remove(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.snapshot {
		if existing == sub {
			next := make([]*Subscriber, 0, len(s.snapshot)-1)
			next = append(next, s.snapshot[:i]...)
			next = append(next, s.snapshot[i+1:]...)
			s.snapshot = next
			return
		}
	}
}

func (s *subscriberSet) list() []*Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// broadcast delivers b to every subscriber, non-blocking. A subscriber
// that fails delivery three times in a row (full outbox, i.e. dead or
// backpressured) is removed so it never delays anyone else — spec.md §5
// suspension point (iv) and §4.B's "MUST be removed eventually" contract.
func (s *subscriberSet) broadcast(b Broadcast) {
	for _, sub := range s.list() {
		if sub.deliver(b) {
			sub.strikes.Store(0)
			continue
		}
		if sub.strikes.Add(1) >= maxDeliveryStrikes {
			s.remove(sub)
		}
	}
}
