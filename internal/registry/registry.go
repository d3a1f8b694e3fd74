// Package registry implements the single logical store of Key -> Replica
// plus Key -> set of Subscribers described in spec.md §4.B. Single-key
// operations are serializable with respect to each other; there is no
// ordering guarantee across keys, and each key's critical section is
// independent of every other key's so a slow operation on one key never
// delays another (spec.md §5).
package registry

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"crdtsync/internal/crdt"
)

// ErrNotFound is returned by Update/Delta when the key has no replica.
type ErrNotFound struct{ Key string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("registry: key %q not found", e.Key) }

// ErrKindMismatch is returned when an operation's requested kind does not
// match the kind already stored for a key.
type ErrKindMismatch struct {
	Key  string
	Want crdt.Kind
	Got  crdt.Kind
}

func (e *ErrKindMismatch) Error() string {
	return fmt.Sprintf("registry: key %q: want kind %q, got %q", e.Key, e.Want, e.Got)
}

// entry is the registry's per-key state: the current replica, its kind,
// a per-key mutex for the critical section, and the key's subscribers.
type entry struct {
	mu      sync.Mutex
	kind    crdt.Kind
	replica crdt.Replica
	subs    *subscriberSet
}

// Registry is the concurrent-safe, in-memory store of CRDT replicas keyed
// by string. It is the only shared mutable resource the rest of the
// system touches; the top-level mutex only ever guards the key space
// (creating/deleting entries), never the per-key critical sections
// themselves — mirrors the teacher's store.Store (internal/store/store.go)
// generalized from one store-wide RWMutex to one per key, per spec.md §5.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Get returns the replica stored for k, or (nil, false) if absent. It
// never creates an entry.
func (r *Registry) Get(k string) (crdt.Replica, bool) {
	e := r.lookup(k)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.replica == nil {
		return nil, false
	}
	return e.replica, true
}

func (r *Registry) lookup(k string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[k]
}

// GetOrCreate atomically installs empty(kind) if k is absent, then returns
// the current replica. Concurrent first-reference races for the same cold
// key are collapsed via singleflight so exactly one empty(kind) is
// installed rather than racing double-checked locks against each other.
func (r *Registry) GetOrCreate(k string, kind crdt.Kind) (crdt.Replica, error) {
	if e := r.lookup(k); e != nil {
		if replica, ok, err := r.readIfInstalled(e, k, kind); ok || err != nil {
			return replica, err
		}
	}

	v, err, _ := r.group.Do(k, func() (any, error) {
		r.mu.Lock()
		e, ok := r.entries[k]
		if !ok {
			e = &entry{subs: newSubscriberSet()}
			r.entries[k] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.replica == nil {
			empty, err := crdt.Empty(kind)
			if err != nil {
				return nil, err
			}
			e.kind = kind
			e.replica = empty
		}
		if e.kind != kind {
			return nil, &ErrKindMismatch{Key: k, Want: kind, Got: e.kind}
		}
		return e.replica, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(crdt.Replica), nil
}

// readIfInstalled returns (replica, true, nil) once the entry already has
// a replica installed, (nil, false, nil) if it exists but is still
// pending first creation (e.g. a bare entry from Subscribe), or (nil,
// true, err) on a genuine kind mismatch.
func (r *Registry) readIfInstalled(e *entry, k string, kind crdt.Kind) (crdt.Replica, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.replica == nil {
		return nil, false, nil
	}
	if e.kind != kind {
		return nil, true, &ErrKindMismatch{Key: k, Want: kind, Got: e.kind}
	}
	return e.replica, true, nil
}

// Put replaces the replica stored for k and broadcasts the new state.
func (r *Registry) Put(k string, v crdt.Replica) {
	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		e = &entry{kind: v.Kind(), subs: newSubscriberSet()}
		r.entries[k] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.kind = v.Kind()
	e.replica = v
	subs := e.subs
	e.mu.Unlock()

	subs.broadcast(Broadcast{Key: k, Wire: v.Encode()})
}

// Update atomically reads the current replica for k, applies f, stores
// the result, and broadcasts it. Fails with ErrNotFound if k is absent.
// An optional origin tags the resulting Broadcast so the calling session
// can filter its own echo out of the fan-out it receives (spec.md §4.E's
// "origin tag" echo-suppression strategy).
func (r *Registry) Update(k string, f func(crdt.Replica) (crdt.Replica, error), origin ...string) (crdt.Replica, error) {
	e := r.lookup(k)
	if e == nil {
		return nil, &ErrNotFound{Key: k}
	}

	e.mu.Lock()
	if e.replica == nil {
		e.mu.Unlock()
		return nil, &ErrNotFound{Key: k}
	}
	next, err := f(e.replica)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.replica = next
	subs := e.subs
	e.mu.Unlock()

	subs.broadcast(Broadcast{Key: k, Wire: next.Encode(), Origin: firstOrigin(origin)})
	return next, nil
}

func firstOrigin(origin []string) string {
	if len(origin) == 0 {
		return ""
	}
	return origin[0]
}

// Merge atomically installs incoming if k is absent, else merges incoming
// into the current replica. Broadcasts the resulting state. Fails with
// ErrKindMismatch if the kinds disagree.
func (r *Registry) Merge(k string, incoming crdt.Replica, origin ...string) (crdt.Replica, error) {
	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		e = &entry{kind: incoming.Kind(), subs: newSubscriberSet()}
		r.entries[k] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	if e.replica == nil {
		e.replica = incoming
		e.kind = incoming.Kind()
		next := e.replica
		subs := e.subs
		e.mu.Unlock()
		subs.broadcast(Broadcast{Key: k, Wire: next.Encode(), Origin: firstOrigin(origin)})
		return next, nil
	}
	if e.kind != incoming.Kind() {
		e.mu.Unlock()
		return nil, &ErrKindMismatch{Key: k, Want: e.kind, Got: incoming.Kind()}
	}
	merged, err := e.replica.Merge(incoming)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.replica = merged
	subs := e.subs
	e.mu.Unlock()

	subs.broadcast(Broadcast{Key: k, Wire: merged.Encode(), Origin: firstOrigin(origin)})
	return merged, nil
}

// Delta computes delta(clientState, current) for k using the kind's
// delta function.
func (r *Registry) Delta(k string, clientState crdt.Replica) (crdt.Replica, error) {
	e := r.lookup(k)
	if e == nil {
		return nil, &ErrNotFound{Key: k}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.replica == nil {
		return nil, &ErrNotFound{Key: k}
	}
	if e.kind != clientState.Kind() {
		return nil, &ErrKindMismatch{Key: k, Want: e.kind, Got: clientState.Kind()}
	}
	return e.replica.Delta(clientState)
}

// Subscribe registers sub to receive broadcasts for k. Idempotent.
func (r *Registry) Subscribe(k string, sub *Subscriber) {
	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		e = &entry{subs: newSubscriberSet()}
		r.entries[k] = e
	}
	r.mu.Unlock()
	e.subs.add(sub)
}

// Unsubscribe removes sub from k's subscriber set. Idempotent.
func (r *Registry) Unsubscribe(k string, sub *Subscriber) {
	e := r.lookup(k)
	if e == nil {
		return
	}
	e.subs.remove(sub)
}

// Delete removes the replica and all subscribers for k.
func (r *Registry) Delete(k string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, k)
}

// Keys returns a snapshot of currently stored keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k, e := range r.entries {
		e.mu.Lock()
		installed := e.replica != nil
		e.mu.Unlock()
		if installed {
			out = append(out, k)
		}
	}
	return out
}
