package registry

import "crdtsync/internal/crdt"

// Snapshot returns the wire-encoded state of every installed replica.
// This is the seam an external persistence collaborator would use per
// spec.md §6 ("a persistence collaborator, if present, sees the Registry
// through the same operations as any other caller") — grounded on the
// teacher's Store.Snapshot (internal/store/store.go), adapted to hand
// back an in-memory map instead of writing straight to disk so the
// Registry itself stays volatile.
func (r *Registry) Snapshot() map[string]crdt.Wire {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	ents := make([]*entry, 0, len(r.entries))
	for k, e := range r.entries {
		keys = append(keys, k)
		ents = append(ents, e)
	}
	r.mu.RUnlock()

	out := make(map[string]crdt.Wire, len(keys))
	for i, k := range keys {
		e := ents[i]
		e.mu.Lock()
		if e.replica != nil {
			out[k] = e.replica.Encode()
		}
		e.mu.Unlock()
	}
	return out
}

// Restore installs every entry in snap as the current replica for its
// key, overwriting whatever is there (no merge, no broadcast — this is a
// cold-start load, grounded on the teacher's loadSnapshot which replaces
// the in-memory map wholesale before the WAL is replayed).
func (r *Registry) Restore(snap map[string]crdt.Wire) error {
	for k, w := range snap {
		replica, err := crdt.Decode(w)
		if err != nil {
			return err
		}
		r.mu.Lock()
		e, ok := r.entries[k]
		if !ok {
			e = &entry{subs: newSubscriberSet()}
			r.entries[k] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		e.kind = replica.Kind()
		e.replica = replica
		e.mu.Unlock()
	}
	return nil
}
