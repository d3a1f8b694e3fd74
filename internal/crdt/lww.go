package crdt

import (
	"fmt"
	"time"
)

// LWWRegister is a last-writer-wins register: a single opaque value tagged
// with the timestamp and author of its most recent write. nil Value means
// unset.
type LWWRegister struct {
	value     any
	timestamp int64
	author    NodeID
	version   uint64
}

// NewLWWRegister returns the identity element: unset, timestamp zero,
// empty author.
func NewLWWRegister() *LWWRegister {
	return &LWWRegister{}
}

func (r *LWWRegister) Kind() Kind      { return KindLWWRegister }
func (r *LWWRegister) Version() uint64 { return r.version }

// Value returns the current payload (nil if unset) along with whether a
// write has ever been observed.
func (r *LWWRegister) Value() (any, bool) {
	return r.value, r.timestamp != 0 || r.author != ""
}

// Timestamp returns the timestamp of the most recent write.
func (r *LWWRegister) Timestamp() int64 { return r.timestamp }

// Author returns the author of the most recent write.
func (r *LWWRegister) Author() NodeID { return r.author }

// Set assigns v as the new value authored by node. The new timestamp is
// max(currentTimestamp+1, wallClockMicros) so that a later local write can
// never tie an earlier one at the same replica.
func (r *LWWRegister) Set(v any, node NodeID) *LWWRegister {
	wall := time.Now().UnixMicro()
	ts := r.timestamp + 1
	if wall > ts {
		ts = wall
	}
	return &LWWRegister{value: v, timestamp: ts, author: node, version: r.version + 1}
}

// Merge picks the side with the larger timestamp; ties are broken by
// lexicographic comparison of author (empty string is smallest). Exact
// equality of (timestamp, author) is resolved by the values' printed form
// (fmt.Sprint), the larger winning, so the result does not depend on
// argument order; when those are equal too, other is returned.
func (r *LWWRegister) Merge(other Replica) (Replica, error) {
	o, ok := other.(*LWWRegister)
	if !ok {
		return nil, &ErrKindMismatch{Want: KindLWWRegister, Got: other.Kind()}
	}
	winner := r
	if o.timestamp > r.timestamp {
		winner = o
	} else if o.timestamp == r.timestamp {
		if o.author > r.author {
			winner = o
		} else if o.author == r.author && fmt.Sprint(o.value) >= fmt.Sprint(r.value) {
			winner = o
		}
	}
	version := r.version
	if o.version > version {
		version = o.version
	}
	return &LWWRegister{value: winner.value, timestamp: winner.timestamp, author: winner.author, version: version}, nil
}

// Delta returns the receiver unchanged if it dominates since, or the empty
// register otherwise (merge(since, empty) = since, which is a no-op —
// "may return empty when new <= old").
func (r *LWWRegister) Delta(since Replica) (Replica, error) {
	s, ok := since.(*LWWRegister)
	if !ok {
		return nil, &ErrKindMismatch{Want: KindLWWRegister, Got: since.Kind()}
	}
	dominates := r.timestamp > s.timestamp || (r.timestamp == s.timestamp && r.author >= s.author)
	if !dominates {
		return NewLWWRegister(), nil
	}
	return &LWWRegister{value: r.value, timestamp: r.timestamp, author: r.author, version: r.version}, nil
}

// Encode produces the {value, timestamp, author} wire payload.
func (r *LWWRegister) Encode() Wire {
	return Wire{
		Kind: KindLWWRegister,
		Payload: map[string]any{
			"value":     r.value,
			"timestamp": r.timestamp,
			"author":    string(r.author),
		},
		Version: r.version,
	}
}

func decodeLWWRegister(w Wire) (Replica, error) {
	out := NewLWWRegister()
	out.value = w.Payload["value"]
	if ts, ok := w.Payload["timestamp"]; ok {
		out.timestamp = int64(toUint64(ts))
	}
	if a, ok := w.Payload["author"].(string); ok {
		out.author = NodeID(a)
	}
	out.version = w.Version
	return out, nil
}
