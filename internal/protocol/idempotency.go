package protocol

import (
	"container/list"
	"sync"
)

// idempotencyCapacity is the bounded-LRU cap from spec.md §4.D option (b),
// chosen over a TTL so memory bound does not depend on clock skew.
const idempotencyCapacity = 10000

type idempotencyKey struct {
	sessionID string
	requestID string
}

type idempotencyEntry struct {
	key    idempotencyKey
	result *Result
}

// idempotencyCache is a bounded LRU keyed by (sessionID, requestID),
// remembering the Result of the first successful processing of a
// request_id so re-delivery within the window is detected. No precedent
// in the teacher (it has no request envelope); grounded directly on
// spec.md §4.D's documented-and-observable bounded-memory requirement.
type idempotencyCache struct {
	mu        sync.Mutex
	capacity  int
	ll        *list.List
	index     map[idempotencyKey]*list.Element
	evictions uint64
}

func newIdempotencyCache(capacity int) *idempotencyCache {
	if capacity <= 0 {
		capacity = idempotencyCapacity
	}
	return &idempotencyCache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[idempotencyKey]*list.Element),
	}
}

// lookup returns the cached Result for (sessionID, requestID), if present,
// and marks it most-recently-used.
func (c *idempotencyCache) lookup(sessionID, requestID string) (*Result, bool) {
	if requestID == "" {
		return nil, false
	}
	k := idempotencyKey{sessionID, requestID}

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[k]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*idempotencyEntry).result, true
}

// record stores result for (sessionID, requestID), evicting the least
// recently used entry if the cache is at capacity.
func (c *idempotencyCache) record(sessionID, requestID string, result *Result) {
	if requestID == "" {
		return
	}
	k := idempotencyKey{sessionID, requestID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[k]; ok {
		el.Value.(*idempotencyEntry).result = result
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&idempotencyEntry{key: k, result: result})
	c.index[k] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*idempotencyEntry).key)
			c.evictions++
		}
	}
}

// Stats reports the cache's current size and lifetime eviction count, the
// externally-observable accounting spec.md §4.D requires of whichever
// bound strategy is chosen.
type Stats struct {
	Size      int
	Evictions uint64
}

func (c *idempotencyCache) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: c.ll.Len(), Evictions: c.evictions}
}

// drop removes every entry belonging to sessionID, called on session
// close per spec.md §4.E ("drain idempotency cache asynchronously").
func (c *idempotencyCache) drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, el := range c.index {
		if k.sessionID == sessionID {
			c.ll.Remove(el)
			delete(c.index, k)
		}
	}
}
