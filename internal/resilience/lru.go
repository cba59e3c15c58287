package resilience

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// LRU is a fixed-capacity cache that evicts the least-recently-accessed entry
// when an insertion would exceed capacity. Get and Put are O(1) amortised.
//
// LRU is safe for concurrent use.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

// lruEntry is the payload stored in each list element.
type lruEntry[V any] struct {
	key   string
	value V
}

// NewLRU creates an [LRU] holding at most capacity entries. Capacities below
// one are clamped to one.
func NewLRU[V any](capacity int) *LRU[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns the value for key and marks it most recently used.
// The second return value reports whether the key was present.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[V]).value, true
}

// Put inserts or replaces the value for key, marking it most recently used.
// If the insertion exceeds capacity the least-recently-accessed entry is
// evicted.
func (c *LRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry[V]).key)
	}
}

// Len returns the current number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// FingerprintKey derives a cache key from a call-site identity and the raw
// argument bytes. The same site and arguments always produce the same key.
func FingerprintKey(site string, args []byte) string {
	sum := sha256.Sum256(args)
	return site + ":" + hex.EncodeToString(sum[:])
}
