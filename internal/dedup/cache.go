// Package dedup provides the bounded signature set that gates transaction classification.
package dedup

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of signatures remembered before FIFO eviction.
const DefaultCapacity = 1000

// Cache is a bounded FIFO set of transaction signatures plus the set of signatures
// currently being resolved. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // oldest at front
	entries  map[string]*list.Element // signature -> element in order
	inflight map[string]struct{}
	evicted  uint64
}

// New creates a cache holding at most capacity signatures.
// Non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
		inflight: make(map[string]struct{}),
	}
}

// Begin marks sig as in flight. It returns false when sig was already classified
// or another lookup for it is running; the caller must then discard the notification.
func (c *Cache) Begin(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[sig]; ok {
		return false
	}
	if _, ok := c.inflight[sig]; ok {
		return false
	}
	c.inflight[sig] = struct{}{}
	return true
}

// Complete records sig as classified and clears its in-flight mark.
func (c *Cache) Complete(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, sig)
	c.addLocked(sig)
}

// Abandon clears the in-flight mark and forgets sig so it can be retried when seen again.
func (c *Cache) Abandon(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, sig)
	if el, ok := c.entries[sig]; ok {
		c.order.Remove(el)
		delete(c.entries, sig)
	}
}

// Add records sig as classified without going through Begin.
func (c *Cache) Add(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(sig)
}

func (c *Cache) addLocked(sig string) {
	if _, ok := c.entries[sig]; ok {
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
		c.evicted++
	}
	c.entries[sig] = c.order.PushBack(sig)
}

// Contains reports whether sig has been classified.
func (c *Cache) Contains(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[sig]
	return ok
}

// InFlight reports whether a lookup for sig is running.
func (c *Cache) InFlight(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[sig]
	return ok
}

// Len returns the number of classified signatures held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Evicted returns the number of signatures dropped by FIFO eviction.
func (c *Cache) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
