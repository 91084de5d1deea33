package adapters

import (
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// LRUCache implements a mutex-guarded LRU cache with per-entry TTL.
// Values are replaced wholesale on Set; callers must not mutate a value after storing it.
type LRUCache[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheItem[V]
	head     *cacheItem[V]
	tail     *cacheItem[V]
	now      func() time.Time
}

type cacheItem[V any] struct {
	key     string
	value   V
	expires time.Time
	prev    *cacheItem[V]
	next    *cacheItem[V]
}

// NewLRUCache creates a new LRU cache with the specified capacity (<= 0 means unbounded).
func NewLRUCache[V any](capacity int) *LRUCache[V] {
	return &LRUCache[V]{
		capacity: capacity,
		items:    make(map[string]*cacheItem[V]),
		now:      time.Now,
	}
}

// WithClock swaps the time source; used by tests.
func (c *LRUCache[V]) WithClock(now func() time.Time) *LRUCache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get retrieves a live value. Expired entries are removed on access.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		return zero, false
	}

	if !c.now().Before(item.expires) {
		c.removeItem(item)
		delete(c.items, key)
		return zero, false
	}

	c.moveToFront(item)
	return item.value, true
}

// Set stores a value with the given ttl.
func (c *LRUCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)

	if item, exists := c.items[key]; exists {
		item.value = value
		item.expires = expires
		c.moveToFront(item)
		return
	}

	item := &cacheItem[V]{key: key, value: value, expires: expires}
	c.addToFront(item)
	c.items[key] = item

	if c.capacity > 0 && len(c.items) > c.capacity {
		c.evictLRU()
	}
}

// Delete removes a key from the cache.
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		c.removeItem(item)
		delete(c.items, key)
	}
}

// Clear drops every entry.
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem[V])
	c.head = nil
	c.tail = nil
}

// Purge drops expired entries and returns how many were removed.
func (c *LRUCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.items {
		if !now.Before(item.expires) {
			c.removeItem(item)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache[V]) moveToFront(item *cacheItem[V]) {
	if item == c.head {
		return
	}
	c.removeItem(item)
	c.addToFront(item)
}

func (c *LRUCache[V]) addToFront(item *cacheItem[V]) {
	item.next = c.head
	item.prev = nil

	if c.head != nil {
		c.head.prev = item
	}
	c.head = item

	if c.tail == nil {
		c.tail = item
	}
}

func (c *LRUCache[V]) removeItem(item *cacheItem[V]) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}

	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}

	item.prev = nil
	item.next = nil
}

func (c *LRUCache[V]) evictLRU() {
	if c.tail == nil {
		return
	}
	item := c.tail
	c.removeItem(item)
	delete(c.items, item.key)
}

// Ensure LRUCache implements the Cache interface.
var _ ports.Cache[int] = (*LRUCache[int])(nil)
