// Package cache provides a bounded in-process cache with LRU eviction
// and optional expiry. Call sites receive a handle; there is no shared
// module-level state.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a fixed-capacity LRU cache. The zero value is not usable;
// construct with New.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration // 0 = no expiry
	order    *list.List
	items    map[K]*list.Element
	now      func() time.Time
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// New creates a cache holding at most capacity entries. Entries older
// than ttl are treated as absent; ttl 0 disables expiry.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the cached value and whether it was present and fresh.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	en := el.Value.(*entry[K, V])
	if c.ttl > 0 && c.now().Sub(en.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return zero, false
	}
	c.order.MoveToFront(el)
	return en.value, true
}

// Set stores a value, evicting the least-recently-used entry when at
// capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry[K, V])
		en.value = value
		en.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
		}
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: c.now()})
	c.items[key] = el
}

// Len returns the current number of entries, including any not yet
// expired lazily.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge empties the cache.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}
