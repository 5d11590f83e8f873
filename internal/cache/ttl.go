// Package cache provides a small in-memory TTL cache.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL stores values in memory with per-entry expiry. A nil *TTL behaves as an
// always-empty cache.
type TTL[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]entry[V]
	now   func() time.Time
}

// New constructs an empty TTL cache.
func New[K comparable, V any]() *TTL[K, V] {
	return &TTL[K, V]{items: make(map[K]entry[V]), now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (c *TTL[K, V]) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns a cached value if it exists and has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.expired(e) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

// Set stores a value. A non-positive ttl never expires.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}
}

// Touch pushes the expiry of a live entry ttl into the future.
// It reports false when the key is absent or already expired.
func (c *TTL[K, V]) Touch(key K, ttl time.Duration) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || c.expired(e) {
		return false
	}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	c.items[key] = e
	return true
}

// Delete removes an entry and returns its value, if any.
func (c *TTL[K, V]) Delete(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	delete(c.items, key)
	return e.value, true
}

// Len returns the number of entries, expired ones included until swept.
func (c *TTL[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep removes every expired entry and returns the removed values.
func (c *TTL[K, V]) Sweep() []V {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []V
	for k, e := range c.items {
		if c.expired(e) {
			delete(c.items, k)
			out = append(out, e.value)
		}
	}
	return out
}

func (c *TTL[K, V]) expired(e entry[V]) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}
