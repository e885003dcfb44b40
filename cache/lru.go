// Package cache provides the size-bounded LRU primitives behind the strong
// memory tier.
package cache

import (
	"container/list"
	"math"
	"sync"
)

type lruEntry[K comparable, V any] struct {
	key  K
	val  V
	size int
}

// LRU is a byte-size-bounded map with least-recently-used eviction.  Size is
// measured by the sizeOf function supplied at construction, sampled once when
// an item is inserted.  Safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	entries map[K]*list.Element
	order   *list.List // front = most recent

	sizeOf     func(V) int
	onEvict    func(K, V)
	initialMax int
	maxSize    int
	current    int
}

// NewLRU builds an LRU bounded at maxSize bytes.  sizeOf must return a
// non-negative size for every value.
func NewLRU[K comparable, V any](maxSize int, sizeOf func(V) int) *LRU[K, V] {
	return &LRU[K, V]{
		entries:    make(map[K]*list.Element),
		order:      list.New(),
		sizeOf:     sizeOf,
		initialMax: maxSize,
		maxSize:    maxSize,
	}
}

// SetEvictionHandler installs the hook invoked once per evicted or rejected
// entry.  The hook runs with the cache lock held; it must not call back into
// the cache.
func (c *LRU[K, V]) SetEvictionHandler(h func(key K, val V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = h
}

// SetSizeMultiplier rescales the bound relative to the size the cache was
// constructed with, then evicts down to the new bound.
func (c *LRU[K, V]) SetSizeMultiplier(multiplier float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = int(math.Round(float64(c.initialMax) * multiplier))
	c.trimLocked(c.maxSize)
}

// Put inserts val under key, evicting least-recently-used entries as needed.
// An item larger than the whole cache is never stored: it is handed straight
// to the eviction hook.  Replacing an existing key evicts the old value.
func (c *LRU[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeOf(val)
	if size > c.maxSize {
		if c.onEvict != nil {
			c.onEvict(key, val)
		}
		return
	}

	if el, ok := c.entries[key]; ok {
		c.removeElement(el, true)
	}
	el := c.order.PushFront(&lruEntry[K, V]{key: key, val: val, size: size})
	c.entries[key] = el
	c.current += size
	c.trimLocked(c.maxSize)
}

// Get returns the value under key, marking it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).val, true
}

// Remove removes and returns the entry without invoking the eviction hook;
// the caller takes ownership of the value.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	val := el.Value.(*lruEntry[K, V]).val
	c.removeElement(el, false)
	return val, true
}

// TrimToSize evicts least-recently-used entries until the cache holds at most
// target bytes.
func (c *LRU[K, V]) TrimToSize(target int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked(target)
}

// Clear evicts everything.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked(0)
}

// Len reports the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CurrentSize reports the total bytes held.
func (c *LRU[K, V]) CurrentSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// MaxSize reports the current bound in bytes.
func (c *LRU[K, V]) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

func (c *LRU[K, V]) trimLocked(target int) {
	for c.current > target {
		el := c.order.Back()
		if el == nil {
			return
		}
		c.removeElement(el, true)
	}
}

func (c *LRU[K, V]) removeElement(el *list.Element, evict bool) {
	en := el.Value.(*lruEntry[K, V])
	c.order.Remove(el)
	delete(c.entries, en.key)
	c.current -= en.size
	if evict && c.onEvict != nil {
		c.onEvict(en.key, en.val)
	}
}
