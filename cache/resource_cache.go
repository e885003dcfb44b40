package cache

import (
	"github.com/Skryldev/image-loader/core"
)

// ResourceCache is the strong memory tier: a byte-bounded LRU over shared
// resources the engine is no longer handing out.  It satisfies
// core.MemoryCache.
type ResourceCache struct {
	lru *LRU[core.Key, *core.SharedResource]
}

var _ core.MemoryCache = (*ResourceCache)(nil)

// NewResourceCache builds a cache bounded at maxBytes.
func NewResourceCache(maxBytes int) *ResourceCache {
	return &ResourceCache{
		lru: NewLRU[core.Key, *core.SharedResource](maxBytes, func(res *core.SharedResource) int {
			return res.SizeBytes()
		}),
	}
}

func (c *ResourceCache) Put(key core.Key, res *core.SharedResource) {
	c.lru.Put(key, res)
}

// Get returns the cached resource without transferring ownership; the entry
// stays in the cache, marked most recently used.
func (c *ResourceCache) Get(key core.Key) (*core.SharedResource, bool) {
	return c.lru.Get(key)
}

func (c *ResourceCache) Remove(key core.Key) (*core.SharedResource, bool) {
	return c.lru.Remove(key)
}

func (c *ResourceCache) SetEvictionHandler(h func(res *core.SharedResource)) {
	c.lru.SetEvictionHandler(func(_ core.Key, res *core.SharedResource) {
		h(res)
	})
}

// SetSizeMultiplier rescales the bound relative to the construction size.
func (c *ResourceCache) SetSizeMultiplier(multiplier float64) {
	c.lru.SetSizeMultiplier(multiplier)
}

func (c *ResourceCache) TrimToSize(bytes int) { c.lru.TrimToSize(bytes) }

// Trim maps a host memory-pressure level onto the cache: moderate pressure
// empties it, background pressure halves it.
func (c *ResourceCache) Trim(level core.TrimLevel) {
	switch {
	case level >= core.TrimLevelModerate:
		c.Clear()
	case level >= core.TrimLevelBackground:
		c.lru.TrimToSize(c.lru.CurrentSize() / 2)
	}
}

func (c *ResourceCache) Clear()           { c.lru.Clear() }
func (c *ResourceCache) Len() int         { return c.lru.Len() }
func (c *ResourceCache) CurrentSize() int { return c.lru.CurrentSize() }
func (c *ResourceCache) MaxSize() int     { return c.lru.MaxSize() }
