package cache

import (
	"sort"
	"sync"
)

const (
	MinCacheSize = 32

	// evictionDivisor controls the batch size removed when the cache is full.
	evictionDivisor = 8
)

// CloneFunc returns an independent copy of a value.
type CloneFunc[V any] func(V) V

type cacheKey[K1, K2 comparable] struct {
	k1 K1
	k2 K2
}

type cacheEntry[V any] struct {
	value V
	stamp uint64
}

// BoundedCache stores deep copies of values keyed by a pair of keys. When it
// reaches capacity it drops the oldest eighth of its entries in one batch.
// Reads refresh an entry's timestamp.
//
// BoundedCache is not safe for concurrent use; see SyncCache.
type BoundedCache[K1, K2 comparable, V any] struct {
	entries map[cacheKey[K1, K2]]*cacheEntry[V]
	maxSize int
	clone   CloneFunc[V]
	clock   uint64
}

// NewBoundedCache creates a cache holding at most maxSize entries (at least
// MinCacheSize). A nil clone stores values as given.
func NewBoundedCache[K1, K2 comparable, V any](maxSize int, clone CloneFunc[V]) *BoundedCache[K1, K2, V] {
	if maxSize < MinCacheSize {
		maxSize = MinCacheSize
	}
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &BoundedCache[K1, K2, V]{
		entries: make(map[cacheKey[K1, K2]]*cacheEntry[V], maxSize),
		maxSize: maxSize,
		clone:   clone,
	}
}

func (c *BoundedCache[K1, K2, V]) tick() uint64 {
	c.clock++
	return c.clock
}

// Set stores a copy of value under (k1, k2).
func (c *BoundedCache[K1, K2, V]) Set(k1 K1, k2 K2, value V) {
	if len(c.entries) >= c.maxSize {
		c.evictOldest(c.maxSize / evictionDivisor)
	}
	c.entries[cacheKey[K1, K2]{k1, k2}] = &cacheEntry[V]{
		value: c.clone(value),
		stamp: c.tick(),
	}
}

// Get looks up keys under k1. Found values are copies; missing keys keep
// their input order.
func (c *BoundedCache[K1, K2, V]) Get(k1 K1, keys []K2) (map[K2]V, []K2) {
	found := make(map[K2]V, len(keys))
	missing := make([]K2, 0)
	for _, k2 := range keys {
		entry, ok := c.entries[cacheKey[K1, K2]{k1, k2}]
		if !ok {
			missing = append(missing, k2)
			continue
		}
		entry.stamp = c.tick()
		found[k2] = c.clone(entry.value)
	}
	return found, missing
}

func (c *BoundedCache[K1, K2, V]) Clear() {
	c.entries = make(map[cacheKey[K1, K2]]*cacheEntry[V], c.maxSize)
}

func (c *BoundedCache[K1, K2, V]) Len() int {
	return len(c.entries)
}

func (c *BoundedCache[K1, K2, V]) MaxSize() int {
	return c.maxSize
}

func (c *BoundedCache[K1, K2, V]) evictOldest(n int) {
	if n <= 0 || len(c.entries) == 0 {
		return
	}
	type aged struct {
		key   cacheKey[K1, K2]
		stamp uint64
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, stamp: e.stamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].stamp < all[j].stamp })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
}

// SyncCache guards a BoundedCache with a mutex. Get takes the write lock
// because hits update timestamps.
type SyncCache[K1, K2 comparable, V any] struct {
	mu    sync.Mutex
	inner *BoundedCache[K1, K2, V]
}

func NewSyncCache[K1, K2 comparable, V any](maxSize int, clone CloneFunc[V]) *SyncCache[K1, K2, V] {
	return &SyncCache[K1, K2, V]{inner: NewBoundedCache[K1, K2, V](maxSize, clone)}
}

func (c *SyncCache[K1, K2, V]) Set(k1 K1, k2 K2, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Set(k1, k2, value)
}

func (c *SyncCache[K1, K2, V]) Get(k1 K1, keys []K2) (map[K2]V, []K2) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(k1, keys)
}

func (c *SyncCache[K1, K2, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Clear()
}

func (c *SyncCache[K1, K2, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
