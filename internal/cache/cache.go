// Package cache implements the byte-budget cache shared by the block,
// parsed-page and compiled-module caches (C8), with single-flight
// coalescing so concurrent misses for the same key run exactly one
// producer. Eviction is in insertion order, not least-recently-used: a
// cache hit does not refresh an entry.
package cache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/wikireader/wikireader/internal/metrics"
)

// Cache is a generic byte-budget cache. Eviction purges the oldest-inserted
// entry until the running size is back under the budget (Get and Peek hits
// leave that order unchanged), using a
// round-robin key slice rather than a linked list, parameterized over key
// and value types instead of being hardwired to one cached type.
type Cache[K comparable, V any] struct {
	mu          sync.Mutex
	maxBytes    int
	curBytes    int
	keyStart    int
	keyEnd      int
	keys        []K
	data        map[K]V
	weigh       func(V) int
	name        string
	group       singleflight.Group
}

// New creates a cache with the given byte budget. weigh reports a value's
// size in bytes for budget accounting; it should be cheap (no locking,
// typically len(data) or a precomputed field).
func New[K comparable, V any](maxBytes int, weigh func(V) int) *Cache[K, V] {
	return &Cache[K, V]{
		maxBytes: maxBytes,
		data:     make(map[K]V),
		weigh:    weigh,
		name:     "cache",
	}
}

// Named sets the cache's metrics label (e.g. "block", "parsed-page", "compiled-module").
func (c *Cache[K, V]) Named(name string) *Cache[K, V] {
	c.name = name
	return c
}

// Peek returns a cached value without triggering production, for callers
// that want to distinguish "already cached" from "needs work" (e.g. the
// #ifexist parser function checking page existence shouldn't warm the page
// cache).
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

// Get fetches key from the cache, calling produce to compute it on a miss.
// Concurrent Get calls for the same key share one produce call and one
// result — the single-flight coalescing the data model requires.
func (c *Cache[K, V]) Get(key K, produce func() (V, error)) (V, error) {
	if v, ok := c.Peek(key); ok {
		metrics.RecordCacheHit(c.name)
		return v, nil
	}
	metrics.RecordCacheMiss(c.name)

	groupKey := fmt.Sprintf("%v", key)
	v, err, _ := c.group.Do(groupKey, func() (interface{}, error) {
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		val, err := produce()
		if err != nil {
			return nil, err
		}
		c.store(key, val)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// store publishes a fully-computed value. Cache writes are
// publish-after-complete: a reader either sees no entry or the final,
// immutable entry, never a partial one, since store is only ever called
// with produce's completed result.
func (c *Cache[K, V]) store(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, already := c.data[key]; already {
		return
	}

	size := c.weigh(value)
	c.data[key] = value
	c.curBytes += size
	if c.keyEnd < len(c.keys) {
		c.keys[c.keyEnd] = key
	} else {
		c.keys = append(c.keys, key)
	}
	c.keyEnd++
	if c.keyEnd == c.keyStart {
		c.purgeOldestLocked()
	}

	for c.curBytes > c.maxBytes && len(c.data) > 0 {
		c.purgeOldestLocked()
	}
	if c.keyEnd == len(c.keys) && c.keyStart*2 > c.keyEnd {
		c.keyEnd = 0
	}
}

func (c *Cache[K, V]) purgeOldestLocked() {
	if c.keyStart == c.keyEnd && len(c.data) == 0 {
		return
	}
	oldest := c.keys[c.keyStart]
	c.curBytes -= c.weigh(c.data[oldest])
	delete(c.data, oldest)
	c.keyStart++
	if c.keyStart == len(c.keys) {
		c.keyStart = 0
	}
}

// Len reports the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
