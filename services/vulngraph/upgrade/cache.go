// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upgrade

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// LRU
// =============================================================================

// lruCache is a fixed-capacity least-recently-used map.
//
// Thread Safety: safe for concurrent use.
type lruCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	order    *list.List // front = most recent

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

func newLRUCache[K comparable, V any](capacity int) *lruCache[K, V] {
	if capacity <= 0 {
		capacity = 256
	}
	return &lruCache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *lruCache[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

func (c *lruCache[K, V]) set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry[K, V]).key)
			c.evictions.Add(1)
		}
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
}

func (c *lruCache[K, V]) remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

func (c *lruCache[K, V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// =============================================================================
// CachingSource
// =============================================================================

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

type cachedVersions struct {
	versions  []string
	fetchedAt time.Time
}

// defaultSharedFetchTimeout bounds an upstream fetch shared by several
// callers, none of which owns its lifetime.
const defaultSharedFetchTimeout = 30 * time.Second

// CachingSource memoizes another source per component.
//
// Concurrent misses for the same component share one upstream fetch. The
// shared fetch is detached from any single caller's cancellation; each
// caller stops waiting when its own ctx ends. Failures are not cached.
// Entries expire after the configured TTL.
type CachingSource struct {
	inner        VersionSource
	ttl          time.Duration
	now          func() time.Time
	fetchTimeout time.Duration

	cache *lruCache[string, cachedVersions]
	group singleflight.Group
}

// NewCachingSource wraps inner with an LRU of the given capacity. A
// non-positive ttl keeps entries until they are evicted.
func NewCachingSource(inner VersionSource, capacity int, ttl time.Duration) *CachingSource {
	return &CachingSource{
		inner:        inner,
		ttl:          ttl,
		now:          time.Now,
		fetchTimeout: defaultSharedFetchTimeout,
		cache:        newLRUCache[string, cachedVersions](capacity),
	}
}

// FetchAvailableVersions returns cached versions or fetches them once.
func (c *CachingSource) FetchAvailableVersions(ctx context.Context, component string) ([]string, error) {
	if entry, ok := c.cache.get(component); ok {
		if c.ttl <= 0 || c.now().Sub(entry.fetchedAt) < c.ttl {
			return slices.Clone(entry.versions), nil
		}
		c.cache.remove(component)
	}

	ch := c.group.DoChan(component, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		versions, err := c.inner.FetchAvailableVersions(fetchCtx, component)
		if err != nil {
			return nil, err
		}
		c.cache.set(component, cachedVersions{versions: versions, fetchedAt: c.now()})
		return versions, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns hit, miss and eviction counts.
func (c *CachingSource) Stats() CacheStats {
	return CacheStats{
		Hits:      c.cache.hits.Load(),
		Misses:    c.cache.misses.Load(),
		Evictions: c.cache.evictions.Load(),
		Entries:   c.cache.len(),
	}
}
