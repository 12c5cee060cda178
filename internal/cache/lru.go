package cache

import (
	"context"

	"github.com/hupe1980/textgo/model"
)

// LRUBlockCache is a BlockCache over one byte-bounded LRU.
type LRUBlockCache struct {
	lru *LRU[CacheKey, []byte]
}

func blockCost(b []byte) int64 { return int64(len(b)) }

// NewLRUBlockCache creates a cache holding at most capacity bytes.
func NewLRUBlockCache(capacity int64) *LRUBlockCache {
	return &LRUBlockCache{lru: NewLRU[CacheKey, []byte](capacity, blockCost)}
}

func (c *LRUBlockCache) Get(_ context.Context, key CacheKey) ([]byte, bool) {
	return c.lru.Get(key)
}

// Set caches b. Blocks larger than the whole cache are dropped.
func (c *LRUBlockCache) Set(_ context.Context, key CacheKey, b []byte) {
	c.lru.Put(key, b)
}

func (c *LRUBlockCache) InvalidateSegment(id model.SegmentID) {
	c.lru.Purge(func(k CacheKey) bool { return k.SegmentID == id })
}

func (c *LRUBlockCache) Stats() (hits, misses int64) { return c.lru.Stats() }

func (c *LRUBlockCache) Size() int64 { return c.lru.Size() }

// Len returns the number of cached blocks.
func (c *LRUBlockCache) Len() int { return c.lru.Len() }
