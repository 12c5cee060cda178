// Package cache provides the in-memory caches used on the read path.
//
// LRUBlockCache and ShardedLRUBlockCache hold decoded segment blocks
// (posting lists, stored-field blocks) keyed by segment and file offset.
// Sealed segments are immutable, so entries never go stale; they are dropped
// with InvalidateSegment when a merged-away segment is closed.
//
// LRU is a generic byte-bounded LRU used for query results keyed by
// snapshot version.
package cache
