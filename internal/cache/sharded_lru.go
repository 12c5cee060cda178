package cache

import (
	"context"
	"encoding/binary"
	"hash/maphash"

	"github.com/hupe1980/textgo/model"
)

const numShards = 64

// ShardedLRUBlockCache spreads keys over 64 LRU shards to cut lock
// contention between concurrent queries.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
	seed   maphash.Seed
}

// NewShardedLRUBlockCache divides capacity evenly across the shards.
func NewShardedLRUBlockCache(capacity int64) *ShardedLRUBlockCache {
	shardCapacity := max(capacity/numShards, 1)
	s := &ShardedLRUBlockCache{seed: maphash.MakeSeed()}
	for i := range numShards {
		s.shards[i] = NewLRUBlockCache(shardCapacity)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(key CacheKey) *LRUBlockCache {
	var buf [17]byte
	buf[0] = byte(key.Kind)
	binary.LittleEndian.PutUint64(buf[1:], uint64(key.SegmentID))
	binary.LittleEndian.PutUint64(buf[9:], key.Offset)
	return s.shards[maphash.Bytes(s.seed, buf[:])%numShards]
}

func (s *ShardedLRUBlockCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

func (s *ShardedLRUBlockCache) Set(ctx context.Context, key CacheKey, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// InvalidateSegment visits every shard.
func (s *ShardedLRUBlockCache) InvalidateSegment(id model.SegmentID) {
	for _, sh := range s.shards {
		sh.InvalidateSegment(id)
	}
}

func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}
