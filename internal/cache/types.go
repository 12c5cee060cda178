package cache

import (
	"context"

	"github.com/hupe1980/textgo/model"
)

// CacheKind separates key spaces.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	CacheKindPostings
	CacheKindStored
)

// CacheKey identifies an immutable block of a sealed segment.
type CacheKey struct {
	Kind      CacheKind
	SegmentID model.SegmentID
	// Offset is the block's byte offset within its file.
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	Set(ctx context.Context, key CacheKey, b []byte)
	// InvalidateSegment drops every block of a segment.
	InvalidateSegment(id model.SegmentID)
	Stats() (hits, misses int64)
	Size() int64
}
