package engine

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/textgo/model"
)

const (
	chunkBits = 12             // 4096 ordinals per chunk
	chunkSize = 1 << chunkBits // 4096
	chunkMask = chunkSize - 1
)

// tombstoneChunk holds a page of deletion versions. Zero means live.
type tombstoneChunk struct {
	versions [chunkSize]model.Version
}

// tombstoneState holds the directory of chunks for VersionedTombstones.
// The directory itself is immutable once created; chunks are copy-on-write.
type tombstoneState struct {
	chunks     []*tombstoneChunk
	count      int
	minVersion model.Version
}

// VersionedTombstones records, per ordinal, the version at which it was
// deleted. A delete is visible to snapshots at or after that version.
//
// Reads are wait-free via an atomic state pointer. Writes come from the
// commit path and are serialized by mu; each write copies only the touched
// chunk and the directory.
type VersionedTombstones struct {
	state atomic.Pointer[tombstoneState]
	mu    sync.Mutex
	// persisted is the count last written to the sidecar.
	persisted atomic.Int64
}

// NewVersionedTombstones returns an empty tombstone set sized for n ordinals.
func NewVersionedTombstones(n int) *VersionedTombstones {
	vt := &VersionedTombstones{}
	vt.state.Store(&tombstoneState{
		chunks: make([]*tombstoneChunk, (n+chunkSize-1)/chunkSize),
	})
	return vt
}

func (st *tombstoneState) get(ord uint32) model.Version {
	ci := int(ord >> chunkBits)
	if ci >= len(st.chunks) || st.chunks[ci] == nil {
		return 0
	}
	return st.chunks[ci].versions[ord&chunkMask]
}

// MarkDeleted marks ord deleted at version v. An earlier deletion wins.
// It reports whether the set changed.
func (vt *VersionedTombstones) MarkDeleted(ord uint32, v model.Version) bool {
	if cur := vt.state.Load().get(ord); cur != 0 && cur <= v {
		return false
	}

	vt.mu.Lock()
	defer vt.mu.Unlock()

	curr := vt.state.Load()
	prev := curr.get(ord)
	if prev != 0 && prev <= v {
		return false
	}

	ci := int(ord >> chunkBits)
	n := len(curr.chunks)
	if ci >= n {
		n = max(ci+1, 2*len(curr.chunks))
	}
	chunks := make([]*tombstoneChunk, n)
	copy(chunks, curr.chunks)

	var c *tombstoneChunk
	if chunks[ci] != nil {
		copied := *chunks[ci]
		c = &copied
	} else {
		c = &tombstoneChunk{}
	}
	c.versions[ord&chunkMask] = v
	chunks[ci] = c

	next := &tombstoneState{chunks: chunks, count: curr.count, minVersion: curr.minVersion}
	if prev == 0 {
		next.count++
	}
	if next.minVersion == 0 || v < next.minVersion {
		next.minVersion = v
	}
	vt.state.Store(next)
	return true
}

// IsDeleted reports whether ord is deleted at version v. It is wait-free.
func (vt *VersionedTombstones) IsDeleted(ord uint32, v model.Version) bool {
	dv := vt.state.Load().get(ord)
	return dv != 0 && dv <= v
}

// DeletedAt returns the deletion version of ord, or 0 if it is live.
func (vt *VersionedTombstones) DeletedAt(ord uint32) model.Version {
	return vt.state.Load().get(ord)
}

// Count returns the number of ordinals deleted at version v.
func (vt *VersionedTombstones) Count(v model.Version) int {
	st := vt.state.Load()
	if st.count == 0 || st.minVersion > v {
		return 0
	}
	n := 0
	vt.forEach(st, func(_ uint32, dv model.Version) {
		if dv <= v {
			n++
		}
	})
	return n
}

// Len returns the number of deleted ordinals at any version.
func (vt *VersionedTombstones) Len() int { return vt.state.Load().count }

// ForEach calls fn for every deleted ordinal in ascending order.
func (vt *VersionedTombstones) ForEach(fn func(ord uint32, v model.Version)) {
	vt.forEach(vt.state.Load(), fn)
}

func (vt *VersionedTombstones) forEach(st *tombstoneState, fn func(uint32, model.Version)) {
	for i, c := range st.chunks {
		if c == nil {
			continue
		}
		base := uint32(i) << chunkBits
		for j, dv := range c.versions {
			if dv != 0 {
				fn(base+uint32(j), dv)
			}
		}
	}
}

// ToBitmap returns the ordinals deleted at version v.
func (vt *VersionedTombstones) ToBitmap(v model.Version) *roaring.Bitmap {
	bm := roaring.New()
	st := vt.state.Load()
	if st.count == 0 || st.minVersion > v {
		return bm
	}
	vt.forEach(st, func(ord uint32, dv model.Version) {
		if dv <= v {
			bm.Add(ord)
		}
	})
	return bm
}

// LoadFromBitmap marks every ordinal in bm deleted at version v.
// This is a bulk operation used during recovery; not a hot path.
func (vt *VersionedTombstones) LoadFromBitmap(bm *roaring.Bitmap, v model.Version) {
	if bm == nil || bm.IsEmpty() {
		return
	}
	it := bm.Iterator()
	for it.HasNext() {
		vt.MarkDeleted(it.Next(), v)
	}
	vt.persisted.Store(int64(vt.Len()))
}

// Dirty reports whether deletions were added since the last MarkPersisted.
func (vt *VersionedTombstones) Dirty() bool {
	return int64(vt.Len()) != vt.persisted.Load()
}

// MarkPersisted records that n deletions are on disk.
func (vt *VersionedTombstones) MarkPersisted(n int) { vt.persisted.Store(int64(n)) }

// TombstoneFilter is an immutable view of VersionedTombstones at one version.
type TombstoneFilter struct {
	state   *tombstoneState
	version model.Version
}

// NewTombstoneFilter captures the current tombstone state for version v.
func NewTombstoneFilter(vt *VersionedTombstones, v model.Version) TombstoneFilter {
	st := vt.state.Load()
	if st.count == 0 || st.minVersion > v {
		st = nil
	}
	return TombstoneFilter{state: st, version: v}
}

// Live reports whether ord is not deleted at the filter's version.
func (tf TombstoneFilter) Live(ord uint32) bool {
	if tf.state == nil {
		return true
	}
	dv := tf.state.get(ord)
	return dv == 0 || dv > tf.version
}

// Empty reports whether no ordinal is deleted at the filter's version.
func (tf TombstoneFilter) Empty() bool { return tf.state == nil }
