package engine

import (
	"cmp"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/textgo/internal/memtable"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/model"
)

// RefCountedSegment wraps a Source (write buffer or sealed segment) with a
// reference count and its tombstones.
//
// A buffer and the sealed segment it becomes share the same ID and the same
// tombstones, because flushing preserves ordinals.
type RefCountedSegment struct {
	src    segment.Source
	mt     *memtable.MemTable // set while the source is a buffer
	sealed *segment.Segment   // set once written to disk
	tomb   *VersionedTombstones
	level  int

	// reserved is the write-buffer memory charged to this buffer.
	reserved atomic.Int64

	refs    atomic.Int64
	retired atomic.Bool
	onClose atomic.Value // stores func()
}

func newBufferHandle(mt *memtable.MemTable) *RefCountedSegment {
	return &RefCountedSegment{src: mt, mt: mt, tomb: NewVersionedTombstones(0)}
}

func newSealedHandle(seg *segment.Segment, tomb *VersionedTombstones, level int) *RefCountedSegment {
	if tomb == nil {
		tomb = NewVersionedTombstones(int(seg.Len()))
	}
	return &RefCountedSegment{src: seg, sealed: seg, tomb: tomb, level: level}
}

// ID returns the segment ID.
func (r *RefCountedSegment) ID() model.SegmentID { return r.src.ID() }

// Source returns the underlying data.
func (r *RefCountedSegment) Source() segment.Source { return r.src }

// Sealed reports whether the segment is on disk.
func (r *RefCountedSegment) Sealed() bool { return r.sealed != nil }

// Tombstones returns the deletion set.
func (r *RefCountedSegment) Tombstones() *VersionedTombstones { return r.tomb }

func (r *RefCountedSegment) IncRef() { r.refs.Add(1) }

// DecRef drops a reference. Handles start without references; every
// snapshot holding one takes a reference. The last reference closes the
// segment and runs the close callback, which deletes the files of retired
// segments.
func (r *RefCountedSegment) DecRef() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if r.sealed != nil {
		_ = r.sealed.Close()
	}
	if f, _ := r.onClose.Load().(func()); f != nil {
		f()
	}
}

// SetOnClose sets a callback executed when the last reference is dropped.
func (r *RefCountedSegment) SetOnClose(f func()) { r.onClose.Store(f) }

// FieldTotals is the corpus-wide statistic of one field.
type FieldTotals struct {
	Docs        int64
	TotalLength int64
}

// CorpusTotals are the live-document statistics BM25 needs. A value is
// immutable once attached to a snapshot.
type CorpusTotals struct {
	Docs   int64
	Fields map[string]FieldTotals
}

func (c *CorpusTotals) clone() *CorpusTotals {
	return &CorpusTotals{Docs: c.Docs, Fields: maps.Clone(c.Fields)}
}

func (c *CorpusTotals) add(lengths map[string]uint32, sign int64) {
	c.Docs += sign
	for f, l := range lengths {
		if l == 0 {
			continue
		}
		ft := c.Fields[f]
		ft.Docs += sign
		ft.TotalLength += sign * int64(l)
		if ft.Docs <= 0 {
			delete(c.Fields, f)
			continue
		}
		c.Fields[f] = ft
	}
}

// AvgLength returns the mean indexed length of field over live documents.
func (c *CorpusTotals) AvgLength(field string) float64 {
	ft := c.Fields[field]
	if ft.Docs == 0 {
		return 0
	}
	return float64(ft.TotalLength) / float64(ft.Docs)
}

// Snapshot represents a consistent view of the database at one version.
// It is immutable; all fields are read-only after publication.
type Snapshot struct {
	refs      atomic.Int64
	version   model.Version
	segments  []*RefCountedSegment // sealed and frozen, ascending ID
	byID      map[model.SegmentID]*RefCountedSegment
	active    *RefCountedSegment
	watermark uint32
	totals    *CorpusTotals

	onRelease func(*Snapshot)
}

// newSnapshot takes a reference on every segment and on active.
func newSnapshot(v model.Version, segments []*RefCountedSegment, active *RefCountedSegment, totals *CorpusTotals) *Snapshot {
	s := &Snapshot{
		version:  v,
		segments: segments,
		byID:     make(map[model.SegmentID]*RefCountedSegment, len(segments)+1),
		active:   active,
		totals:   totals,
	}
	s.refs.Store(1)
	for _, seg := range segments {
		seg.IncRef()
		s.byID[seg.ID()] = seg
	}
	if active != nil {
		active.IncRef()
		s.byID[active.ID()] = active
		s.watermark = active.src.Len()
	}
	return s
}

// derive returns a snapshot at version v sharing state with s. Nil
// arguments reuse s's values.
func (s *Snapshot) derive(v model.Version, segments []*RefCountedSegment, active *RefCountedSegment, totals *CorpusTotals) *Snapshot {
	if segments == nil {
		segments = s.segments
	}
	if active == nil {
		active = s.active
	}
	if totals == nil {
		totals = s.totals
	}
	return newSnapshot(v, segments, active, totals)
}

// Version returns the snapshot version.
func (s *Snapshot) Version() model.Version { return s.version }

// Totals returns the corpus statistics at this version.
func (s *Snapshot) Totals() *CorpusTotals { return s.totals }

// Segments returns the non-active segments in ascending ID order.
func (s *Snapshot) Segments() []*RefCountedSegment { return s.segments }

// sources returns every segment including the active buffer.
func (s *Snapshot) sources() []*RefCountedSegment {
	out := make([]*RefCountedSegment, 0, len(s.segments)+1)
	out = append(out, s.segments...)
	return append(out, s.active)
}

// limit returns the number of ordinals of seg visible in this snapshot.
func (s *Snapshot) limit(seg *RefCountedSegment) uint32 {
	if seg == s.active {
		return s.watermark
	}
	return seg.src.Len()
}

// visible reports whether ord of seg is a live document at this version.
func (s *Snapshot) visible(seg *RefCountedSegment, ord uint32) bool {
	return ord < s.limit(seg) && !seg.tomb.IsDeleted(ord, s.version)
}

func (s *Snapshot) IncRef() { s.refs.Add(1) }

// TryIncRef attempts to increment the reference count.
// Returns true if successful, false if the snapshot is already destroyed (refs == 0).
func (s *Snapshot) TryIncRef() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference. The last one releases every segment.
func (s *Snapshot) DecRef() {
	if s.refs.Add(-1) != 0 {
		return
	}
	if s.onRelease != nil {
		s.onRelease(s)
	}
	for _, seg := range s.segments {
		seg.DecRef()
	}
	if s.active != nil {
		s.active.DecRef()
	}
}

func sortSegments(segs []*RefCountedSegment) {
	slices.SortFunc(segs, func(a, b *RefCountedSegment) int {
		return cmp.Compare(a.ID(), b.ID())
	})
}
