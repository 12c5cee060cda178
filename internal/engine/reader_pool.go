package engine

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/model"
)

// Reader is a reference-counted view over one snapshot. It caches decoded
// posting lists of sealed segments so concurrent queries at the same
// version share the work.
type Reader struct {
	pool  *ReaderPool
	snap  *Snapshot
	refs  atomic.Int64
	stale atomic.Bool

	postings sync.Map // postingsKey -> *segment.PostingList
}

type postingsKey struct {
	seg model.SegmentID
	key string
}

func newReader(pool *ReaderPool, snap *Snapshot) *Reader {
	r := &Reader{pool: pool, snap: snap}
	r.refs.Store(1)
	if pool != nil {
		pool.live.Add(1)
	}
	return r
}

// Snapshot returns the pinned snapshot.
func (r *Reader) Snapshot() *Snapshot { return r.snap }

// Version returns the pinned version.
func (r *Reader) Version() model.Version { return r.snap.version }

// Stale reports whether a newer version was published since r was pooled.
func (r *Reader) Stale() bool { return r.stale.Load() }

func (r *Reader) tryIncRef() bool {
	for {
		refs := r.refs.Load()
		if refs <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release returns the reader. The last release unpins the snapshot.
func (r *Reader) Release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	r.snap.DecRef()
	if r.pool != nil {
		r.pool.live.Add(-1)
	}
}

// Postings returns the posting list of key in seg. Sealed lists are decoded
// once per reader.
func (r *Reader) Postings(seg *RefCountedSegment, key string) (*segment.PostingList, error) {
	if !seg.Sealed() {
		return seg.src.Postings(key, false)
	}
	k := postingsKey{seg: seg.ID(), key: key}
	if v, ok := r.postings.Load(k); ok {
		return v.(*segment.PostingList), nil
	}
	pl, err := seg.src.Postings(key, false)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		pl = &segment.PostingList{}
	}
	v, _ := r.postings.LoadOrStore(k, pl)
	return v.(*segment.PostingList), nil
}

// ReaderPool hands out the pooled Reader for the current version. The only
// coordination with writers is an atomic pointer swap on publish.
type ReaderPool struct {
	mvcc *mvccController
	cur  atomic.Pointer[Reader]
	live atomic.Int64
}

func newReaderPool(m *mvccController) *ReaderPool {
	return &ReaderPool{mvcc: m}
}

// Acquire returns a reader pinned to the current version, reusing the
// pooled one when it is still current.
func (p *ReaderPool) Acquire() (*Reader, error) {
	for {
		r := p.cur.Load()
		if r != nil && !r.stale.Load() && r.tryIncRef() {
			if !r.stale.Load() {
				return r, nil
			}
			r.Release()
			continue
		}

		snap, err := p.mvcc.acquire()
		if err != nil {
			return nil, err
		}
		nr := newReader(p, snap)
		nr.refs.Add(1) // pool reference
		if p.cur.CompareAndSwap(r, nr) {
			if r != nil {
				r.stale.Store(true)
				r.Release()
			}
			// A publish may have raced the install; never pool an old version.
			if p.mvcc.current.Load() != snap && p.cur.CompareAndSwap(nr, nil) {
				nr.stale.Store(true)
				nr.Release()
			}
			return nr, nil
		}
		nr.refs.Add(-1)
		nr.Release()
	}
}

// Release returns r to the pool.
func (p *ReaderPool) Release(r *Reader) { r.Release() }

// invalidate marks the pooled reader stale after a publish. Readers in use
// keep serving their version.
func (p *ReaderPool) invalidate() {
	if r := p.cur.Swap(nil); r != nil {
		r.stale.Store(true)
		r.Release()
	}
}

// Live returns the number of readers still referenced.
func (p *ReaderPool) Live() int64 { return p.live.Load() }
