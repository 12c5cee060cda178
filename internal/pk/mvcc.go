package pk

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/textgo/model"
)

const (
	shardBits  = 6
	shardCount = 1 << shardBits
	shardMask  = shardCount - 1
)

// Index is a concurrent, sharded, MVCC primary key index.
type Index struct {
	shards [shardCount]shard
	count  atomic.Int64
}

type shard struct {
	mu      sync.RWMutex
	entries map[model.DocID]*entry
}

type entry struct {
	head *version
	// lastCommit is the version of the last user-visible change. Relocations
	// by merges do not move it.
	lastCommit model.Version
}

type version struct {
	v        model.Version
	location model.Location
	deleted  bool
	next     *version
}

// New creates an empty Index.
func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i].entries = make(map[model.DocID]*entry)
	}
	return idx
}

func (idx *Index) shard(id model.DocID) *shard {
	// Fibonacci hashing spreads sequential IDs across shards.
	h := uint64(id) * 0x9E3779B97F4A7C15
	return &idx.shards[(h>>(64-shardBits))&shardMask]
}

// visible returns the newest version at or below at.
func (e *entry) visible(at model.Version) *version {
	for cur := e.head; cur != nil; cur = cur.next {
		if cur.v <= at {
			return cur
		}
	}
	return nil
}

// Get returns the location of id visible at version at.
func (idx *Index) Get(id model.DocID, at model.Version) (model.Location, bool) {
	s := idx.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return model.Location{}, false
	}
	v := e.visible(at)
	if v == nil || v.deleted {
		return model.Location{}, false
	}
	return v.location, true
}

// Latest returns the newest location of id.
func (idx *Index) Latest(id model.DocID) (model.Location, bool) {
	s := idx.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.head.deleted {
		return model.Location{}, false
	}
	return e.head.location, true
}

// LastCommit returns the version of the last insert or delete of id, or 0.
func (idx *Index) LastCommit(id model.DocID) model.Version {
	s := idx.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[id]; ok {
		return e.lastCommit
	}
	return 0
}

// Upsert records loc as the location of id from version v on. It returns the
// previous live location, if any.
func (idx *Index) Upsert(id model.DocID, loc model.Location, v model.Version) (model.Location, bool) {
	return idx.push(id, &version{v: v, location: loc}, true)
}

// Delete records that id is gone from version v on. It returns the location
// that was live before, if any. Deleting an absent id still records the
// commit, so concurrent writers of that id conflict.
func (idx *Index) Delete(id model.DocID, v model.Version) (model.Location, bool) {
	return idx.push(id, &version{v: v, deleted: true}, true)
}

func (idx *Index) push(id model.DocID, nv *version, commit bool) (model.Location, bool) {
	s := idx.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	var (
		prev    model.Location
		existed bool
	)
	if h := e.head; h != nil && !h.deleted {
		prev, existed = h.location, true
	}

	switch {
	case e.head == nil || e.head.v < nv.v:
		nv.next = e.head
		e.head = nv
	case e.head.v == nv.v:
		// Several ops of one commit land on the same version; the last wins.
		nv.next = e.head.next
		e.head = nv
	default:
		insertOrdered(e.head, nv)
	}
	if commit && nv.v > e.lastCommit {
		e.lastCommit = nv.v
	}

	switch {
	case existed && nv.deleted:
		idx.count.Add(-1)
	case !existed && !nv.deleted:
		idx.count.Add(1)
	}
	return prev, existed
}

// insertOrdered places nv behind head, keeping the chain newest first.
func insertOrdered(head, nv *version) {
	cur := head
	for cur.next != nil && cur.next.v > nv.v {
		cur = cur.next
	}
	if cur.next != nil && cur.next.v == nv.v {
		nv.next = cur.next.next
	} else {
		nv.next = cur.next
	}
	cur.next = nv
}

// Relocate moves id from one location to another at version v, but only if
// id currently lives at from. It reports whether the entry moved. Older
// versions keep pointing at from for snapshots that still hold it.
func (idx *Index) Relocate(id model.DocID, from, to model.Location, v model.Version) bool {
	s := idx.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.head.deleted || e.head.location != from || e.head.v > v {
		return false
	}
	nv := &version{v: v, location: to}
	if e.head.v == v {
		nv.next = e.head.next
	} else {
		nv.next = e.head
	}
	e.head = nv
	return true
}

// Prune drops history no snapshot at or after minVersion can observe.
// Entries whose only remaining state is a tombstone are removed.
func (idx *Index) Prune(minVersion model.Version) int {
	removed := 0
	for i := range idx.shards {
		s := &idx.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			keep := e.visible(minVersion)
			if keep == nil {
				continue
			}
			keep.next = nil
			if keep == e.head && keep.deleted {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Count returns the number of live keys at the newest version.
func (idx *Index) Count() int {
	return int(idx.count.Load())
}

// Scan returns an iterator over all keys visible at version at, in no
// particular order. The iterator must not call back into the Index.
func (idx *Index) Scan(at model.Version) iter.Seq2[model.DocID, model.Location] {
	return func(yield func(model.DocID, model.Location) bool) {
		for i := range idx.shards {
			s := &idx.shards[i]
			s.mu.RLock()
			for id, e := range s.entries {
				v := e.visible(at)
				if v == nil || v.deleted {
					continue
				}
				if !yield(id, v.location) {
					s.mu.RUnlock()
					return
				}
			}
			s.mu.RUnlock()
		}
	}
}
