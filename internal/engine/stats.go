package engine

import (
	"time"

	"github.com/hupe1980/textgo/model"
)

// SegmentStat describes one segment of a snapshot.
type SegmentStat struct {
	ID      model.SegmentID
	Docs    uint32
	Deleted int
	Bytes   int64
	Level   int
	Sealed  bool
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Version       model.Version
	SegmentCount  int
	LiveDocs      int64
	DeletedDocs   int64
	Segments      []SegmentStat
	BufferDocs    uint32
	BufferBytes   int64
	WALBytes      int64
	MemoryUsed    int64
	MemoryLimit   int64
	LiveSnapshots int
	LiveReaders   int64
	CacheHits     int64
	CacheMisses   int64
	BlockHits     int64
	BlockMisses   int64
	LastFlush     time.Time
	LastCommit    time.Time
}

// Stats returns the current engine statistics.
func (e *Engine) Stats() (Stats, error) {
	snap, err := e.BeginSnapshot()
	if err != nil {
		return Stats{}, err
	}
	defer snap.DecRef()

	st := Stats{
		Version:       snap.version,
		LiveDocs:      snap.totals.Docs,
		Segments:      make([]SegmentStat, 0, len(snap.segments)),
		BufferDocs:    snap.watermark,
		BufferBytes:   snap.active.mt.Bytes(),
		MemoryUsed:    e.rc.MemoryUsage(),
		MemoryLimit:   e.rc.MemoryLimit(),
		LiveSnapshots: len(e.mvcc.liveSnapshots()),
		LiveReaders:   e.readers.Live(),
		LastFlush:     unixNano(e.lastFlush.Load()),
		LastCommit:    unixNano(e.lastCommit.Load()),
	}
	for _, seg := range snap.segments {
		deleted := seg.tomb.Count(snap.version)
		st.Segments = append(st.Segments, SegmentStat{
			ID:      seg.ID(),
			Docs:    seg.src.Len(),
			Deleted: deleted,
			Bytes:   seg.src.Size(),
			Level:   seg.level,
			Sealed:  seg.Sealed(),
		})
		st.DeletedDocs += int64(deleted)
	}
	st.SegmentCount = len(st.Segments)
	st.DeletedDocs += int64(snap.active.tomb.Count(snap.version))

	if e.wal != nil {
		st.WALBytes = e.wal.Size()
	}
	if e.results != nil {
		st.CacheHits, st.CacheMisses = e.results.Stats()
	}
	if e.blockCache != nil {
		st.BlockHits, st.BlockMisses = e.blockCache.Stats()
	}
	return st, nil
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
