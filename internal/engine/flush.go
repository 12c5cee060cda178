package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/textgo/internal/manifest"
	"github.com/hupe1980/textgo/internal/memtable"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/model"
)

// pendingFlush is a frozen buffer waiting to be sealed, with the last WAL
// sequence number it covers.
type pendingFlush struct {
	handle  *RefCountedSegment
	lastSeq uint64
}

// Flush commits pending implicit writes and seals the active buffer.
//
// It runs in three phases:
//  1. Under the commit lock: freeze the buffer, install a fresh one, rotate
//     the WAL and publish.
//  2. Without locks: write and open the segment.
//  3. Under the commit lock: swap the sealed segment in and publish. Then
//     persist tombstones, save the manifest and truncate the WAL.
//
// Buffers whose sealing failed stay pending and are retried, in order, by
// the next Flush.
func (e *Engine) Flush() error {
	return e.flush(e.ctx)
}

func (e *Engine) flush(ctx context.Context) (err error) {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	start := time.Now()
	var (
		docs  int
		bytes int64
	)
	defer func() {
		if docs > 0 || err != nil {
			e.metrics.OnFlush(time.Since(start), docs, bytes, err)
		}
	}()

	lastSeq, rotated, err := e.rotate()
	if err != nil {
		return err
	}

	for len(e.pending) > 0 {
		p := e.pending[0]
		n, size, err := e.seal(ctx, p)
		if err != nil {
			e.logger.Error("Flush failed", "segmentID", p.handle.ID(), "error", err)
			return err
		}
		docs += n
		bytes += size
		e.pending = e.pending[1:]
	}

	if !rotated && e.wal == nil {
		return nil
	}
	// Deletes against sealed segments are only in the WAL until their
	// tombstones are persisted.
	e.manifestMu.Lock()
	defer e.manifestMu.Unlock()
	if err := e.checkpointLocked(ctx, lastSeq); err != nil {
		return err
	}
	e.lastFlush.Store(time.Now().UnixNano())
	e.signalCompaction()
	return nil
}

// rotate is phase 1. It reports whether a buffer was frozen.
func (e *Engine) rotate() (lastSeq uint64, rotated bool, err error) {
	e.implicitMu.Lock()
	defer e.implicitMu.Unlock()
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if err := e.commitImplicitLocked(); err != nil {
		return 0, false, err
	}
	if e.wal != nil {
		if lastSeq, err = e.wal.Rotate(); err != nil {
			return 0, false, ioError("wal rotate", err)
		}
	}

	cur := e.mvcc.current.Load()
	if cur.active.src.Len() == 0 {
		return lastSeq, false, nil
	}

	frozen := cur.active
	frozen.mt.Freeze()
	next := newBufferHandle(memtable.New(e.allocSegmentID()))

	segments := append(slices.Clone(cur.segments), frozen)
	sortSegments(segments)
	e.publishLocked(cur.derive(cur.version+1, segments, next, nil))

	e.pending = append(e.pending, &pendingFlush{handle: frozen, lastSeq: lastSeq})
	e.logger.Info("Flush started", "segmentID", frozen.ID(), "docs", frozen.src.Len(), "bytes", frozen.mt.Bytes())
	return lastSeq, true, nil
}

// seal runs phases 2 and 3 for one frozen buffer.
func (e *Engine) seal(ctx context.Context, p *pendingFlush) (int, int64, error) {
	h := p.handle
	info, err := segment.Write(ctx, e.fs, e.dir, h.ID(), h.src, segment.WriteOptions{
		Codec:      e.codec,
		Controller: e.rc,
	})
	if err != nil {
		return 0, 0, ioError("write segment", err)
	}
	seg, err := e.openSegment(h.ID())
	if err != nil {
		_ = segment.Remove(e.fs, e.dir, h.ID())
		return 0, 0, err
	}
	e.metrics.OnThroughput("flush_write", info.Size)

	e.manifestMu.Lock()
	defer e.manifestMu.Unlock()

	e.commitMu.Lock()
	cur := e.mvcc.current.Load()
	sealed := newSealedHandle(seg, h.tomb, 0)
	segments := slices.Clone(cur.segments)
	for i, s := range segments {
		if s == h {
			segments[i] = sealed
		}
	}
	e.publishLocked(cur.derive(cur.version+1, segments, nil, nil))
	e.commitMu.Unlock()

	e.rc.ReleaseMemory(h.reserved.Swap(0))
	e.metrics.OnMemoryStatus(e.rc.MemoryUsage(), e.rc.MemoryLimit())

	if err := e.checkpointLocked(ctx, p.lastSeq); err != nil {
		return 0, 0, err
	}
	e.logger.Info("Flush completed", "segmentID", h.ID(), "docs", info.DocCount, "bytes", info.Size)
	return int(info.DocCount), info.Size, nil
}

func (e *Engine) openSegment(id model.SegmentID) (*segment.Segment, error) {
	seg, err := segment.Open(e.fs, e.dir, id,
		segment.WithBlockCache(e.blockCache),
		segment.WithVerifyChecksum(e.verifyChecksums),
	)
	if err != nil {
		return nil, segmentError(fmt.Sprintf("open segment %d", id), err)
	}
	return seg, nil
}

func (e *Engine) allocSegmentID() model.SegmentID {
	return model.SegmentID(e.nextSegmentID.Add(1) - 1)
}

// checkpointLocked persists dirty tombstone sidecars and saves a manifest
// describing the current sealed segment set. A non-zero lastSeq advances the
// flushed WAL position and truncates the covered generations. The caller
// holds manifestMu.
func (e *Engine) checkpointLocked(ctx context.Context, lastSeq uint64) error {
	snap, err := e.mvcc.acquire()
	if err != nil {
		return err
	}
	defer snap.DecRef()

	m := e.manifest.Clone()
	m.Segments = m.Segments[:0]
	for _, seg := range snap.segments {
		if !seg.Sealed() {
			continue
		}
		if err := e.persistTombstones(ctx, seg); err != nil {
			return err
		}
		m.Segments = append(m.Segments, manifest.SegmentInfo{
			ID:       seg.ID(),
			Level:    seg.level,
			DocCount: seg.src.Len(),
			Size:     seg.src.Size(),
			Path:     segment.DirName(seg.ID()),
		})
	}
	m.IndexVersion = snap.version
	m.NextSegmentID = model.SegmentID(e.nextSegmentID.Load())
	m.NextTxID = e.nextTxID.Load()
	if lastSeq > m.LastFlushedSeq {
		m.LastFlushedSeq = lastSeq
	}

	if err := e.manifests.Save(ctx, m); err != nil {
		return ioError("save manifest", err)
	}
	e.manifest = m
	if err := e.manifests.Prune(ctx, manifestsKept); err != nil {
		e.logger.Warn("Failed to prune manifests", "error", err)
	}

	if e.wal != nil && lastSeq > 0 {
		if err := e.wal.Truncate(lastSeq + 1); err != nil {
			return ioError("wal truncate", err)
		}
	}
	e.pk.Prune(e.mvcc.minVersion())
	return nil
}

// persistTombstones writes the roaring sidecar of seg if it changed.
func (e *Engine) persistTombstones(ctx context.Context, seg *RefCountedSegment) error {
	if !seg.tomb.Dirty() {
		return nil
	}
	n := seg.tomb.Len()
	bm := seg.tomb.ToBitmap(model.Version(1<<64 - 1))
	bm.RunOptimize()
	data, err := bm.ToBytes()
	if err != nil {
		return fmt.Errorf("encode tombstones of segment %d: %w", seg.ID(), err)
	}
	if err := e.store.Put(ctx, segment.TombstoneFileName(seg.ID()), data); err != nil {
		return ioError("write tombstones", err)
	}
	seg.tomb.MarkPersisted(n)
	return nil
}
