package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/internal/encoding"
	"github.com/hupe1980/textgo/internal/manifest"
	"github.com/hupe1980/textgo/internal/memtable"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/internal/wal"
	"github.com/hupe1980/textgo/model"
)

// recover rebuilds the in-memory state from the manifest, the segments and
// the WAL:
//  1. Load the manifest (or start a new one).
//  2. Remove segment dirs and sidecars the manifest does not reference.
//  3. Open the segments. A corrupt segment fails Open.
//  4. Load the tombstone sidecars.
//  5. Rebuild the primary key index and the corpus totals.
//  6. Replay committed WAL transactions newer than the last flush.
func (e *Engine) recover(ctx context.Context) error {
	m, err := e.manifests.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = manifest.New()
		e.logger.Info("Creating new index", "dir", e.dir)
	case err != nil:
		return fmt.Errorf("%w: load manifest: %w", ErrCorrupt, err)
	}
	e.manifest = m
	e.nextSegmentID.Store(uint64(m.NextSegmentID))
	e.nextTxID.Store(max(m.NextTxID, 1))

	if err := e.removeOrphans(m); err != nil {
		return err
	}

	base := max(m.IndexVersion, 1)
	segments, err := e.openSegments(ctx, m, base)
	if err != nil {
		return err
	}

	totals := &CorpusTotals{Fields: make(map[string]FieldTotals)}
	e.indexSegments(segments, base, totals)

	active := newBufferHandle(memtable.New(e.allocSegmentID()))
	e.mvcc.publish(newSnapshot(base, segments, active, totals))

	if e.walEnabled {
		w, err := wal.Open(e.fs, e.dir, wal.Options{
			Durability: e.durability,
			MinSeq:     m.LastFlushedSeq,
			Logger:     e.logger,
		})
		if err != nil {
			return ioError("open wal", err)
		}
		e.wal = w
		if err := e.replay(m.LastFlushedSeq); err != nil {
			return err
		}
	}

	snap := e.mvcc.current.Load()
	e.logger.Info("Index opened",
		"dir", e.dir,
		"manifest", m.ID,
		"segments", len(segments),
		"docs", snap.totals.Docs,
		"version", snap.version,
	)
	return nil
}

// removeOrphans deletes segment directories and sidecars left behind by an
// interrupted flush or merge, and temporary directories.
func (e *Engine) removeOrphans(m *manifest.Manifest) error {
	known := make(map[model.SegmentID]struct{}, len(m.Segments))
	for _, s := range m.Segments {
		known[s.ID] = struct{}{}
	}
	entries, err := e.fs.ReadDir(e.dir)
	if err != nil {
		return ioError("list data directory", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if id, tmp, ok := segment.ParseDirName(name); ok {
			if _, keep := known[id]; keep && !tmp {
				continue
			}
			e.logger.Info("Removing orphan segment", "name", name)
			if err := e.fs.RemoveAll(filepath.Join(e.dir, name)); err != nil {
				return ioError("remove orphan segment", err)
			}
			continue
		}
		if id, ok := segment.ParseTombstoneFileName(name); ok {
			if _, keep := known[id]; keep {
				continue
			}
			if err := e.fs.Remove(filepath.Join(e.dir, name)); err != nil {
				return ioError("remove orphan tombstones", err)
			}
		}
	}
	return nil
}

func (e *Engine) openSegments(ctx context.Context, m *manifest.Manifest, base model.Version) ([]*RefCountedSegment, error) {
	out := make([]*RefCountedSegment, 0, len(m.Segments))
	fail := func(err error) ([]*RefCountedSegment, error) {
		for _, h := range out {
			_ = h.sealed.Close()
		}
		return nil, err
	}
	for _, info := range m.Segments {
		seg, err := e.openSegment(info.ID)
		if err != nil {
			if !errors.Is(err, ErrCorrupt) {
				err = fmt.Errorf("%w: segment %d: %w", ErrCorrupt, info.ID, err)
			}
			return fail(err)
		}
		h := newSealedHandle(seg, nil, info.Level)
		out = append(out, h)

		data, err := blobstore.ReadAll(ctx, e.store, segment.TombstoneFileName(info.ID))
		if errors.Is(err, blobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return fail(ioError("read tombstones", err))
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			return fail(fmt.Errorf("%w: tombstones of segment %d: %w", ErrCorrupt, info.ID, err))
		}
		h.tomb.LoadFromBitmap(bm, base)
	}
	sortSegments(out)
	return out, nil
}

// indexSegments registers the live documents in the primary key index and
// the totals. A DocID live in two segments keeps the copy in the newer one.
func (e *Engine) indexSegments(segments []*RefCountedSegment, v model.Version, totals *CorpusTotals) {
	byID := make(map[model.SegmentID]*RefCountedSegment, len(segments))
	for _, seg := range segments {
		byID[seg.ID()] = seg
	}
	for _, seg := range segments {
		n := seg.src.Len()
		for ord := uint32(0); ord < n; ord++ {
			if seg.tomb.IsDeleted(ord, v) {
				continue
			}
			id := seg.src.DocID(ord)
			loc := model.Location{SegmentID: seg.ID(), Ordinal: model.Ordinal(ord)}
			if prev, ok := e.pk.Latest(id); ok {
				e.logger.Warn("Duplicate live document, keeping newer copy", "doc", id, "old", prev.String(), "new", loc.String())
				if old := byID[prev.SegmentID]; old != nil && old.tomb.MarkDeleted(uint32(prev.Ordinal), v) {
					totals.add(fieldLengths(old.src, uint32(prev.Ordinal)), -1)
				}
			}
			e.pk.Upsert(id, loc, v)
			totals.add(fieldLengths(seg.src, ord), 1)
		}
	}
}

// replay applies every transaction committed after lastFlushed. Records of
// transactions without a Commit, or with an Abort, are dropped.
func (e *Engine) replay(lastFlushed uint64) error {
	type pendingTx struct {
		ops []txOp
	}
	var (
		open      = make(map[uint64]*pendingTx)
		committed [][]txOp
		maxTx     uint64
		records   int
	)
	err := e.wal.Replay(func(r *wal.Record) error {
		records++
		maxTx = max(maxTx, r.TxID)
		switch r.Kind {
		case wal.KindInsert, wal.KindDelete:
			tx := open[r.TxID]
			if tx == nil {
				tx = &pendingTx{}
				open[r.TxID] = tx
			}
			op, err := e.replayOp(r)
			if err != nil {
				return err
			}
			tx.ops = append(tx.ops, op)
		case wal.KindAbort:
			delete(open, r.TxID)
		case wal.KindCommit:
			tx := open[r.TxID]
			delete(open, r.TxID)
			if tx == nil || r.Seq <= lastFlushed {
				return nil
			}
			committed = append(committed, tx.ops)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: wal replay: %w", ErrCorrupt, err)
	}
	if next := maxTx + 1; next > e.nextTxID.Load() {
		e.nextTxID.Store(next)
	}

	// Memory is charged best effort: a forced flush here would truncate
	// records that are not applied yet.
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	var applied int
	for _, ops := range committed {
		var reserved int64
		for _, op := range ops {
			if op.kind == opInsert {
				reserved += op.prep.Size()
			}
		}
		if err := e.rc.AcquireMemory(reserved); err != nil {
			reserved = 0
		}
		if err := e.applyAndPublishLocked(ops, reserved); err != nil {
			return err
		}
		applied += len(ops)
	}
	if len(open) > 0 {
		e.logger.Info("Dropped uncommitted transactions", "count", len(open))
	}
	if applied > 0 {
		e.logger.Info("WAL replayed", "records", records, "transactions", len(committed), "ops", applied)
		if cur := e.mvcc.current.Load(); e.memtableFlushBytes > 0 && cur.active.mt.Bytes() >= e.memtableFlushBytes {
			e.signalFlush()
		}
	}
	return nil
}

func (e *Engine) replayOp(r *wal.Record) (txOp, error) {
	if r.Kind == wal.KindDelete {
		id, ok := r.DocID()
		if !ok {
			return txOp{}, fmt.Errorf("delete record %d has no document id", r.Seq)
		}
		return txOp{kind: opDelete, id: model.DocID(id)}, nil
	}
	doc, err := encoding.DecodeDocument(r.Payload)
	if err != nil {
		return txOp{}, fmt.Errorf("insert record %d: %w", r.Seq, err)
	}
	return txOp{
		kind:    opInsert,
		id:      doc.ID,
		prep:    memtable.Prepare(doc, e.analyzer),
		payload: slices.Clone(r.Payload),
	}, nil
}
