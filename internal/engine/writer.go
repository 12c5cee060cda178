package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/textgo/internal/encoding"
	"github.com/hupe1980/textgo/internal/memtable"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/internal/wal"
	"github.com/hupe1980/textgo/model"
)

// Insert upserts doc through the implicit writer transaction. The record is
// durable when Insert returns; the document becomes visible on Commit or
// Flush.
func (e *Engine) Insert(doc *model.Document) (err error) {
	start := time.Now()
	defer func() { e.metrics.OnInsert(time.Since(start), err) }()

	if err := e.checkOpen(); err != nil {
		return err
	}
	op, err := e.prepareInsert(doc)
	if err != nil {
		return err
	}
	size := op.prep.Size()
	if err := e.reserve(size); err != nil {
		return err
	}
	if err := e.appendImplicit(op, size); err != nil {
		e.rc.ReleaseMemory(size)
		return err
	}
	return nil
}

// Delete removes id through the implicit writer transaction.
func (e *Engine) Delete(id model.DocID) (err error) {
	start := time.Now()
	defer func() { e.metrics.OnDelete(time.Since(start), err) }()

	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.appendImplicit(txOp{kind: opDelete, id: id}, 0)
}

// Commit makes every pending implicit write visible.
func (e *Engine) Commit() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.implicitMu.Lock()
	e.commitMu.Lock()
	err := e.commitImplicitLocked()
	e.commitMu.Unlock()
	e.implicitMu.Unlock()
	if err == nil {
		e.afterCommit()
	}
	return err
}

func (e *Engine) appendImplicit(op txOp, reserved int64) error {
	e.implicitMu.Lock()
	defer e.implicitMu.Unlock()

	if e.implicit == nil {
		e.implicit = e.newTx(ReadCommitted, nil, true)
	}
	tx := e.implicit
	if e.wal != nil {
		if _, err := e.wal.Append(op.record(tx.id)); err != nil {
			return ioError("wal append", err)
		}
	}
	tx.add(op)
	tx.reserved += reserved

	if cur := e.mvcc.current.Load(); cur != nil && e.memtableFlushBytes > 0 &&
		cur.active.mt.Bytes()+tx.reserved >= e.memtableFlushBytes {
		e.signalFlush()
	}
	return nil
}

// commitImplicitLocked commits the implicit transaction without conflict
// validation. The caller holds implicitMu and commitMu.
func (e *Engine) commitImplicitLocked() (err error) {
	tx := e.implicit
	if tx == nil || len(tx.ops) == 0 {
		return nil
	}
	e.implicit = nil

	start := time.Now()
	defer func() { e.metrics.OnCommit(time.Since(start), len(tx.ops), err) }()

	if e.wal != nil {
		if _, err := e.wal.Append(wal.CommitRecord(tx.id)); err != nil {
			e.rc.ReleaseMemory(tx.reserved)
			return ioError("wal commit", err)
		}
	}
	return e.applyAndPublishLocked(tx.ops, tx.reserved)
}

// applyAndPublishLocked applies ops at the next version and publishes it.
// reserved is the buffer memory the ops were charged, released when the
// buffer is sealed. The caller holds commitMu.
func (e *Engine) applyAndPublishLocked(ops []txOp, reserved int64) error {
	cur := e.mvcc.current.Load()
	v := cur.version + 1
	active := cur.active
	totals := cur.totals.clone()

	for _, op := range ops {
		e.tombstoneLatest(cur, op.id, v, totals)
		switch op.kind {
		case opInsert:
			ord, err := active.mt.Add(op.prep)
			if err != nil {
				return fmt.Errorf("apply insert %d: %w", op.id, err)
			}
			e.pk.Upsert(op.id, model.Location{SegmentID: active.ID(), Ordinal: model.Ordinal(ord)}, v)
			totals.add(op.prep.Lengths(), 1)
		case opDelete:
			e.pk.Delete(op.id, v)
		}
	}
	active.reserved.Add(reserved)

	e.publishLocked(cur.derive(v, nil, nil, totals))
	e.lastCommit.Store(time.Now().UnixNano())
	return nil
}

// tombstoneLatest marks the live copy of id deleted at v.
func (e *Engine) tombstoneLatest(cur *Snapshot, id model.DocID, v model.Version, totals *CorpusTotals) {
	loc, ok := e.pk.Latest(id)
	if !ok {
		return
	}
	seg := cur.byID[loc.SegmentID]
	if seg == nil {
		e.logger.Warn("Primary key points outside the current snapshot", "doc", id, "location", loc.String())
		return
	}
	ord := uint32(loc.Ordinal)
	if seg.tomb.MarkDeleted(ord, v) {
		totals.add(fieldLengths(seg.src, ord), -1)
	}
}

// fieldLengths returns the indexed length of every field of ord.
func fieldLengths(src segment.Source, ord uint32) map[string]uint32 {
	if mt, ok := src.(*memtable.MemTable); ok {
		return mt.FieldLengths(ord)
	}
	out := make(map[string]uint32)
	for _, f := range src.Fields() {
		if l := src.FieldLength(f, ord); l > 0 {
			out[f] = l
		}
	}
	return out
}

// publishLocked installs next. The caller holds commitMu.
func (e *Engine) publishLocked(next *Snapshot) {
	e.mvcc.publish(next)
	e.readers.invalidate()
}

func (e *Engine) afterCommit() {
	e.metrics.OnMemoryStatus(e.rc.MemoryUsage(), e.rc.MemoryLimit())
	cur := e.mvcc.current.Load()
	if cur != nil && e.memtableFlushBytes > 0 && cur.active.mt.Bytes() >= e.memtableFlushBytes {
		e.signalFlush()
	}
}

// reserve charges n bytes of buffer memory. Over the ceiling it forces a
// flush and retries once.
func (e *Engine) reserve(n int64) error {
	if n <= 0 {
		return nil
	}
	if err := e.rc.AcquireMemory(n); err == nil {
		return nil
	}
	e.logger.Info("Memory ceiling reached, forcing flush", "bytes", n, "used", e.rc.MemoryUsage())
	if err := e.Flush(); err != nil {
		return fmt.Errorf("%w: forced flush failed: %w", ErrCapacity, err)
	}
	if err := e.rc.AcquireMemory(n); err != nil {
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	}
	return nil
}

func (e *Engine) appendAbort(txID uint64) {
	if e.wal == nil {
		return
	}
	if _, err := e.wal.Append(wal.AbortRecord(txID)); err != nil {
		e.logger.Warn("Failed to append abort record", "tx", txID, "error", err)
	}
}

func (e *Engine) prepareInsert(doc *model.Document) (txOp, error) {
	if doc == nil {
		return txOp{}, fmt.Errorf("%w: nil document", ErrInvalidArgument)
	}
	doc = doc.Clone()
	payload, err := encoding.EncodeDocument(doc)
	if err != nil {
		return txOp{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return txOp{
		kind:    opInsert,
		id:      doc.ID,
		prep:    memtable.Prepare(doc, e.analyzer),
		payload: payload,
	}, nil
}

// Get returns the committed document id at the current version.
func (e *Engine) Get(id model.DocID) (*model.Document, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	snap, err := e.mvcc.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.DecRef()
	return e.getAt(snap, id)
}

func (e *Engine) getAt(snap *Snapshot, id model.DocID) (*model.Document, error) {
	loc, ok := e.pk.Get(id, snap.version)
	if !ok {
		return nil, ErrNotFound
	}
	seg := snap.byID[loc.SegmentID]
	if seg == nil || !snap.visible(seg, uint32(loc.Ordinal)) {
		return nil, ErrNotFound
	}
	doc, err := seg.src.Document(uint32(loc.Ordinal))
	if err != nil {
		return nil, segmentError("read document", err)
	}
	return doc.Clone(), nil
}

// segmentError maps segment read failures onto engine sentinels.
func segmentError(op string, err error) error {
	if errors.Is(err, segment.ErrCorrupt) {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, op, err)
	}
	return ioError(op, err)
}
