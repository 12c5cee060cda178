package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/textgo/internal/memtable"
	"github.com/hupe1980/textgo/internal/wal"
	"github.com/hupe1980/textgo/model"
	"github.com/hupe1980/textgo/query"
)

// IsolationLevel selects the read view and commit validation of a Tx.
type IsolationLevel uint8

const (
	// ReadCommitted pins the latest snapshot for every read.
	ReadCommitted IsolationLevel = iota
	// RepeatableRead serves every read from the start snapshot.
	RepeatableRead
	// Serializable is RepeatableRead plus validation of the read set at commit.
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}

type opKind uint8

const (
	opInsert opKind = iota + 1
	opDelete
)

type txOp struct {
	kind    opKind
	id      model.DocID
	prep    *memtable.Prepared
	payload []byte
}

func (op txOp) record(txID uint64) *wal.Record {
	if op.kind == opInsert {
		return wal.InsertRecord(txID, op.payload)
	}
	return wal.DeleteRecord(txID, uint64(op.id))
}

// Tx is an optimistic transaction. A Tx is owned by one goroutine until
// Commit or Rollback and must not be shared.
//
// Writes are buffered privately; the transaction's own reads observe them.
// Nothing reaches the WAL before Commit, which appends every record plus the
// commit marker in one batch.
type Tx struct {
	e      *Engine
	id     uint64
	level  IsolationLevel
	start  *Snapshot
	ops    []txOp
	writes map[model.DocID]struct{}
	reads  map[model.DocID]struct{}

	// overlay holds the private copies of inserted documents.
	overlay     *memtable.MemTable
	overlayLive map[model.DocID]uint32

	implicit bool
	reserved int64
	done     bool
}

// Begin starts a transaction at the current version.
func (e *Engine) Begin(level IsolationLevel) (*Tx, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if level > Serializable {
		return nil, fmt.Errorf("%w: isolation level %d", ErrInvalidArgument, level)
	}
	snap, err := e.mvcc.acquire()
	if err != nil {
		return nil, err
	}
	return e.newTx(level, snap, false), nil
}

func (e *Engine) newTx(level IsolationLevel, start *Snapshot, implicit bool) *Tx {
	return &Tx{
		e:        e,
		id:       e.nextTxID.Add(1) - 1,
		level:    level,
		start:    start,
		writes:   make(map[model.DocID]struct{}),
		reads:    make(map[model.DocID]struct{}),
		implicit: implicit,
	}
}

// WithTransaction runs fn in a transaction and commits it when fn returns
// nil. A ConflictError means the whole transaction should be retried.
func (e *Engine) WithTransaction(ctx context.Context, level IsolationLevel, fn func(*Tx) error) error {
	tx, err := e.Begin(level)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ID returns the transaction ID written to the WAL.
func (tx *Tx) ID() uint64 { return tx.id }

// Level returns the isolation level.
func (tx *Tx) Level() IsolationLevel { return tx.level }

// StartVersion returns the version the transaction started at.
func (tx *Tx) StartVersion() model.Version { return tx.start.version }

// Insert buffers an upsert of doc.
func (tx *Tx) Insert(doc *model.Document) error {
	if tx.done {
		return ErrTxDone
	}
	op, err := tx.e.prepareInsert(doc)
	if err != nil {
		return err
	}
	tx.add(op)
	return nil
}

// Delete buffers a delete of id.
func (tx *Tx) Delete(id model.DocID) error {
	if tx.done {
		return ErrTxDone
	}
	tx.add(txOp{kind: opDelete, id: id})
	return nil
}

func (tx *Tx) add(op txOp) {
	tx.ops = append(tx.ops, op)
	tx.writes[op.id] = struct{}{}
	if tx.implicit {
		return
	}
	if op.kind == opDelete {
		delete(tx.overlayLive, op.id)
		return
	}
	if tx.overlay == nil {
		tx.overlay = memtable.New(0)
		tx.overlayLive = make(map[model.DocID]uint32)
	}
	// The overlay is private and never frozen.
	ord, _ := tx.overlay.Add(op.prep)
	tx.overlayLive[op.id] = ord
}

// readSnapshot returns a pinned snapshot for one read.
func (tx *Tx) readSnapshot() (*Snapshot, error) {
	if tx.level == ReadCommitted {
		return tx.e.mvcc.acquire()
	}
	tx.start.IncRef()
	return tx.start, nil
}

// Get returns the document as seen by the transaction, including its own
// uncommitted writes.
func (tx *Tx) Get(id model.DocID) (*model.Document, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	tx.reads[id] = struct{}{}
	if ord, ok := tx.overlayLive[id]; ok {
		doc, err := tx.overlay.Document(ord)
		if err != nil {
			return nil, err
		}
		return doc.Clone(), nil
	}
	if _, ok := tx.writes[id]; ok {
		return nil, ErrNotFound
	}
	if err := tx.e.checkOpen(); err != nil {
		return nil, err
	}
	snap, err := tx.readSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.DecRef()
	return tx.e.getAt(snap, id)
}

// Search evaluates q against the transaction's view.
func (tx *Tx) Search(ctx context.Context, q *query.Query, opts SearchOptions) ([]model.Hit, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if err := tx.e.checkOpen(); err != nil {
		return nil, err
	}
	snap, err := tx.readSnapshot()
	if err != nil {
		return nil, err
	}
	r := newReader(nil, snap)
	defer r.Release()

	var ov *overlay
	if len(tx.writes) > 0 {
		ov = &overlay{src: tx.overlay, live: tx.overlayLive, hidden: tx.writes}
	}
	hits, err := tx.e.execute(ctx, r, ov, q, opts)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		tx.reads[h.DocID] = struct{}{}
	}
	return hits, nil
}

// memory returns the buffer memory the transaction's inserts need.
func (tx *Tx) memory() int64 {
	var n int64
	for _, op := range tx.ops {
		if op.kind == opInsert {
			n += op.prep.Size()
		}
	}
	return n
}

// conflict returns the first written (or, under Serializable, read) DocID
// that a later commit changed. The caller holds commitMu.
func (tx *Tx) conflict() (model.DocID, bool) {
	start := tx.start.version
	for id := range tx.writes {
		if tx.e.pk.LastCommit(id) > start {
			return id, true
		}
	}
	if tx.level == Serializable {
		for id := range tx.reads {
			if tx.e.pk.LastCommit(id) > start {
				return id, true
			}
		}
	}
	return 0, false
}

func (tx *Tx) records() []*wal.Record {
	recs := make([]*wal.Record, 0, len(tx.ops)+1)
	for _, op := range tx.ops {
		recs = append(recs, op.record(tx.id))
	}
	return append(recs, wal.CommitRecord(tx.id))
}

// Commit validates and applies the transaction atomically.
func (tx *Tx) Commit() (err error) {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	defer tx.finish()

	e := tx.e
	start := time.Now()
	defer func() { e.metrics.OnCommit(time.Since(start), len(tx.ops), err) }()

	if len(tx.ops) == 0 {
		return nil
	}
	if err := e.checkOpen(); err != nil {
		return err
	}

	need := tx.memory()
	if err := e.reserve(need); err != nil {
		return err
	}

	e.commitMu.Lock()
	if id, ok := tx.conflict(); ok {
		e.commitMu.Unlock()
		e.rc.ReleaseMemory(need)
		e.appendAbort(tx.id)
		e.metrics.OnConflict()
		e.logger.Debug("Commit conflict", "tx", tx.id, "doc", id)
		return &ConflictError{DocID: id}
	}
	if e.wal != nil {
		if err := e.wal.AppendBatch(tx.records()); err != nil {
			e.commitMu.Unlock()
			e.rc.ReleaseMemory(need)
			return ioError("wal append", err)
		}
	}
	err = e.applyAndPublishLocked(tx.ops, need)
	e.commitMu.Unlock()
	if err != nil {
		return err
	}
	e.afterCommit()
	return nil
}

// Rollback discards the transaction. An Abort record tells replay to skip
// the transaction.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	defer tx.finish()
	if len(tx.ops) > 0 {
		tx.e.appendAbort(tx.id)
	}
	return nil
}

func (tx *Tx) finish() {
	if tx.start != nil {
		tx.start.DecRef()
		tx.start = nil
	}
	tx.overlay = nil
	tx.overlayLive = nil
}
