package textgo

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/internal/engine"
	"github.com/hupe1980/textgo/model"
	"github.com/hupe1980/textgo/query"
)

type (
	DocID    = model.DocID
	Document = model.Document
	Hit      = model.Hit

	// SearchOptions bounds a search. Limit 0 returns every match.
	SearchOptions = engine.SearchOptions

	// IsolationLevel selects the read guarantees of a transaction.
	IsolationLevel = engine.IsolationLevel

	Stats        = engine.Stats
	SegmentStat  = engine.SegmentStat
	HealthStatus = engine.HealthStatus
	HealthReport = engine.HealthReport
	CheckResult  = engine.CheckResult
	BackupInfo   = engine.BackupInfo
)

const (
	// ReadCommitted reads the latest committed version on every operation.
	ReadCommitted = engine.ReadCommitted
	// RepeatableRead reads the version current at Begin.
	RepeatableRead = engine.RepeatableRead
	// Serializable additionally aborts on a conflict with anything read.
	Serializable = engine.Serializable

	Healthy   = engine.Healthy
	Degraded  = engine.Degraded
	Unhealthy = engine.Unhealthy
)

// DB is an embedded full-text index. All methods are safe for concurrent use.
type DB struct {
	eng    *engine.Engine
	logger *Logger
}

// Open opens or creates the index in dir. It holds an exclusive lock on
// dir until Close.
func Open(dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	opts := append([]engine.Option{engine.WithLogger(o.logger.Logger)}, o.engineOpts...)

	start := time.Now()
	eng, err := engine.Open(dir, opts...)
	if err != nil {
		o.logger.Error("open failed", "dir", dir, "error", err)
		return nil, translateError(err)
	}
	o.logger.Info("opened", "dir", dir, "duration", time.Since(start))
	return &DB{eng: eng, logger: o.logger}, nil
}

// OpenConfig opens cfg.DataDir with cfg applied before optFns.
func OpenConfig(cfg *Config, optFns ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return Open(cfg.DataDir, append([]Option{WithConfig(cfg)}, optFns...)...)
}

// Insert adds doc, replacing any document with the same ID. The write
// belongs to the implicit transaction and is visible after Commit.
func (db *DB) Insert(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := translateError(db.eng.Insert(doc))
	if doc != nil {
		db.logger.LogInsert(ctx, uint64(doc.ID), err)
	}
	return err
}

// Delete removes the document with id. Deleting an absent ID is not an
// error.
func (db *DB) Delete(ctx context.Context, id DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := translateError(db.eng.Delete(id))
	db.logger.LogDelete(ctx, uint64(id), err)
	return err
}

// Get returns the latest committed version of the document.
func (db *DB) Get(id DocID) (*Document, error) {
	doc, err := db.eng.Get(id)
	return doc, translateError(err)
}

// Commit publishes the implicit transaction's writes.
func (db *DB) Commit() error {
	return translateError(db.eng.Commit())
}

// Search evaluates q against the latest committed version and returns hits
// ordered by descending BM25 score, ties broken by ascending DocID.
func (db *DB) Search(ctx context.Context, q *query.Query, opts SearchOptions) ([]Hit, error) {
	hits, err := db.eng.Search(ctx, q, opts)
	err = translateError(err)
	db.logger.LogSearch(ctx, q.String(), opts.Limit, len(hits), err)
	return hits, err
}

// SearchString parses s with the configured analyzer and searches.
//
//	hits, err := db.SearchString(ctx, `title:go AND (channel OR goroutine*) -java`, textgo.SearchOptions{Limit: 10})
func (db *DB) SearchString(ctx context.Context, s string, opts SearchOptions) ([]Hit, error) {
	hits, err := db.eng.SearchString(ctx, s, opts)
	err = translateQueryError(err, s)
	db.logger.LogSearch(ctx, s, opts.Limit, len(hits), err)
	return hits, err
}

// Flush commits the implicit transaction and writes the write buffer to a
// new immutable segment.
func (db *DB) Flush(ctx context.Context) error {
	err := translateError(db.eng.Flush())
	db.logger.LogFlush(ctx, err)
	return err
}

// Compact runs one round of the merge policy.
func (db *DB) Compact(ctx context.Context) error {
	return translateError(db.eng.Compact(ctx))
}

// ForceMerge merges every segment into one, dropping deleted documents.
func (db *DB) ForceMerge(ctx context.Context) error {
	return translateError(db.eng.ForceMerge(ctx))
}

// Begin starts an explicit transaction.
func (db *DB) Begin(level IsolationLevel) (*Tx, error) {
	tx, err := db.eng.Begin(level)
	if err != nil {
		return nil, translateError(err)
	}
	return &Tx{tx: tx, db: db}, nil
}

// WithTransaction runs fn in a transaction and commits it if fn returns
// nil. It rolls back on error or panic.
func (db *DB) WithTransaction(ctx context.Context, level IsolationLevel, fn func(*Tx) error) error {
	var txID uint64
	err := db.eng.WithTransaction(ctx, level, func(tx *engine.Tx) error {
		txID = tx.ID()
		return fn(&Tx{tx: tx, db: db})
	})
	err = translateError(err)
	if txID != 0 {
		db.logger.WithTx(txID).LogCommit(ctx, err)
	}
	return err
}

// Stats returns a point-in-time view of the index.
func (db *DB) Stats() (Stats, error) {
	st, err := db.eng.Stats()
	return st, translateError(err)
}

// HealthCheck runs every health check.
func (db *DB) HealthCheck() HealthReport {
	return db.eng.HealthCheck()
}

// Backup flushes and copies a consistent image of the index to dst. The
// manifest is written last, so a partial backup is never loadable.
func (db *DB) Backup(ctx context.Context, dst blobstore.BlobStore) (BackupInfo, error) {
	info, err := db.eng.Backup(ctx, dst)
	err = translateError(err)
	db.logger.LogBackup(ctx, info, err)
	return info, err
}

// Close flushes buffered writes, stops background work and releases the
// directory lock.
func (db *DB) Close() error {
	err := translateError(db.eng.Close())
	if err != nil {
		db.logger.Error("close failed", "dir", db.eng.Dir(), "error", err)
	}
	return err
}

// Tx is an explicit transaction. A Tx is not safe for concurrent use.
type Tx struct {
	tx *engine.Tx
	db *DB
}

// ID returns the transaction ID.
func (t *Tx) ID() uint64 { return t.tx.ID() }

// Insert stages doc.
func (t *Tx) Insert(doc *Document) error { return translateError(t.tx.Insert(doc)) }

// Delete stages the removal of id.
func (t *Tx) Delete(id DocID) error { return translateError(t.tx.Delete(id)) }

// Get reads id, observing the transaction's own staged writes.
func (t *Tx) Get(id DocID) (*Document, error) {
	doc, err := t.tx.Get(id)
	return doc, translateError(err)
}

// Search evaluates q, observing the transaction's own staged writes.
func (t *Tx) Search(ctx context.Context, q *query.Query, opts SearchOptions) ([]Hit, error) {
	hits, err := t.tx.Search(ctx, q, opts)
	return hits, translateError(err)
}

// SearchString parses s with the database analyzer and searches.
func (t *Tx) SearchString(ctx context.Context, s string, opts SearchOptions) ([]Hit, error) {
	q, err := query.Parse(s, t.db.eng.Analyzer())
	if err != nil {
		return nil, &InvalidQueryError{Query: s, cause: fmt.Errorf("%w: %w", ErrInvalidQuery, err)}
	}
	hits, err := t.tx.Search(ctx, q, opts)
	return hits, translateQueryError(err, s)
}

// Commit publishes the staged writes atomically. A ConflictError means
// another transaction changed a document this one wrote or read.
func (t *Tx) Commit() error {
	err := translateError(t.tx.Commit())
	t.db.logger.WithTx(t.tx.ID()).LogCommit(context.Background(), err)
	return err
}

// Rollback discards the staged writes.
func (t *Tx) Rollback() error { return translateError(t.tx.Rollback()) }
