// Package textgo is an embedded full-text search engine for Go.
//
// Documents are indexed into an in-memory write buffer, made durable by a
// write-ahead log and flushed into immutable on-disk segments that are merged
// in the background. Every committed change publishes a new snapshot, so
// readers never block writers and a query always sees one consistent
// version. Results are ranked with BM25.
//
// # Quick Start
//
//	db, err := textgo.Open("./data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	doc := model.NewDocument(1).
//	    Text("title", "Concurrency in Go").
//	    Text("body", "Goroutines and channels").
//	    Build()
//	_ = db.Insert(ctx, doc)
//	_ = db.Commit()
//
//	hits, _ := db.SearchString(ctx, "title:go AND channel*", textgo.SearchOptions{Limit: 10})
//
// # Transactions
//
// Writes outside a transaction join an implicit one that Commit publishes.
// Explicit transactions use optimistic concurrency control and fail with a
// ConflictError when another commit touched the same document:
//
//	err := db.WithTransaction(ctx, textgo.Serializable, func(tx *textgo.Tx) error {
//	    if _, err := tx.Get(1); err != nil {
//	        return err
//	    }
//	    return tx.Delete(1)
//	})
//
// # Durability
//
// With the WAL enabled (the default) a commit is durable once it returns.
// Flush writes the buffer to a segment and truncates the log. Close flushes.
//
// # Errors
//
// Failures are reported as IOError, ConflictError, CorruptionError,
// InvalidQueryError or CapacityError. Each matches its sentinel
// (ErrIO, ErrConflict, ...) with errors.Is.
package textgo
