// Package engine implements the core full-text storage engine.
//
// The engine orchestrates:
//   - the WAL for durability and crash recovery
//   - a MemTable write buffer (single writer, lock-free readers)
//   - immutable sealed segments and their tombstone sidecars
//   - background flush and merge loops
//   - MVCC snapshots with optimistic transactions
//   - the pooled reader and the Boolean/BM25 query executor
//
// # Versions
//
// Every commit publishes a new Version. A Snapshot pins one version together
// with the segments and buffer watermark that were current at that point;
// readers resolve visibility (buffer watermark, per-version tombstones,
// primary key history) against it and never take a lock.
package engine
