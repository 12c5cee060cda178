// Package pk provides the MVCC primary key index.
//
// The index maps external DocIDs to the physical location (segment, ordinal)
// of their live copy. Each key holds a version chain, newest first, so a
// reader pinned at an older snapshot still resolves the location that was
// current at its version.
//
// # Implementation
//
// DocIDs are arbitrary uint64 values, so keys are hashed into a fixed number
// of map shards, each guarded by its own RWMutex. Writers are serialized by
// the engine's commit path; shard locks only order them against readers.
package pk
