// Package memtable implements the in-memory write buffer of the index.
//
// # Concurrency
//
// A MemTable has a single writer (the engine's commit path) and any number of
// lock-free readers. Readers see a prefix of the ordinal space: the engine
// publishes a visibility watermark with each snapshot and the query path
// ignores ordinals at or above it. Ordinals are never reused, so a frozen
// MemTable can be written to disk as a sealed segment with identical
// ordinals.
//
// The term dictionary is a concurrent skip list keyed by field\x00term, which
// keeps keys sorted for flushes and prefix expansion.
package memtable
