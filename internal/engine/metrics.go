package engine

import (
	"sync/atomic"
	"time"
)

// MetricsObserver defines the interface for observing engine events.
// Implementations must be safe for concurrent use and should not block.
type MetricsObserver interface {
	// OnInsert is called after each Insert.
	OnInsert(duration time.Duration, err error)

	// OnDelete is called after each Delete.
	OnDelete(duration time.Duration, err error)

	// OnSearch is called after each search with the number of hits returned.
	OnSearch(duration time.Duration, hits int, err error)

	// OnCommit is called when a transaction commit finishes.
	OnCommit(duration time.Duration, ops int, err error)

	// OnConflict is called when a commit is rejected by conflict detection.
	OnConflict()

	// OnFlush is called when a flush completes.
	OnFlush(duration time.Duration, docs int, bytes int64, err error)

	// OnCompaction is called when a merge completes.
	OnCompaction(duration time.Duration, inputSegments int, outputDocs int, err error)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int)

	// OnThroughput reports bytes processed.
	OnThroughput(name string, bytes int64)

	// OnMemoryStatus reports write buffer memory usage.
	OnMemoryStatus(used, limit int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnInsert(time.Duration, error)               {}
func (NoopMetricsObserver) OnDelete(time.Duration, error)               {}
func (NoopMetricsObserver) OnSearch(time.Duration, int, error)          {}
func (NoopMetricsObserver) OnCommit(time.Duration, int, error)          {}
func (NoopMetricsObserver) OnConflict()                                 {}
func (NoopMetricsObserver) OnFlush(time.Duration, int, int64, error)    {}
func (NoopMetricsObserver) OnCompaction(time.Duration, int, int, error) {}
func (NoopMetricsObserver) OnQueueDepth(string, int)                    {}
func (NoopMetricsObserver) OnThroughput(string, int64)                  {}
func (NoopMetricsObserver) OnMemoryStatus(int64, int64)                 {}

// BasicMetricsObserver keeps simple in-memory counters.
// Useful for debugging and tests without external dependencies.
type BasicMetricsObserver struct {
	Inserts         atomic.Int64
	InsertErrors    atomic.Int64
	Deletes         atomic.Int64
	DeleteErrors    atomic.Int64
	Searches        atomic.Int64
	SearchErrors    atomic.Int64
	SearchNanos     atomic.Int64
	Commits         atomic.Int64
	CommitErrors    atomic.Int64
	Conflicts       atomic.Int64
	Flushes         atomic.Int64
	FlushErrors     atomic.Int64
	FlushedDocs     atomic.Int64
	FlushedBytes    atomic.Int64
	Compactions     atomic.Int64
	CompactionError atomic.Int64
	BytesWritten    atomic.Int64
	MemoryUsed      atomic.Int64
	MemoryLimit     atomic.Int64
}

func (b *BasicMetricsObserver) OnInsert(_ time.Duration, err error) {
	b.Inserts.Add(1)
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

func (b *BasicMetricsObserver) OnDelete(_ time.Duration, err error) {
	b.Deletes.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

func (b *BasicMetricsObserver) OnSearch(d time.Duration, _ int, err error) {
	b.Searches.Add(1)
	b.SearchNanos.Add(d.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

func (b *BasicMetricsObserver) OnCommit(_ time.Duration, _ int, err error) {
	b.Commits.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

func (b *BasicMetricsObserver) OnConflict() { b.Conflicts.Add(1) }

func (b *BasicMetricsObserver) OnFlush(_ time.Duration, docs int, bytes int64, err error) {
	b.Flushes.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushedDocs.Add(int64(docs))
	b.FlushedBytes.Add(bytes)
}

func (b *BasicMetricsObserver) OnCompaction(_ time.Duration, _ int, _ int, err error) {
	b.Compactions.Add(1)
	if err != nil {
		b.CompactionError.Add(1)
	}
}

func (b *BasicMetricsObserver) OnQueueDepth(string, int) {}

func (b *BasicMetricsObserver) OnThroughput(_ string, bytes int64) { b.BytesWritten.Add(bytes) }

func (b *BasicMetricsObserver) OnMemoryStatus(used, limit int64) {
	b.MemoryUsed.Store(used)
	b.MemoryLimit.Store(limit)
}
