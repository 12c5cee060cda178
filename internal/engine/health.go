package engine

import (
	"fmt"
	"time"
)

// HealthStatus is the outcome of a health check.
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// CheckResult is the result of one named check.
type CheckResult struct {
	Name    string
	Status  HealthStatus
	Message string
	Latency time.Duration
}

// HealthReport aggregates every check. Status is the worst of them.
type HealthReport struct {
	Status HealthStatus
	Checks []CheckResult
}

const (
	memoryDegradedRatio  = 0.8
	memoryUnhealthyRatio = 0.95
	maxLiveReaders       = 1024
	minCacheLookups      = 100
	minCacheHitRatio     = 0.1
)

// HealthCheck runs the WAL, ReaderPool, Memory, Compaction and QueryCache
// checks.
func (e *Engine) HealthCheck() HealthReport {
	checks := []struct {
		name string
		fn   func() (HealthStatus, string)
	}{
		{"WAL", e.checkWAL},
		{"ReaderPool", e.checkReaders},
		{"Memory", e.checkMemory},
		{"Compaction", e.checkCompaction},
		{"QueryCache", e.checkQueryCache},
	}

	var report HealthReport
	for _, c := range checks {
		start := time.Now()
		status, msg := Unhealthy, ErrClosed.Error()
		if e.checkOpen() == nil {
			status, msg = c.fn()
		}
		report.Checks = append(report.Checks, CheckResult{
			Name:    c.name,
			Status:  status,
			Message: msg,
			Latency: time.Since(start),
		})
		report.Status = max(report.Status, status)
	}
	return report
}

func (e *Engine) checkWAL() (HealthStatus, string) {
	if e.wal == nil {
		return Degraded, "write-ahead log disabled"
	}
	if err := e.wal.Err(); err != nil {
		return Unhealthy, err.Error()
	}
	return Healthy, fmt.Sprintf("%d bytes in %d generations", e.wal.Size(), e.wal.Generations())
}

func (e *Engine) checkReaders() (HealthStatus, string) {
	r, err := e.readers.Acquire()
	if err != nil {
		return Unhealthy, err.Error()
	}
	r.Release()
	live := e.readers.Live()
	if live > maxLiveReaders {
		return Degraded, fmt.Sprintf("%d live readers", live)
	}
	return Healthy, fmt.Sprintf("%d live readers", live)
}

func (e *Engine) checkMemory() (HealthStatus, string) {
	u := e.rc.Usage()
	msg := fmt.Sprintf("%d of %d bytes reserved", u.Used, u.Limit)
	switch ratio := u.Ratio(); {
	case ratio >= memoryUnhealthyRatio:
		return Unhealthy, msg
	case ratio >= memoryDegradedRatio:
		return Degraded, msg
	}
	return Healthy, msg
}

func (e *Engine) checkCompaction() (HealthStatus, string) {
	stats := e.segmentStats()
	if task := e.policy.Pick(stats); task != nil && len(stats) > 4*defaultSegmentsPerTier {
		return Degraded, fmt.Sprintf("%d sealed segments, merge backlog", len(stats))
	}
	if e.compactionInterval <= 0 {
		return Healthy, fmt.Sprintf("%d sealed segments, background merging disabled", len(stats))
	}
	return Healthy, fmt.Sprintf("%d sealed segments", len(stats))
}

func (e *Engine) checkQueryCache() (HealthStatus, string) {
	if e.results == nil {
		return Healthy, "disabled"
	}
	hits, misses := e.results.Stats()
	msg := fmt.Sprintf("%d hits, %d misses, %d entries", hits, misses, e.results.Len())
	if total := hits + misses; total >= minCacheLookups && float64(hits)/float64(total) < minCacheHitRatio {
		return Degraded, msg
	}
	return Healthy, msg
}
