package engine

import (
	"log/slog"
	"time"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/fs"
	"github.com/hupe1980/textgo/internal/resource"
	"github.com/hupe1980/textgo/internal/wal"
)

const (
	DefaultMemoryLimit        = 256 * mib
	DefaultMemtableFlushBytes = 64 * mib
	DefaultCacheSize          = 10 * mib
	DefaultBlockCacheSize     = 32 * mib
	DefaultCompactionInterval = 30 * time.Second
)

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFileSystem sets the file system for the engine.
// This is primarily used for testing and fault injection.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(e *Engine) {
		if fsys != nil {
			e.fs = fsys
		}
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(e *Engine) {
		if observer != nil {
			e.metrics = observer
		}
	}
}

// WithResourceController sets the resource controller for the engine. It
// replaces the limits set by WithMemoryLimit, WithMaxBackgroundWorkers and
// WithIORateLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.rc = rc
	}
}

// WithMemoryLimit sets the write buffer memory ceiling in bytes.
// If set to 0, memory is unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(e *Engine) {
		e.rcConfig.MemoryLimitBytes = bytes
	}
}

// WithMaxBackgroundWorkers bounds concurrent merges.
func WithMaxBackgroundWorkers(n int64) Option {
	return func(e *Engine) {
		e.rcConfig.MaxBackgroundWorkers = n
	}
}

// WithIORateLimit throttles segment writes to bytesPerSec. Zero disables it.
func WithIORateLimit(bytesPerSec int64) Option {
	return func(e *Engine) {
		e.rcConfig.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithMemtableFlushBytes sets the buffer size that signals a background flush.
func WithMemtableFlushBytes(bytes int64) Option {
	return func(e *Engine) {
		e.memtableFlushBytes = bytes
	}
}

// WithWAL enables or disables the write-ahead log. Without it, durability
// is provided only by Flush.
func WithWAL(enabled bool) Option {
	return func(e *Engine) {
		e.walEnabled = enabled
	}
}

// WithDurability sets the WAL sync mode.
func WithDurability(d wal.Durability) Option {
	return func(e *Engine) {
		e.durability = d
	}
}

// WithCacheSize sets the query result cache size in bytes. Zero disables it.
func WithCacheSize(bytes int64) Option {
	return func(e *Engine) {
		e.cacheSize = bytes
	}
}

// WithBlockCacheSize sets the size of the posting and stored block cache in bytes.
func WithBlockCacheSize(bytes int64) Option {
	return func(e *Engine) {
		e.blockCacheSize = bytes
	}
}

// WithMergePolicy sets the policy used by Compact and the background loop.
func WithMergePolicy(p MergePolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithCodec sets the block compression codec for new segments.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithAnalyzer sets the analyzer applied to text fields.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(e *Engine) {
		if a != nil {
			e.analyzer = a
		}
	}
}

// WithCompactionInterval sets how often the background loop consults the
// merge policy. Zero or negative disables background merging.
func WithCompactionInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.compactionInterval = d
	}
}

// WithVerifyChecksums controls whether segment data files are checksummed
// on open.
func WithVerifyChecksums(verify bool) Option {
	return func(e *Engine) {
		e.verifyChecksums = verify
	}
}
