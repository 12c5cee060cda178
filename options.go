package textgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/engine"
	"github.com/hupe1980/textgo/internal/wal"
)

// Durability controls when a commit is considered durable.
type Durability = wal.Durability

const (
	// DurabilitySync fsyncs the WAL before a commit returns. Concurrent
	// commits share one fsync.
	DurabilitySync = wal.DurabilitySync

	// DurabilityAsync leaves WAL writes in the OS page cache.
	DurabilityAsync = wal.DurabilityAsync
)

// MergePolicy decides which segments Compact merges.
type MergePolicy = engine.MergePolicy

// TieredMergePolicy merges within the smallest size tier that has
// accumulated SegmentsPerTier segments.
type TieredMergePolicy = engine.TieredMergePolicy

// LogStructuredMergePolicy merges the oldest contiguous run of same-tier
// segments.
type LogStructuredMergePolicy = engine.LogStructuredMergePolicy

// NewTieredMergePolicy returns the default merge policy.
func NewTieredMergePolicy() *TieredMergePolicy { return engine.NewTieredMergePolicy() }

// NewLogStructuredMergePolicy returns a log-structured policy with default knobs.
func NewLogStructuredMergePolicy() *LogStructuredMergePolicy {
	return engine.NewLogStructuredMergePolicy()
}

type options struct {
	logger     *Logger
	engineOpts []engine.Option
}

// Option configures Open.
type Option func(*options)

func withEngine(opt engine.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opt)
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := textgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := textgo.Open("./data", textgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsObserver configures a metrics observer. Pass nil to disable.
func WithMetricsObserver(m MetricsObserver) Option {
	return withEngine(engine.WithMetricsObserver(m))
}

// WithMemoryLimit sets the write buffer memory ceiling in bytes. Writes
// that would exceed it force a flush; if the flush fails they return a
// CapacityError. Zero means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return withEngine(engine.WithMemoryLimit(bytes))
}

// WithMemtableFlushBytes sets the buffer size that triggers a background flush.
func WithMemtableFlushBytes(bytes int64) Option {
	return withEngine(engine.WithMemtableFlushBytes(bytes))
}

// WithWAL enables or disables the write-ahead log. Without it, only data
// persisted by Flush survives a crash.
func WithWAL(enabled bool) Option {
	return withEngine(engine.WithWAL(enabled))
}

// WithDurability sets the WAL sync mode.
func WithDurability(d Durability) Option {
	return withEngine(engine.WithDurability(d))
}

// WithCacheSize sets the query result cache size in bytes. Zero disables it.
func WithCacheSize(bytes int64) Option {
	return withEngine(engine.WithCacheSize(bytes))
}

// WithBlockCacheSize sets the decoded block cache size in bytes.
func WithBlockCacheSize(bytes int64) Option {
	return withEngine(engine.WithBlockCacheSize(bytes))
}

// WithMergePolicy sets the merge policy.
func WithMergePolicy(p MergePolicy) Option {
	return withEngine(engine.WithMergePolicy(p))
}

// WithCodec sets the block compression of new segments. If nil is passed,
// codec.Default is used.
func WithCodec(c codec.Codec) Option {
	if c == nil {
		c = codec.Default
	}
	return withEngine(engine.WithCodec(c))
}

// WithAnalyzer sets the analyzer for text fields and query strings.
func WithAnalyzer(a analysis.Analyzer) Option {
	return withEngine(engine.WithAnalyzer(a))
}

// WithMaxBackgroundWorkers bounds concurrent merges.
func WithMaxBackgroundWorkers(n int64) Option {
	return withEngine(engine.WithMaxBackgroundWorkers(n))
}

// WithIORateLimit throttles segment writes to bytesPerSec.
func WithIORateLimit(bytesPerSec int64) Option {
	return withEngine(engine.WithIORateLimit(bytesPerSec))
}

// WithCompactionInterval sets how often background merging runs. Zero
// disables it; Compact can still be called explicitly.
func WithCompactionInterval(d time.Duration) Option {
	return withEngine(engine.WithCompactionInterval(d))
}

// WithVerifyChecksums controls whether segment data is checksummed on open.
func WithVerifyChecksums(verify bool) Option {
	return withEngine(engine.WithVerifyChecksums(verify))
}

// WithConfig applies every setting of cfg except DataDir. Options given
// after it override individual settings.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		for _, opt := range cfg.options() {
			opt(o)
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
