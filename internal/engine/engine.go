package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/cache"
	"github.com/hupe1980/textgo/internal/fs"
	"github.com/hupe1980/textgo/internal/manifest"
	"github.com/hupe1980/textgo/internal/pk"
	"github.com/hupe1980/textgo/internal/resource"
	"github.com/hupe1980/textgo/internal/wal"
	"github.com/hupe1980/textgo/model"
)

// manifestsKept is the number of manifest versions retained on disk.
const manifestsKept = 2

// Engine is the storage engine behind a textgo database.
//
// Lock order: flushMu, implicitMu, mergeMu, manifestMu, commitMu. Readers
// take none of them.
type Engine struct {
	dir       string
	fs        fs.FileSystem
	store     blobstore.BlobStore
	manifests *manifest.Store
	manifest  *manifest.Manifest // guarded by manifestMu
	lock      *fs.Lock

	wal        *wal.WAL
	walEnabled bool
	durability wal.Durability

	pk      *pk.Index
	mvcc    *mvccController
	readers *ReaderPool
	results *cache.LRU[resultKey, []model.Hit]

	blockCache     cache.BlockCache
	blockCacheSize int64
	cacheSize      int64

	analyzer analysis.Analyzer
	codec    codec.Codec
	policy   MergePolicy

	rc       *resource.Controller
	rcConfig resource.Config

	metrics MetricsObserver
	logger  *slog.Logger

	memtableFlushBytes int64
	compactionInterval time.Duration
	verifyChecksums    bool

	nextSegmentID atomic.Uint64
	nextTxID      atomic.Uint64

	implicit *Tx             // guarded by implicitMu
	pending  []*pendingFlush // guarded by flushMu

	flushMu    sync.Mutex
	implicitMu sync.Mutex
	mergeMu    sync.Mutex
	manifestMu sync.Mutex
	commitMu   sync.Mutex

	lastFlush  atomic.Int64
	lastCommit atomic.Int64

	flushCh   chan struct{}
	compactCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open opens or creates the engine in dir and recovers its state.
func Open(dir string, opts ...Option) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		ctx:                ctx,
		cancel:             cancel,
		dir:                dir,
		fs:                 fs.Default,
		walEnabled:         true,
		durability:         wal.DurabilitySync,
		analyzer:           analysis.Default(),
		codec:              codec.Default,
		policy:             NewTieredMergePolicy(),
		metrics:            NoopMetricsObserver{},
		logger:             slog.New(slog.DiscardHandler),
		memtableFlushBytes: DefaultMemtableFlushBytes,
		cacheSize:          DefaultCacheSize,
		blockCacheSize:     DefaultBlockCacheSize,
		compactionInterval: DefaultCompactionInterval,
		verifyChecksums:    true,
		rcConfig:           resource.Config{MemoryLimitBytes: DefaultMemoryLimit},
		flushCh:            make(chan struct{}, 1),
		compactCh:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.init(); err != nil {
		cancel()
		e.abort()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init() error {
	if e.dir == "" {
		return fmt.Errorf("%w: empty data directory", ErrInvalidArgument)
	}
	if e.rc == nil {
		e.rc = resource.NewController(e.rcConfig)
	}
	if e.blockCacheSize > 0 {
		e.blockCache = cache.NewShardedLRUBlockCache(e.blockCacheSize)
	}
	if e.cacheSize > 0 {
		e.results = cache.NewLRU[resultKey, []model.Hit](e.cacheSize, hitsCost)
	}

	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return ioError("create data directory", err)
	}
	lock, err := fs.LockDir(e.dir)
	if err != nil {
		return err
	}
	e.lock = lock

	e.store = blobstore.NewLocalStore(e.dir)
	e.manifests = manifest.NewStore(e.store)
	e.pk = pk.New()
	e.mvcc = &mvccController{}
	e.readers = newReaderPool(e.mvcc)

	if err := e.recover(e.ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	GoSafe(e.logger, e.runFlushLoop)
	if e.compactionInterval > 0 {
		e.wg.Add(1)
		GoSafe(e.logger, e.runCompactionLoop)
	}
	return nil
}

// GoSafe runs fn in a goroutine and logs instead of crashing on panic.
func GoSafe(logger *slog.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger == nil {
					fmt.Fprintf(os.Stderr, "panic in background task: %v\n%s\n", r, debug.Stack())
					return
				}
				logger.Error("Panic in background task", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Dir returns the data directory.
func (e *Engine) Dir() string { return e.dir }

// Analyzer returns the analyzer applied to text fields and query strings.
func (e *Engine) Analyzer() analysis.Analyzer { return e.analyzer }

// ResourceController returns the controller enforcing memory and IO limits.
func (e *Engine) ResourceController() *resource.Controller { return e.rc }

// BeginSnapshot pins the current version. The caller must DecRef it.
func (e *Engine) BeginSnapshot() (*Snapshot, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.mvcc.acquire()
}

// LiveSnapshots returns the reference count of every pinned version.
func (e *Engine) LiveSnapshots() map[model.Version]int64 {
	return e.mvcc.liveSnapshots()
}

// Readers returns the reader pool.
func (e *Engine) Readers() *ReaderPool { return e.readers }

// Close flushes the write buffer, stops the background loops and releases
// the directory lock.
func (e *Engine) Close() error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.cancel()
	e.wg.Wait()

	// The background loops are gone; seal what is left before refusing calls.
	flushErr := e.flush(context.Background())
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if flushErr != nil {
		e.logger.Error("Final flush failed", "error", flushErr)
	}

	e.implicitMu.Lock()
	e.commitMu.Lock()
	if e.implicit != nil {
		e.rc.ReleaseMemory(e.implicit.reserved)
		e.implicit = nil
	}
	e.commitMu.Unlock()
	e.implicitMu.Unlock()

	var walErr error
	if e.wal != nil {
		walErr = e.wal.Close()
	}
	e.readers.invalidate()
	e.mvcc.shutdown()
	e.release()

	e.logger.Info("Engine closed", "dir", e.dir)
	if flushErr != nil {
		return flushErr
	}
	return ioError("wal close", walErr)
}

// abort undoes a partial Open.
func (e *Engine) abort() {
	e.closed.Store(true)
	if e.wal != nil {
		_ = e.wal.Close()
	}
	if e.mvcc != nil {
		e.mvcc.shutdown()
	}
	e.release()
}

// release drops the directory lock.
func (e *Engine) release() {
	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil {
			e.logger.Warn("Failed to release directory lock", "error", err)
		}
		e.lock = nil
	}
}
