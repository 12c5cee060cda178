package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/textgo/internal/fs"
)

// Durability controls the durability guarantees of the WAL.
type Durability int

const (
	// DurabilityAsync relies on OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync fsyncs before Append returns, batching concurrent
	// appenders into one fsync.
	DurabilitySync
)

const (
	walMagic      = "TEXTGWAL" // 8 bytes
	walVersion    = 1          // 4 bytes
	walHeaderSize = 12

	filePrefix = "wal-"
	fileSuffix = ".log"
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
	ErrClosed              = errors.New("WAL closed")
)

// Options configures a WAL.
type Options struct {
	Durability Durability
	// MinSeq is the highest sequence number known to be durable elsewhere
	// (e.g. recorded in the manifest). New sequence numbers start above it.
	MinSeq uint64
	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{Durability: DurabilitySync}
}

// FileName returns the file name of generation gen.
func FileName(gen uint64) string {
	return fmt.Sprintf("%s%06d%s", filePrefix, gen, fileSuffix)
}

func parseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
	return id, err == nil
}

// generation describes one closed log file.
type generation struct {
	id     uint64
	path   string
	size   int64
	minSeq uint64 // 0 if empty
	maxSeq uint64
}

// WAL is a segmented write-ahead log. Records are appended to the current
// generation file; Rotate seals it and starts the next one.
type WAL struct {
	mu     sync.Mutex
	fs     fs.FileSystem
	dir    string
	opts   Options
	logger *slog.Logger

	sealed  []generation // closed generations, ascending
	replay  []generation // generations present at open, replayed by Replay
	cur     generation
	file    fs.File
	bw      *bufio.Writer
	nextSeq uint64
	buf     []byte

	// Group commit state. Offsets are logical: they grow across generations.
	written  int64
	synced   int64
	syncCond *sync.Cond // Signals the syncer that there is data to sync
	doneCond *sync.Cond // Signals waiters that a sync completed
	closed   bool
	lastErr  error // Sticky: once set the WAL refuses appends
	wg       sync.WaitGroup
}

// Open opens the WAL in dir. Existing generations are scanned and repaired:
// the first torn or corrupt record truncates its file and removes all later
// generations. Appends go to a fresh generation.
func Open(fsys fs.FileSystem, dir string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w := &WAL{
		fs:     fsys,
		dir:    dir,
		opts:   opts,
		logger: logger,
	}
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	gens, err := w.recover()
	if err != nil {
		return nil, err
	}
	w.sealed = gens
	w.replay = slices.Clone(gens)

	lastSeq := opts.MinSeq
	nextGen := uint64(1)
	for _, g := range gens {
		if g.maxSeq > lastSeq {
			lastSeq = g.maxSeq
		}
		nextGen = g.id + 1
	}
	w.nextSeq = lastSeq + 1

	if err := w.createGeneration(nextGen); err != nil {
		return nil, err
	}

	if opts.Durability == DurabilitySync {
		w.wg.Add(1)
		go w.runSyncer()
	}
	return w, nil
}

func (w *WAL) listGenerations() ([]generation, error) {
	entries, err := w.fs.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var gens []generation
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		gens = append(gens, generation{id: id, path: filepath.Join(w.dir, e.Name())})
	}
	slices.SortFunc(gens, func(a, b generation) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return gens, nil
}

// recover validates every generation, repairing the first damaged one.
func (w *WAL) recover() ([]generation, error) {
	gens, err := w.listGenerations()
	if err != nil {
		return nil, err
	}

	var prevSeq uint64
	for i := range gens {
		g := &gens[i]
		goodOffset, scanErr := w.scan(g, &prevSeq)
		if scanErr == nil {
			continue
		}

		w.logger.Warn("wal corruption detected, truncating tail",
			"file", g.path, "offset", goodOffset, "error", scanErr)

		if goodOffset < walHeaderSize {
			if err := w.fs.Remove(g.path); err != nil {
				return nil, err
			}
		} else if err := w.fs.Truncate(g.path, goodOffset); err != nil {
			return nil, err
		}
		g.size = goodOffset

		for _, later := range gens[i+1:] {
			w.logger.Warn("removing wal generation after corruption", "file", later.path)
			if err := w.fs.Remove(later.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
		if goodOffset < walHeaderSize {
			return gens[:i], nil
		}
		return gens[:i+1], nil
	}
	return gens, nil
}

// scan reads g, filling in its seq range and size. It returns the offset of
// the end of the last good record and a non-nil error if the file is damaged.
func (w *WAL) scan(g *generation, prevSeq *uint64) (int64, error) {
	f, err := w.fs.OpenFile(g.path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := readHeader(r); err != nil {
		return 0, err
	}

	offset := int64(walHeaderSize)
	for {
		rec, n, err := Decode(r)
		if errors.Is(err, io.EOF) {
			g.size = offset
			return offset, nil
		}
		if err != nil {
			return offset, err
		}
		if *prevSeq != 0 && rec.Seq != *prevSeq+1 {
			return offset, fmt.Errorf("%w: %d after %d", ErrSequenceGap, rec.Seq, *prevSeq)
		}
		*prevSeq = rec.Seq
		if g.minSeq == 0 {
			g.minSeq = rec.Seq
		}
		g.maxSeq = rec.Seq
		offset += n
	}
}

func readHeader(r io.Reader) error {
	var header [walHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if string(header[0:8]) != walMagic {
		return fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != walVersion {
		return fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, walVersion)
	}
	return nil
}

// createGeneration must be called with w.mu held (or before the WAL is shared).
func (w *WAL) createGeneration(id uint64) error {
	path := filepath.Join(w.dir, FileName(id))
	f, err := w.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	header := make([]byte, walHeaderSize)
	copy(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], uint32(walVersion))
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := fs.SyncDir(w.fs, w.dir); err != nil {
		_ = f.Close()
		return err
	}

	w.file = f
	w.bw = bufio.NewWriterSize(f, 64<<10)
	w.cur = generation{id: id, path: path, size: walHeaderSize}
	return nil
}

func (w *WAL) runSyncer() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for w.written <= w.synced && !w.closed {
			w.syncCond.Wait()
		}
		if w.closed && w.written <= w.synced {
			return
		}

		target := w.written
		f := w.file
		gen := w.cur.id

		w.mu.Unlock()
		err := f.Sync()
		w.mu.Lock()

		if w.cur.id != gen {
			// Rotate synced and closed this file already.
			continue
		}
		if err != nil {
			w.lastErr = fmt.Errorf("wal sync failed: %w", err)
			w.doneCond.Broadcast()
			return
		}
		if target > w.synced {
			w.synced = target
		}
		w.doneCond.Broadcast()
	}
}

// Append assigns the next sequence number to rec, writes it and, in
// DurabilitySync mode, waits until it is on stable storage.
func (w *WAL) Append(rec *Record) (uint64, error) {
	offset, err := w.AppendAsync(rec)
	if err != nil {
		return 0, err
	}
	if w.opts.Durability == DurabilitySync {
		if err := w.WaitFor(offset); err != nil {
			return 0, err
		}
	}
	return rec.Seq, nil
}

// AppendBatch writes recs with consecutive sequence numbers under one lock
// acquisition and waits for a single sync.
func (w *WAL) AppendBatch(recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	offset, err := w.appendLocked(recs)
	if err != nil {
		return err
	}
	if w.opts.Durability == DurabilitySync {
		return w.WaitFor(offset)
	}
	return nil
}

// AppendAsync writes rec to the current generation but does not wait for
// sync. It returns the logical offset of the end of the record.
func (w *WAL) AppendAsync(rec *Record) (int64, error) {
	return w.appendLocked([]*Record{rec})
}

func (w *WAL) appendLocked(recs []*Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.lastErr != nil {
		return 0, w.lastErr
	}

	w.buf = w.buf[:0]
	for _, rec := range recs {
		if len(rec.Payload) > MaxRecordSize {
			return 0, ErrRecordTooLarge
		}
	}
	for _, rec := range recs {
		rec.Seq = w.nextSeq
		w.nextSeq++
		w.buf = rec.AppendTo(w.buf)
		if w.cur.minSeq == 0 {
			w.cur.minSeq = rec.Seq
		}
		w.cur.maxSeq = rec.Seq
	}

	if _, err := w.bw.Write(w.buf); err != nil {
		w.lastErr = fmt.Errorf("wal write failed: %w", err)
		return 0, w.lastErr
	}
	if err := w.bw.Flush(); err != nil {
		w.lastErr = fmt.Errorf("wal write failed: %w", err)
		return 0, w.lastErr
	}
	w.written += int64(len(w.buf))
	w.cur.size += int64(len(w.buf))

	if w.opts.Durability == DurabilitySync {
		w.syncCond.Signal()
	}
	return w.written, nil
}

// WaitFor waits until the WAL is synced up to the given logical offset.
func (w *WAL) WaitFor(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.synced < offset && !w.closed && w.lastErr == nil {
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.closed && w.synced < offset {
		return ErrClosed
	}
	return nil
}

// Sync ensures all written records are on stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if w.lastErr != nil {
		return w.lastErr
	}
	if err := w.bw.Flush(); err != nil {
		w.lastErr = fmt.Errorf("wal write failed: %w", err)
		return w.lastErr
	}
	if err := w.file.Sync(); err != nil {
		w.lastErr = fmt.Errorf("wal sync failed: %w", err)
		w.doneCond.Broadcast()
		return w.lastErr
	}
	w.synced = w.written
	w.doneCond.Broadcast()
	return nil
}

// Rotate seals the current generation and starts a new one.
// It returns the last sequence number written to the sealed generation.
func (w *WAL) Rotate() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if err := w.syncLocked(); err != nil {
		return 0, err
	}
	if err := w.file.Close(); err != nil {
		w.lastErr = fmt.Errorf("wal close failed: %w", err)
		return 0, w.lastErr
	}
	sealed := w.cur
	w.sealed = append(w.sealed, sealed)
	if err := w.createGeneration(sealed.id + 1); err != nil {
		w.lastErr = fmt.Errorf("wal rotate failed: %w", err)
		return 0, w.lastErr
	}
	return w.nextSeq - 1, nil
}

// Truncate removes sealed generations whose every record has seq < upTo.
// The current generation is never removed.
func (w *WAL) Truncate(upTo uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	keep := w.sealed[:0]
	var firstErr error
	for _, g := range w.sealed {
		if g.maxSeq < upTo && firstErr == nil {
			if err := w.fs.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				firstErr = err
				keep = append(keep, g)
				continue
			}
			w.logger.Debug("wal generation removed", "file", g.path, "maxSeq", g.maxSeq)
			continue
		}
		keep = append(keep, g)
	}
	w.sealed = keep
	return firstErr
}

// Replay calls fn for every record present when the WAL was opened, in
// sequence order. Records appended since Open are not visited.
func (w *WAL) Replay(fn func(*Record) error) error {
	w.mu.Lock()
	gens := slices.Clone(w.replay)
	w.mu.Unlock()

	for _, g := range gens {
		if err := w.replayFile(g, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *WAL) replayFile(g generation, fn func(*Record) error) error {
	f, err := w.fs.OpenFile(g.path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(io.LimitReader(f, g.size))
	if err := readHeader(r); err != nil {
		return err
	}
	for {
		rec, _, err := Decode(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// LastSeq returns the last assigned sequence number.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq - 1
}

// Size returns the total size of all live generations in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := w.cur.size
	for _, g := range w.sealed {
		total += g.size
	}
	return total
}

// Generations returns the number of live generation files.
func (w *WAL) Generations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sealed) + 1
}

// Err returns the sticky error, if any.
func (w *WAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Close flushes, syncs and closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	syncErr := w.syncLocked()
	w.closed = true
	w.syncCond.Signal()
	w.doneCond.Broadcast()
	w.mu.Unlock()

	w.wg.Wait()

	closeErr := w.file.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
