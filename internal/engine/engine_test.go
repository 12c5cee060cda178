package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/internal/fs"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/internal/wal"
	"github.com/hupe1980/textgo/model"
	"github.com/hupe1980/textgo/query"
)

func openTest(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithAnalyzer(analysis.Simple()),
		WithCompactionInterval(0),
	}
	e, err := Open(dir, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

// crash stops e without flushing, as if the process died after the last
// WAL sync.
func crash(t *testing.T, e *Engine) {
	t.Helper()
	e.cancel()
	e.wg.Wait()
	e.closed.Store(true)
	if e.wal != nil {
		require.NoError(t, e.wal.Close())
	}
	e.mvcc.shutdown()
	e.release()
}

func doc(id model.DocID, body string) *model.Document {
	return model.NewDocument(id).Text("body", body).Build()
}

func hitIDs(hits []model.Hit) []model.DocID {
	out := make([]model.DocID, len(hits))
	for i, h := range hits {
		out[i] = h.DocID
	}
	return out
}

func search(t *testing.T, e *Engine, q *query.Query) []model.DocID {
	t.Helper()
	hits, err := e.Search(context.Background(), q, SearchOptions{})
	require.NoError(t, err)
	return hitIDs(hits)
}

func TestEngine_InsertCommitSearch(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "hello world")))
	require.NoError(t, e.Insert(doc(2, "hello there")))

	// Implicit writes stay invisible until Commit.
	assert.Empty(t, search(t, e, query.Term("", "hello")))

	require.NoError(t, e.Commit())
	assert.ElementsMatch(t, []model.DocID{1, 2}, search(t, e, query.Term("", "hello")))
	assert.Equal(t, []model.DocID{1}, search(t, e, query.Term("body", "world")))
	assert.Equal(t, []model.DocID{2}, search(t, e, query.And(query.Term("", "hello"), query.Not(query.Term("", "world")))))

	got, err := e.Get(1)
	require.NoError(t, err)
	v, ok := got.Get("body")
	require.True(t, ok)
	assert.Equal(t, "hello world", v.String())

	_, err = e.Get(3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_UpsertReplacesDocument(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "old text")))
	require.NoError(t, e.Commit())
	require.NoError(t, e.Insert(doc(1, "new text")))
	require.NoError(t, e.Commit())

	assert.Empty(t, search(t, e, query.Term("", "old")))
	assert.Equal(t, []model.DocID{1}, search(t, e, query.Term("", "new")))

	snap, err := e.BeginSnapshot()
	require.NoError(t, err)
	defer snap.DecRef()
	assert.Equal(t, int64(1), snap.Totals().Docs)
}

func TestEngine_SearchString(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "quick brown fox")))
	require.NoError(t, e.Insert(doc(2, "quick red fox")))
	require.NoError(t, e.Insert(doc(3, "lazy dog")))
	require.NoError(t, e.Commit())

	hits, err := e.SearchString(context.Background(), "quick -red", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{1}, hitIDs(hits))

	hits, err = e.SearchString(context.Background(), "bro* OR dog", SearchOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.DocID{1, 3}, hitIDs(hits))

	_, err = e.SearchString(context.Background(), "NOT fox", SearchOptions{})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestEngine_InvalidSearch(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	_, err := e.Search(context.Background(), query.Not(query.Term("", "x")), SearchOptions{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = e.Search(context.Background(), query.Term("", "x"), SearchOptions{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.ErrorIs(t, e.Insert(nil), ErrInvalidArgument)
}

func TestEngine_RankingAndLimit(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "apple")))
	require.NoError(t, e.Insert(doc(2, "apple apple apple banana")))
	require.NoError(t, e.Insert(doc(3, "apple banana cherry date elder fig grape")))
	require.NoError(t, e.Insert(doc(4, "banana")))
	require.NoError(t, e.Commit())

	hits, err := e.Search(context.Background(), query.Term("", "apple"), SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.NotContains(t, hitIDs(hits), model.DocID(3), "the longest document ranks last")

	all, err := e.Search(context.Background(), query.Term("", "apple"), SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, hits, all[:2])
}

func TestEngine_ResultCache(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "cached")))
	require.NoError(t, e.Commit())

	q := query.Term("", "cached")
	first := search(t, e, q)
	second := search(t, e, q)
	assert.Equal(t, first, second)

	hits, _ := e.results.Stats()
	assert.Equal(t, int64(1), hits)

	// A new version misses the cache.
	require.NoError(t, e.Insert(doc(2, "cached")))
	require.NoError(t, e.Commit())
	assert.Len(t, search(t, e, q), 2)
}

func TestEngine_ResultCacheDistinguishesQueries(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "hello world")))
	require.NoError(t, e.Commit())

	pairs := []struct {
		name        string
		first, then *query.Query
		want        []model.DocID
	}{
		{
			name:  "field in term text",
			first: query.Term("", "body:hello"),
			then:  query.Term("body", "hello"),
			want:  []model.DocID{1},
		},
		{
			name:  "star in term text",
			first: query.Term("", "hel*"),
			then:  query.Prefix("", "hel"),
			want:  []model.DocID{1},
		},
		{
			name:  "operators in term text",
			first: query.Term("", "(hello AND world)"),
			then:  query.And(query.Term("", "hello"), query.Term("", "world")),
			want:  []model.DocID{1},
		},
	}
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.first.String(), tt.then.String())
			assert.Empty(t, search(t, e, tt.first))
			assert.Equal(t, tt.want, search(t, e, tt.then))
		})
	}
}

func TestEngine_DeleteSnapshotIsolation(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "kept")))
	require.NoError(t, e.Insert(doc(2, "gone")))
	require.NoError(t, e.Commit())

	snap, err := e.BeginSnapshot()
	require.NoError(t, err)

	require.NoError(t, e.Delete(2))
	require.NoError(t, e.Commit())

	_, err = e.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, search(t, e, query.Term("", "gone")))

	old, err := e.getAt(snap, 2)
	require.NoError(t, err)
	assert.Equal(t, model.DocID(2), old.ID)

	snap.IncRef()
	r := newReader(nil, snap)
	hits, err := e.execute(context.Background(), r, nil, query.Term("", "gone"), SearchOptions{})
	r.Release()
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{2}, hitIDs(hits))

	live := e.LiveSnapshots()
	assert.Contains(t, live, snap.Version())
	snap.DecRef()
	assert.NotContains(t, e.LiveSnapshots(), snap.Version())
}

func TestEngine_DeleteAfterFlushSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	require.NoError(t, e.Insert(doc(1, "alpha")))
	require.NoError(t, e.Insert(doc(2, "alpha")))
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())

	require.NoError(t, e.Delete(1))
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())

	_, err := os.Stat(filepath.Join(dir, segment.TombstoneFileName(1)))
	require.NoError(t, err, "tombstone sidecar written")
	require.NoError(t, e.Close())

	e = openTest(t, dir)
	defer e.Close()
	assert.Equal(t, []model.DocID{2}, search(t, e, query.Term("", "alpha")))
}

func TestEngine_ReopenAfterClose(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)
	for i := 1; i <= 20; i++ {
		require.NoError(t, e.Insert(doc(model.DocID(i), fmt.Sprintf("doc number%d", i))))
	}
	require.NoError(t, e.Commit())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Close(), ErrClosed)

	e = openTest(t, dir)
	defer e.Close()
	assert.Len(t, search(t, e, query.Term("", "doc")), 20)
	assert.Equal(t, []model.DocID{7}, search(t, e, query.Term("", "number7")))

	_, err := os.Stat(filepath.Join(dir, segment.DirName(1)))
	assert.NoError(t, err)
}

func TestEngine_CrashRecovery(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	require.NoError(t, e.Insert(doc(1, "committed")))
	require.NoError(t, e.Insert(doc(2, "committed")))
	require.NoError(t, e.Commit())

	tx, err := e.Begin(RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(doc(3, "transactional")))
	require.NoError(t, tx.Delete(1))
	require.NoError(t, tx.Commit())

	rolled, err := e.Begin(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, rolled.Insert(doc(4, "rolled")))
	require.NoError(t, rolled.Rollback())

	// Pending implicit writes are not committed.
	require.NoError(t, e.Insert(doc(5, "pending")))
	crash(t, e)

	e = openTest(t, dir)
	defer e.Close()

	assert.Equal(t, []model.DocID{2}, search(t, e, query.Term("", "committed")))
	assert.Equal(t, []model.DocID{3}, search(t, e, query.Term("", "transactional")))
	assert.Empty(t, search(t, e, query.Term("", "rolled")))
	assert.Empty(t, search(t, e, query.Term("", "pending")))

	// Transaction IDs continue after the replayed ones.
	next, err := e.Begin(ReadCommitted)
	require.NoError(t, err)
	assert.Greater(t, next.ID(), tx.ID())
	require.NoError(t, next.Rollback())
}

func TestEngine_FlushTruncatesWAL(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	for i := 1; i <= 10; i++ {
		require.NoError(t, e.Insert(doc(model.DocID(i), "durable")))
	}
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())
	assert.Equal(t, 1, e.wal.Generations())

	require.NoError(t, e.Insert(doc(11, "durable")))
	require.NoError(t, e.Commit())
	crash(t, e)

	e = openTest(t, dir)
	defer e.Close()
	assert.Len(t, search(t, e, query.Term("", "durable")), 11)
	assert.Positive(t, e.manifest.LastFlushedSeq)
}

func TestEngine_WithoutWAL(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir, WithWAL(false))

	require.NoError(t, e.Insert(doc(1, "flushed")))
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())
	require.NoError(t, e.Insert(doc(2, "volatile")))
	require.NoError(t, e.Commit())
	crash(t, e)

	e = openTest(t, dir, WithWAL(false))
	defer e.Close()
	assert.Equal(t, []model.DocID{1}, search(t, e, query.Term("", "flushed")))
	assert.Empty(t, search(t, e, query.Term("", "volatile")))
}

func TestEngine_MergeKeepsOldSnapshotsReadable(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)
	defer e.Close()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, e.Insert(doc(model.DocID(i), "alpha")))
	}
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())
	for i := 5; i <= 8; i++ {
		require.NoError(t, e.Insert(doc(model.DocID(i), "alpha")))
	}
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())
	require.NoError(t, e.Delete(2))
	require.NoError(t, e.Commit())

	snap, err := e.BeginSnapshot()
	require.NoError(t, err)

	require.NoError(t, e.ForceMerge(ctx))
	// A delete after the merge snapshot lands on the merged segment.
	require.NoError(t, e.Delete(7))
	require.NoError(t, e.Commit())

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.SegmentCount)
	assert.Equal(t, uint32(7), st.Segments[0].Docs, "deleted document dropped by the merge")
	assert.Equal(t, int64(6), st.LiveDocs)
	assert.Len(t, search(t, e, query.Term("", "alpha")), 6)

	// The old snapshot still reads the input segments.
	d, err := e.getAt(snap, 5)
	require.NoError(t, err)
	assert.Equal(t, model.DocID(5), d.ID)
	_, err = e.getAt(snap, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.getAt(snap, 7)
	assert.NoError(t, err)

	assert.DirExists(t, filepath.Join(dir, segment.DirName(1)))
	snap.DecRef()
	assert.NoDirExists(t, filepath.Join(dir, segment.DirName(1)))
	assert.NoDirExists(t, filepath.Join(dir, segment.DirName(2)))

	// A lone segment with deletions is rewritten without them.
	require.NoError(t, e.ForceMerge(ctx))
	st, err = e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.SegmentCount)
	assert.Equal(t, uint32(6), st.Segments[0].Docs)
	assert.Zero(t, st.DeletedDocs)
}

func TestEngine_MergeSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	for round := 0; round < 3; round++ {
		for i := 1; i <= 5; i++ {
			id := model.DocID(round*5 + i)
			require.NoError(t, e.Insert(doc(id, fmt.Sprintf("round%d shared", round))))
		}
		require.NoError(t, e.Commit())
		require.NoError(t, e.Flush())
	}
	require.NoError(t, e.Delete(3))
	require.NoError(t, e.Commit())
	require.NoError(t, e.ForceMerge(context.Background()))
	require.NoError(t, e.Close())

	e = openTest(t, dir)
	defer e.Close()
	assert.Len(t, search(t, e, query.Term("", "shared")), 14)
	assert.Len(t, search(t, e, query.Term("", "round1")), 5)
	_, err := e.Get(3)
	assert.ErrorIs(t, err, ErrNotFound)
}

const (
	concWriters   = 5
	concTxPerW    = 20
	concDocsPerTx = 100
)

// runConcurrentWriters commits concWriters*concTxPerW transactions of
// concDocsPerTx inserts each from concurrent goroutines.
func runConcurrentWriters(t *testing.T, e *Engine) {
	t.Helper()
	var wg sync.WaitGroup
	for w := 0; w < concWriters; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < concTxPerW; i++ {
				err := e.WithTransaction(context.Background(), ReadCommitted, func(tx *Tx) error {
					for j := 0; j < concDocsPerTx; j++ {
						id := model.DocID(w*concTxPerW*concDocsPerTx + i*concDocsPerTx + j + 1)
						if err := tx.Insert(doc(id, fmt.Sprintf("common writer%d", w))); err != nil {
							return err
						}
					}
					return nil
				})
				if !assert.NoError(t, err) {
					return
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestEngine_ConcurrentTransactions(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir, WithMemtableFlushBytes(256<<10))

	runConcurrentWriters(t, e)

	const total = concWriters * concTxPerW * concDocsPerTx
	assert.Len(t, search(t, e, query.Term("", "common")), total)
	assert.Len(t, search(t, e, query.Term("", "writer3")), concTxPerW*concDocsPerTx)
	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(total), st.LiveDocs)
	require.NoError(t, e.Close())

	e = openTest(t, dir)
	defer e.Close()
	assert.Len(t, search(t, e, query.Term("", "common")), total)
}

func TestEngine_ConcurrentTransactionsWALSequence(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir, WithDurability(wal.DurabilitySync))
	defer e.Close()

	runConcurrentWriters(t, e)

	// No flush ran, so the first generation holds every record. Replay a
	// copy while the engine keeps the original open.
	data, err := os.ReadFile(filepath.Join(dir, wal.FileName(1)))
	require.NoError(t, err)
	cp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cp, wal.FileName(1)), data, 0o644))

	w, err := wal.Open(nil, cp, wal.DefaultOptions())
	require.NoError(t, err)
	defer w.Close()

	var (
		inserts, commits int
		next             = uint64(1)
		perTx            = make(map[uint64]int)
	)
	require.NoError(t, w.Replay(func(r *wal.Record) error {
		assert.Equal(t, next, r.Seq, "sequence numbers are unique and gap-free")
		next = r.Seq + 1
		switch r.Kind {
		case wal.KindInsert:
			inserts++
			perTx[r.TxID]++
		case wal.KindCommit:
			commits++
		}
		return nil
	}))

	assert.Equal(t, concWriters*concTxPerW*concDocsPerTx, inserts)
	assert.Equal(t, concWriters*concTxPerW, commits)
	assert.Len(t, perTx, concWriters*concTxPerW)
	for tx, n := range perTx {
		assert.Equal(t, concDocsPerTx, n, "tx %d", tx)
	}
}

func TestEngine_CorruptSegmentFailsOpen(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)
	require.NoError(t, e.Insert(doc(1, "fragile")))
	require.NoError(t, e.Commit())
	require.NoError(t, e.Close())

	path := filepath.Join(dir, segment.DirName(1), segment.MetaFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(dir, WithCompactionInterval(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	// The lock was released by the failed Open.
	lock, err := fs.LockDir(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestEngine_RemovesOrphanSegments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, segment.DirName(42)+".tmp"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, segment.DirName(43)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, segment.TombstoneFileName(43)), []byte("x"), 0o644))

	e := openTest(t, dir)
	defer e.Close()

	assert.NoDirExists(t, filepath.Join(dir, segment.DirName(42)+".tmp"))
	assert.NoDirExists(t, filepath.Join(dir, segment.DirName(43)))
	assert.NoFileExists(t, filepath.Join(dir, segment.TombstoneFileName(43)))
}

func TestEngine_DirectoryLock(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	_, err := Open(dir)
	assert.ErrorIs(t, err, fs.ErrLocked)

	require.NoError(t, e.Close())
	e2 := openTest(t, dir)
	require.NoError(t, e2.Close())
}

func TestEngine_CapacityExceeded(t *testing.T) {
	e := openTest(t, t.TempDir(), WithMemoryLimit(64))
	defer e.Close()

	err := e.Insert(doc(1, "this document is larger than the whole write buffer budget"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestEngine_ClosedOperations(t *testing.T) {
	e := openTest(t, t.TempDir())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Insert(doc(1, "x")), ErrClosed)
	assert.ErrorIs(t, e.Delete(1), ErrClosed)
	_, err := e.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Search(context.Background(), query.Term("", "x"), SearchOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Begin(ReadCommitted)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.Flush(), ErrClosed)
}

func TestEngine_StatsAndHealth(t *testing.T) {
	obs := &BasicMetricsObserver{}
	e := openTest(t, t.TempDir(), WithMetricsObserver(obs))
	defer e.Close()

	require.NoError(t, e.Insert(doc(1, "one")))
	require.NoError(t, e.Insert(doc(2, "two")))
	require.NoError(t, e.Commit())
	require.NoError(t, e.Flush())
	require.NoError(t, e.Insert(doc(3, "three")))
	require.NoError(t, e.Delete(1))
	require.NoError(t, e.Commit())

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.LiveDocs)
	assert.Equal(t, int64(1), st.DeletedDocs)
	assert.Equal(t, 1, st.SegmentCount)
	assert.Equal(t, uint32(1), st.BufferDocs)
	assert.Positive(t, st.WALBytes)
	assert.False(t, st.LastFlush.IsZero())
	assert.False(t, st.LastCommit.IsZero())

	assert.Equal(t, int64(3), obs.Inserts.Load())
	assert.Equal(t, int64(1), obs.Flushes.Load())
	assert.Equal(t, int64(2), obs.FlushedDocs.Load())

	report := e.HealthCheck()
	assert.Equal(t, Healthy, report.Status)
	names := make([]string, 0, len(report.Checks))
	for _, c := range report.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"WAL", "ReaderPool", "Memory", "Compaction", "QueryCache"}, names)
}

func TestEngine_HealthWithoutWALIsDegraded(t *testing.T) {
	e := openTest(t, t.TempDir(), WithWAL(false))
	defer e.Close()
	assert.Equal(t, Degraded, e.HealthCheck().Status)
}

func TestEngine_Backup(t *testing.T) {
	e := openTest(t, t.TempDir())

	for i := 1; i <= 5; i++ {
		require.NoError(t, e.Insert(doc(model.DocID(i), "backed up")))
	}
	require.NoError(t, e.Commit())
	require.NoError(t, e.Delete(4))
	require.NoError(t, e.Commit())

	target := t.TempDir()
	info, err := e.Backup(context.Background(), blobstore.NewLocalStore(target))
	require.NoError(t, err)
	assert.Equal(t, 1, info.Segments)
	assert.Positive(t, info.Bytes)
	require.NoError(t, e.Close())

	restored := openTest(t, target)
	defer restored.Close()
	assert.Len(t, search(t, restored, query.Term("", "backed")), 4)
	_, err = restored.Get(4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_ErrorsAreClassified(t *testing.T) {
	err := ioError("write", errors.New("disk full"))
	assert.ErrorIs(t, err, ErrIO)
	assert.Same(t, err, ioError("again", err))

	var ce *ConflictError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", &ConflictError{DocID: 9}), &ce)
	assert.Equal(t, model.DocID(9), ce.DocID)
	assert.ErrorIs(t, ce, ErrConflict)
}
