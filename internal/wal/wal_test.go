package wal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/textgo/internal/fs"
)

func collect(t *testing.T, w *WAL) []*Record {
	t.Helper()
	var out []*Record
	require.NoError(t, w.Replay(func(r *Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestWAL_AppendReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)

	seq, err := w.Append(InsertRecord(1, []byte("doc-1")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = w.Append(DeleteRecord(1, 42))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	require.NoError(t, w.AppendBatch([]*Record{CommitRecord(1), AbortRecord(2)}))
	assert.Equal(t, uint64(4), w.LastSeq())
	assert.Greater(t, w.Size(), int64(walHeaderSize))
	require.NoError(t, w.Close())

	w2, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()

	recs := collect(t, w2)
	require.Len(t, recs, 4)
	assert.Equal(t, KindInsert, recs[0].Kind)
	assert.Equal(t, []byte("doc-1"), recs[0].Payload)
	id, ok := recs[1].DocID()
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, KindCommit, recs[2].Kind)
	assert.Equal(t, KindAbort, recs[3].Kind)
	assert.Equal(t, uint64(2), recs[3].TxID)

	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Seq)
	}

	// New appends continue the sequence.
	seq, err = w2.Append(CommitRecord(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
}

func TestWAL_TornTail(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(InsertRecord(1, []byte("payload")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := filepath.Join(dir, FileName(1))
	info, err := os.Stat(path)
	require.NoError(t, err)
	// Cut the last record in half.
	require.NoError(t, os.Truncate(path, info.Size()-5))

	w2, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()

	recs := collect(t, w2)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[1].Seq)

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(walHeaderSize+2*(frameSize+len("payload"))), info.Size())

	seq, err := w2.Append(CommitRecord(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq, "sequence stays gap-free after repair")
}

func TestWAL_CorruptionRemovesLaterGenerations(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	_, err = w.Append(InsertRecord(1, []byte("a")))
	require.NoError(t, err)
	_, err = w.Append(InsertRecord(1, []byte("b")))
	require.NoError(t, err)
	_, err = w.Rotate()
	require.NoError(t, err)
	_, err = w.Append(InsertRecord(1, []byte("c")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a payload byte of the second record in generation 1.
	path := filepath.Join(dir, FileName(1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w2, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()

	recs := collect(t, w2)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("a"), recs[0].Payload)

	// Generation 2 was discarded and recreated empty for new appends.
	info, err := os.Stat(filepath.Join(dir, FileName(2)))
	require.NoError(t, err)
	assert.Equal(t, int64(walHeaderSize), info.Size())
}

func TestWAL_RotateTruncate(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(InsertRecord(1, []byte("a")))
	require.NoError(t, err)
	last, err := w.Rotate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)

	_, err = w.Append(InsertRecord(2, []byte("b")))
	require.NoError(t, err)
	_, err = w.Rotate()
	require.NoError(t, err)
	assert.Equal(t, 3, w.Generations())

	// Generation 2 holds seq 2, so only generation 1 goes.
	require.NoError(t, w.Truncate(2))
	assert.Equal(t, 2, w.Generations())
	_, err = os.Stat(filepath.Join(dir, FileName(1)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, FileName(2)))
	assert.NoError(t, err)

	require.NoError(t, w.Truncate(100))
	assert.Equal(t, 1, w.Generations())
}

func TestWAL_MinSeq(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(nil, dir, Options{Durability: DurabilityAsync, MinSeq: 41})
	require.NoError(t, err)
	defer w.Close()

	seq, err := w.Append(CommitRecord(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
	require.NoError(t, w.Sync())
}

func TestWAL_GroupCommitConcurrency(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)

	const writers, perWriter = 20, 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]struct{})
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(tx uint64) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				seq, err := w.Append(InsertRecord(tx, []byte("x")))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[seq] = struct{}{}
				mu.Unlock()
			}
		}(uint64(i))
	}
	wg.Wait()
	require.NoError(t, w.Close())
	assert.Len(t, seen, writers*perWriter)

	w2, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()
	recs := collect(t, w2)
	require.Len(t, recs, writers*perWriter)
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Seq)
	}
}

func TestWAL_StickyError(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)

	w, err := Open(ffs, dir, DefaultOptions())
	require.NoError(t, err)

	// Faults apply to files opened after the rule, so rotate into a faulty generation.
	ffs.AddRule(FileName(2), fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	_, err = w.Rotate()
	require.Error(t, err, "new generation header sync fails")

	_, err = w.Append(CommitRecord(1))
	assert.Error(t, err)
	assert.Error(t, w.Err())
	_ = w.Close()
}

func TestWAL_WriteFailureIsSticky(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(".log", fs.Fault{FailAfterBytes: walHeaderSize + 10})

	w, err := Open(ffs, dir, Options{Durability: DurabilityAsync})
	require.NoError(t, err)

	_, err = w.Append(InsertRecord(1, []byte("0123456789abcdef")))
	require.Error(t, err)

	_, err = w.Append(CommitRecord(1))
	require.Error(t, err)
	_ = w.Close()

	// The torn record is dropped on reopen.
	w2, err := Open(nil, dir, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()
	assert.Empty(t, collect(t, w2))
}
