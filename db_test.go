package textgo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/model"
	"github.com/hupe1980/textgo/query"
)

func openDB(t *testing.T, dir string, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{
		WithAnalyzer(analysis.Simple()),
		WithCompactionInterval(0),
	}, opts...)
	db, err := Open(dir, opts...)
	require.NoError(t, err)
	return db
}

func ids(hits []Hit) []DocID {
	out := make([]DocID, len(hits))
	for i, h := range hits {
		out[i] = h.DocID
	}
	return out
}

func TestDB_InsertSearchReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db := openDB(t, dir)

	require.NoError(t, db.Insert(ctx, model.NewDocument(1).Text("body", "the quick brown fox").Build()))
	require.NoError(t, db.Insert(ctx, model.NewDocument(2).Text("body", "the lazy dog").Build()))
	require.NoError(t, db.Insert(ctx, model.NewDocument(3).Text("body", "quick quick dog").Build()))

	hits, err := db.SearchString(ctx, "quick", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits, "uncommitted writes are invisible")

	require.NoError(t, db.Commit())
	hits, err = db.SearchString(ctx, "quick", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []DocID{3, 1}, ids(hits))

	hits, err = db.Search(ctx, query.And(query.Term("body", "dog"), query.Not(query.Term("body", "lazy"))), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []DocID{3}, ids(hits))

	require.NoError(t, db.Delete(ctx, 3))
	require.NoError(t, db.Flush(ctx))
	require.NoError(t, db.Close())

	db = openDB(t, dir)
	defer db.Close()

	_, err = db.Get(3)
	assert.ErrorIs(t, err, ErrNotFound)
	doc, err := db.Get(1)
	require.NoError(t, err)
	v, ok := doc.Get("body")
	require.True(t, ok)
	assert.Equal(t, "the quick brown fox", v.String())

	hits, err = db.SearchString(ctx, "dog", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []DocID{2}, ids(hits))
}

func TestDB_Transactions(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	defer db.Close()

	require.NoError(t, db.WithTransaction(ctx, RepeatableRead, func(tx *Tx) error {
		if err := tx.Insert(model.NewDocument(1).Text("body", "alpha").Build()); err != nil {
			return err
		}
		hits, err := tx.SearchString(ctx, "alpha", SearchOptions{})
		if err != nil {
			return err
		}
		assert.Equal(t, []DocID{1}, ids(hits), "a transaction reads its own writes")
		return nil
	}))

	t1, err := db.Begin(Serializable)
	require.NoError(t, err)
	t2, err := db.Begin(Serializable)
	require.NoError(t, err)

	require.NoError(t, t1.Delete(1))
	require.NoError(t, t2.Insert(model.NewDocument(1).Text("body", "beta").Build()))
	require.NoError(t, t1.Commit())

	err = t2.Commit()
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, DocID(1), ce.DocID)
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, t2.Rollback(), ErrTxDone)

	_, err = t1.SearchString(ctx, "(", SearchOptions{})
	var qe *InvalidQueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "(", qe.Query)
}

func TestDB_InvalidQuery(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	defer db.Close()

	for _, s := range []string{"", "NOT a", "a OR", "(a"} {
		_, err := db.SearchString(ctx, s, SearchOptions{})
		var qe *InvalidQueryError
		if assert.ErrorAs(t, err, &qe, s) {
			assert.Equal(t, s, qe.Query)
		}
		assert.ErrorIs(t, err, ErrInvalidQuery)
	}
}

func TestDB_CapacityError(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir(), WithMemoryLimit(64))
	defer db.Close()

	err := db.Insert(ctx, model.NewDocument(1).Text("body", "a document that is far larger than sixty four bytes of buffer").Build())
	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestDB_StatsHealthBackup(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetricsObserver{}
	db := openDB(t, t.TempDir(), WithMetricsObserver(m))
	defer db.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Insert(ctx, model.NewDocument(DocID(i)).Text("body", "backup me").Build()))
	}
	require.NoError(t, db.Flush(ctx))

	st, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.LiveDocs)
	assert.Equal(t, 1, st.SegmentCount)
	assert.Equal(t, int64(5), m.Inserts.Load())

	report := db.HealthCheck()
	assert.Equal(t, Healthy, report.Status)

	dst := blobstore.NewMemoryStore()
	info, err := db.Backup(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Segments)
	assert.Positive(t, info.Files)

	restoreDir := t.TempDir()
	restore := blobstore.NewLocalStore(restoreDir)
	names, err := dst.List(ctx, "")
	require.NoError(t, err)
	for _, name := range names {
		data, err := blobstore.ReadAll(ctx, dst, name)
		require.NoError(t, err)
		require.NoError(t, restore.Put(ctx, name, data))
	}

	restored := openDB(t, restoreDir)
	defer restored.Close()
	hits, err := restored.SearchString(ctx, "backup", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 5)
}

func TestDB_Closed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Close(), ErrClosed)
	assert.ErrorIs(t, db.Insert(ctx, model.NewDocument(1).Build()), ErrClosed)
	_, err := db.SearchString(ctx, "a", SearchOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDB_ContextCanceled(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.Insert(ctx, model.NewDocument(1).Text("body", "x").Build())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDB_DirectoryLocked(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	defer db.Close()

	_, err := Open(dir)
	assert.Error(t, err)
}
