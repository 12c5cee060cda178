package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/cache"
	"github.com/hupe1980/textgo/internal/fs"
	"github.com/hupe1980/textgo/model"
)

// testSource is a minimal in-memory Source.
type testSource struct {
	id       model.SegmentID
	docs     []*model.Document
	postings map[string]*PostingList
	lengths  map[string][]uint32
}

func newTestSource(id model.SegmentID, docs ...*model.Document) *testSource {
	s := &testSource{
		id:       id,
		docs:     docs,
		postings: make(map[string]*PostingList),
		lengths:  make(map[string][]uint32),
	}
	a := analysis.Default()
	for ord, d := range docs {
		for _, f := range d.Fields {
			text, ok := f.Value.StringValue()
			if !ok {
				continue
			}
			if s.lengths[f.Name] == nil {
				s.lengths[f.Name] = make([]uint32, len(docs))
			}
			toks := a.Analyze(text)
			s.lengths[f.Name][ord] += uint32(len(toks))
			for _, tok := range toks {
				k := Key(f.Name, tok.Term)
				p := s.postings[k]
				if p == nil {
					p = &PostingList{}
					s.postings[k] = p
				}
				last := len(p.Ordinals) - 1
				if last < 0 || p.Ordinals[last] != uint32(ord) {
					p.Ordinals = append(p.Ordinals, uint32(ord))
					p.Freqs = append(p.Freqs, 0)
					p.Positions = append(p.Positions, nil)
					last++
				}
				p.Freqs[last]++
				p.Positions[last] = append(p.Positions[last], tok.Position)
			}
		}
	}
	return s
}

func (s *testSource) ID() model.SegmentID                          { return s.id }
func (s *testSource) Len() uint32                                  { return uint32(len(s.docs)) }
func (s *testSource) DocID(ord uint32) model.DocID                 { return s.docs[ord].ID }
func (s *testSource) Document(ord uint32) (*model.Document, error) { return s.docs[ord], nil }
func (s *testSource) Size() int64                                  { return int64(len(s.docs)) * 100 }

func (s *testSource) FieldLength(field string, ord uint32) uint32 {
	if l, ok := s.lengths[field]; ok {
		return l[ord]
	}
	return 0
}

func (s *testSource) Fields() []string {
	out := make([]string, 0, len(s.lengths))
	for f := range s.lengths {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (s *testSource) Keys() []string {
	out := make([]string, 0, len(s.postings))
	for k := range s.postings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *testSource) Postings(key string, positions bool) (*PostingList, error) {
	p, ok := s.postings[key]
	if !ok {
		return nil, nil
	}
	if positions {
		return p, nil
	}
	return &PostingList{Ordinals: p.Ordinals, Freqs: p.Freqs}, nil
}

func (s *testSource) Terms(field, prefix string, limit int) []string {
	return termsWithPrefix(s.Keys(), field, prefix, limit)
}

func makeDocs(n int, base model.DocID) []*model.Document {
	words := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	docs := make([]*model.Document, n)
	for i := range docs {
		docs[i] = model.NewDocument(base+model.DocID(i)).
			Text("body", fmt.Sprintf("%s %s common", words[i%len(words)], words[(i+1)%len(words)])).
			Number("rank", float64(i)).
			Bool("even", i%2 == 0).
			Build()
	}
	return docs
}

func writeSegment(t *testing.T, dir string, src Source, c codec.Codec) *Info {
	t.Helper()
	info, err := Write(context.Background(), nil, dir, src.ID(), src, WriteOptions{Codec: c})
	require.NoError(t, err)
	return info
}

func TestKey(t *testing.T) {
	k := Key("title", "go")
	f, term := SplitKey(k)
	assert.Equal(t, "title", f)
	assert.Equal(t, "go", term)
}

func TestPostingsRoundTrip(t *testing.T) {
	p := &PostingList{
		Ordinals:  []uint32{0, 3, 4, 1000},
		Freqs:     []uint32{1, 2, 1, 3},
		Positions: [][]uint32{{0}, {1, 7}, {2}, {0, 5, 9}},
	}
	data := AppendPostings(nil, p)

	got, err := DecodePostings(data, true)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("postings mismatch (-want +got):\n%s", diff)
	}

	noPos, err := DecodePostings(data, false)
	require.NoError(t, err)
	assert.Nil(t, noPos.Positions)
	assert.Equal(t, p.Ordinals, noPos.Ordinals)
	assert.Equal(t, uint32(2), noPos.Freq(3))
	assert.Equal(t, uint32(0), noPos.Freq(2))

	for i := 0; i < len(data); i++ {
		_, err := DecodePostings(data[:i], false)
		assert.ErrorIs(t, err, ErrCorrupt, "prefix %d", i)
	}
	_, err = DecodePostings(append(data, 0), false)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestWriteOpen(t *testing.T) {
	for _, c := range []codec.Codec{codec.None{}, codec.LZ4{}, codec.Zstd{}, codec.S2{}} {
		t.Run(c.Name(), func(t *testing.T) {
			dir := t.TempDir()
			src := newTestSource(7, makeDocs(40, 100)...)
			info := writeSegment(t, dir, src, c)
			assert.Equal(t, uint32(40), info.DocCount)
			assert.Equal(t, "seg_000007", info.Path)

			_, err := os.Stat(filepath.Join(dir, "seg_000007.tmp"))
			assert.True(t, os.IsNotExist(err))

			bc := cache.NewLRUBlockCache(1 << 20)
			seg, err := Open(nil, dir, 7, WithBlockCache(bc))
			require.NoError(t, err)
			defer seg.Close()

			assert.Equal(t, model.SegmentID(7), seg.ID())
			assert.Equal(t, uint32(40), seg.Len())
			assert.Equal(t, c.ID(), seg.Codec().ID())
			assert.Equal(t, info.Size, seg.Size())
			assert.Equal(t, src.Keys(), seg.Keys())
			assert.Equal(t, []string{"body"}, seg.Fields())

			for ord := uint32(0); ord < seg.Len(); ord++ {
				assert.Equal(t, src.DocID(ord), seg.DocID(ord))
				assert.Equal(t, src.FieldLength("body", ord), seg.FieldLength("body", ord))
				doc, err := seg.Document(ord)
				require.NoError(t, err)
				want, _ := src.Document(ord)
				assert.Equal(t, want.ID, doc.ID)
				require.Len(t, doc.Fields, len(want.Fields))
				for i := range want.Fields {
					assert.True(t, want.Fields[i].Value.Equal(doc.Fields[i].Value))
				}
			}

			for _, key := range src.Keys() {
				want, _ := src.Postings(key, true)
				got, err := seg.Postings(key, true)
				require.NoError(t, err)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("%q mismatch (-want +got):\n%s", key, diff)
				}
				assert.Equal(t, uint32(want.Len()), seg.DocFreq(key))
			}

			p, err := seg.Postings(Key("body", "missing"), false)
			require.NoError(t, err)
			assert.Nil(t, p)

			stats := seg.FieldStats("body")
			assert.Equal(t, uint64(40), stats.Docs)
			assert.Equal(t, uint64(120), stats.TotalLength)

			assert.Equal(t, []string{"alpha"}, seg.Terms("body", "al", 0))
			assert.Len(t, seg.Terms("body", "", 2), 2)
			assert.Empty(t, seg.Terms("title", "", 0))

			// Cached blocks are served without touching the file again.
			_, misses := bc.Stats()
			_, err = seg.Postings(Key("body", "common"), false)
			require.NoError(t, err)
			_, misses2 := bc.Stats()
			assert.Equal(t, misses, misses2)
		})
	}
}

func TestWriteEmpty(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, newTestSource(1), nil)

	seg, err := Open(nil, dir, 1)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, uint32(0), seg.Len())
	assert.Empty(t, seg.Keys())
}

func TestOpen_Corruption(t *testing.T) {
	for _, name := range []string{MetaFileName, TermsFileName, PostingsFileName, StoredFileName} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeSegment(t, dir, newTestSource(3, makeDocs(20, 1)...), nil)

			path := filepath.Join(dir, DirName(3), name)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			data[len(data)/2] ^= 0xFF
			require.NoError(t, os.WriteFile(path, data, 0o644))

			_, err = Open(nil, dir, 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
			var ce *CorruptionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, path, ce.Path)
		})
	}
}

func TestOpen_MissingFile(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, newTestSource(3, makeDocs(5, 1)...), nil)
	require.NoError(t, os.Remove(filepath.Join(dir, DirName(3), StoredFileName)))

	_, err := Open(nil, dir, 3)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpen_WrongID(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, newTestSource(3, makeDocs(5, 1)...), nil)
	require.NoError(t, os.Rename(filepath.Join(dir, DirName(3)), filepath.Join(dir, DirName(4))))

	_, err := Open(nil, dir, 4)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestWrite_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(StoredFileName, fs.Fault{FailAfterBytes: 16})

	_, err := Write(context.Background(), ffs, dir, 9, newTestSource(9, makeDocs(50, 1)...), WriteOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrInjected))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWrite_Canceled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Write(ctx, nil, dir, 2, newTestSource(2, makeDocs(10, 1)...), WriteOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, newTestSource(5, makeDocs(3, 1)...), nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, TombstoneFileName(5)), []byte("x"), 0o644))

	require.NoError(t, Remove(nil, dir, 5))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, Remove(nil, dir, 5), "removing twice is fine")
}

func TestParseNames(t *testing.T) {
	tests := []struct {
		name string
		id   model.SegmentID
		tmp  bool
		ok   bool
	}{
		{"seg_000012", 12, false, true},
		{"seg_000012.tmp", 12, true, true},
		{"seg_000012.del", 0, false, false},
		{"wal-000001.log", 0, false, false},
		{"seg_abc", 0, false, false},
	}
	for _, tt := range tests {
		id, tmp, ok := ParseDirName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.id, id, tt.name)
		assert.Equal(t, tt.tmp, tmp, tt.name)
	}

	id, ok := ParseTombstoneFileName(TombstoneFileName(42))
	assert.True(t, ok)
	assert.Equal(t, model.SegmentID(42), id)
	_, ok = ParseTombstoneFileName("seg_000042.tmp.del")
	assert.False(t, ok)
}

func TestMergeSource(t *testing.T) {
	dir := t.TempDir()
	a := newTestSource(1, makeDocs(10, 0)...)
	b := newTestSource(2, makeDocs(10, 100)...)
	writeSegment(t, dir, a, nil)
	segA, err := Open(nil, dir, 1)
	require.NoError(t, err)
	defer segA.Close()

	delA := roaring.BitmapOf(0, 5, 9)
	delB := roaring.BitmapOf(1)
	m := NewMergeSource(3, []Source{segA, b}, []*roaring.Bitmap{delA, delB})
	assert.Equal(t, uint32(16), m.Len())

	remap := m.Remap()
	assert.Equal(t, int32(-1), remap[0][0])
	assert.Equal(t, int32(0), remap[0][1])
	assert.Equal(t, int32(-1), remap[1][1])
	assert.Equal(t, int32(7), remap[1][0])

	writeSegment(t, dir, m, nil)
	merged, err := Open(nil, dir, 3)
	require.NoError(t, err)
	defer merged.Close()

	var ids []model.DocID
	for ord := uint32(0); ord < merged.Len(); ord++ {
		ids = append(ids, merged.DocID(ord))
	}
	want := []model.DocID{1, 2, 3, 4, 6, 7, 8, 100, 102, 103, 104, 105, 106, 107, 108, 109}
	assert.Equal(t, want, ids)

	// Every surviving posting maps back to the same document.
	for _, key := range merged.Keys() {
		p, err := merged.Postings(key, true)
		require.NoError(t, err)
		for j, ord := range p.Ordinals {
			assert.Equal(t, uint32(len(p.Positions[j])), p.Freqs[j])
			id := merged.DocID(ord)
			require.NotContains(t, []model.DocID{0, 5, 9, 101}, id)
		}
	}
	common, err := merged.Postings(Key("body", "common"), false)
	require.NoError(t, err)
	assert.Equal(t, 16, common.Len())
	assert.Equal(t, uint64(16), merged.FieldStats("body").Docs)
}

func TestMergeSource_DropsEmptyKeys(t *testing.T) {
	dir := t.TempDir()
	only := newTestSource(1, model.NewDocument(1).Text("body", "unique").Build())
	other := newTestSource(2, model.NewDocument(2).Text("body", "kept").Build())

	m := NewMergeSource(3, []Source{only, other}, []*roaring.Bitmap{roaring.BitmapOf(0), nil})
	writeSegment(t, dir, m, nil)

	seg, err := Open(nil, dir, 3)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, []string{Key("body", "kept")}, seg.Keys())
}
