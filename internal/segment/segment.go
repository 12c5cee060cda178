package segment

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/cache"
	"github.com/hupe1980/textgo/internal/encoding"
	"github.com/hupe1980/textgo/internal/fs"
	"github.com/hupe1980/textgo/internal/hash"
	"github.com/hupe1980/textgo/model"
)

// Segment is an open sealed segment. It is safe for concurrent use.
type Segment struct {
	id        model.SegmentID
	path      string
	codec     codec.Codec
	createdAt time.Time

	docIDs []model.DocID
	fields []string
	stats  map[string]FieldStats
	norms  map[string][]uint32

	keys   []string
	terms  []termEntry
	blocks []blockRef

	postings fs.File
	stored   fs.File
	cache    cache.BlockCache
	size     int64
}

var _ Source = (*Segment)(nil)

type options struct {
	cache  cache.BlockCache
	verify bool
}

// Option configures Open.
type Option func(*options)

// WithBlockCache caches decompressed blocks in c.
func WithBlockCache(c cache.BlockCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithVerifyChecksum controls full-file CRC verification on open.
// It is enabled by default.
func WithVerifyChecksum(verify bool) Option {
	return func(o *options) {
		o.verify = verify
	}
}

// Open opens segment id under dir. Any validation failure is returned as a
// *CorruptionError.
func Open(fsys fs.FileSystem, dir string, id model.SegmentID, opts ...Option) (*Segment, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	o := options{verify: true}
	for _, fn := range opts {
		fn(&o)
	}

	s := &Segment{
		id:    id,
		path:  filepath.Join(dir, DirName(id)),
		cache: o.cache,
	}

	if err := s.loadMeta(fsys); err != nil {
		return nil, err
	}
	if err := s.loadTerms(fsys); err != nil {
		return nil, err
	}

	var err error
	if s.postings, err = s.openData(fsys, PostingsFileName, magicPostings, o.verify); err != nil {
		return nil, err
	}
	if s.stored, err = s.openData(fsys, StoredFileName, magicStored, o.verify); err != nil {
		_ = s.postings.Close()
		return nil, err
	}
	return s, nil
}

// readVerified reads a whole file and checks header and trailer.
func readVerified(fsys fs.FileSystem, path, magic string) ([]byte, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &CorruptionError{Path: path, Err: err}
		}
		return nil, err
	}
	if len(data) < headerSize+trailerSize {
		return nil, corrupt(path, "file too short (%d bytes)", len(data))
	}
	if err := checkHeader(path, data, magic); err != nil {
		return nil, err
	}
	body := data[:len(data)-trailerSize]
	if err := hash.Verify(body, binary.LittleEndian.Uint32(data[len(body):])); err != nil {
		return nil, corrupt(path, "%w", err)
	}
	return body[headerSize:], nil
}

func (s *Segment) loadMeta(fsys fs.FileSystem) error {
	path := filepath.Join(s.path, MetaFileName)
	data, err := readVerified(fsys, path, magicMeta)
	if err != nil {
		return err
	}
	b := encoding.NewBuffer(data)
	if got := model.SegmentID(b.ReadUint64()); b.Err() == nil && got != s.id {
		return corrupt(path, "segment id %d, expected %d", got, s.id)
	}
	n := b.ReadUint32()
	c, err := codec.ByID(codec.ID(b.ReadUint8()))
	if err != nil {
		return &CorruptionError{Path: path, Err: err}
	}
	s.codec = c
	s.createdAt = time.Unix(0, int64(b.ReadUint64()))

	nf := b.ReadUvarint()
	if nf > uint64(b.Remaining()) {
		return corrupt(path, "field count %d exceeds data", nf)
	}
	s.fields = make([]string, nf)
	s.stats = make(map[string]FieldStats, nf)
	for i := range s.fields {
		name := b.ReadString()
		s.fields[i] = name
		s.stats[name] = FieldStats{Docs: b.ReadUvarint(), TotalLength: b.ReadUvarint()}
	}
	if uint64(n)*8 > uint64(b.Remaining()) {
		return corrupt(path, "doc count %d exceeds data", n)
	}
	s.docIDs = make([]model.DocID, n)
	for i := range s.docIDs {
		s.docIDs[i] = model.DocID(b.ReadUint64())
	}
	s.norms = make(map[string][]uint32, nf)
	for _, name := range s.fields {
		norms := make([]uint32, n)
		for i := range norms {
			norms[i] = uint32(b.ReadUvarint())
		}
		s.norms[name] = norms
	}
	nb := b.ReadUvarint()
	if nb > uint64(b.Remaining()) {
		return corrupt(path, "block count %d exceeds data", nb)
	}
	s.blocks = make([]blockRef, nb)
	for i := range s.blocks {
		s.blocks[i] = blockRef{off: b.ReadUvarint(), len: b.ReadUvarint()}
	}
	_ = b.ReadUvarint() // term count, checked against the dictionary
	_ = b.ReadUvarint()
	_ = b.ReadUvarint()
	if err := b.Err(); err != nil {
		return &CorruptionError{Path: path, Err: err}
	}
	if want := (uint64(n) + StoredBlockDocs - 1) / StoredBlockDocs; nb != want {
		return corrupt(path, "%d stored blocks for %d docs", nb, n)
	}
	s.size += int64(len(data) + headerSize + trailerSize)
	return nil
}

func (s *Segment) loadTerms(fsys fs.FileSystem) error {
	path := filepath.Join(s.path, TermsFileName)
	data, err := readVerified(fsys, path, magicTerms)
	if err != nil {
		return err
	}
	b := encoding.NewBuffer(data)
	n := b.ReadUint32()
	if uint64(n)*5 > uint64(b.Remaining()) {
		return corrupt(path, "term count %d exceeds data", n)
	}
	s.keys = make([]string, n)
	s.terms = make([]termEntry, n)
	for i := range s.keys {
		s.keys[i] = b.ReadString()
		s.terms[i] = termEntry{df: uint32(b.ReadUvarint()), off: b.ReadUvarint(), len: b.ReadUvarint()}
		if i > 0 && b.Err() == nil && s.keys[i] <= s.keys[i-1] {
			return corrupt(path, "dictionary not sorted at entry %d", i)
		}
	}
	if err := b.Err(); err != nil {
		return &CorruptionError{Path: path, Err: err}
	}
	s.size += int64(len(data) + headerSize + trailerSize)
	return nil
}

// openData opens a block file, validating its header and optionally its CRC.
func (s *Segment) openData(fsys fs.FileSystem, name, magic string, verify bool) (fs.File, error) {
	path := filepath.Join(s.path, name)
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &CorruptionError{Path: path, Err: err}
		}
		return nil, err
	}
	fail := func(err error) (fs.File, error) {
		_ = f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	size := info.Size()
	if size < headerSize+trailerSize {
		return fail(corrupt(path, "file too short (%d bytes)", size))
	}
	hdr := make([]byte, headerSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return fail(err)
	}
	if err := checkHeader(path, hdr, magic); err != nil {
		return fail(err)
	}
	if verify {
		h := hash.NewCRC32C()
		if _, err := io.Copy(h, io.NewSectionReader(f, 0, size-trailerSize)); err != nil {
			return fail(err)
		}
		var tr [trailerSize]byte
		if _, err := f.ReadAt(tr[:], size-trailerSize); err != nil {
			return fail(err)
		}
		if err := hash.Check(h.Sum32(), binary.LittleEndian.Uint32(tr[:])); err != nil {
			return fail(corrupt(path, "%w", err))
		}
	}
	s.size += size
	return f, nil
}

// Close releases the file handles.
func (s *Segment) Close() error {
	err := s.postings.Close()
	if e := s.stored.Close(); err == nil {
		err = e
	}
	if s.cache != nil {
		s.cache.InvalidateSegment(s.id)
	}
	return err
}

// Remove deletes the files of segment id under dir, including its sidecar.
func Remove(fsys fs.FileSystem, dir string, id model.SegmentID) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if err := fsys.RemoveAll(filepath.Join(dir, DirName(id))); err != nil {
		return err
	}
	if err := fsys.Remove(filepath.Join(dir, TombstoneFileName(id))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Segment) ID() model.SegmentID { return s.id }

func (s *Segment) Len() uint32 { return uint32(len(s.docIDs)) }

// DocIDs returns the docID-per-ordinal table. It must not be modified.
func (s *Segment) DocIDs() []model.DocID { return s.docIDs }

func (s *Segment) DocID(ord uint32) model.DocID { return s.docIDs[ord] }

func (s *Segment) Fields() []string { return s.fields }

func (s *Segment) Keys() []string { return s.keys }

func (s *Segment) Size() int64 { return s.size }

// CreatedAt returns the time the segment was written.
func (s *Segment) CreatedAt() time.Time { return s.createdAt }

// Codec returns the block codec.
func (s *Segment) Codec() codec.Codec { return s.codec }

// FieldStats returns the statistics of field over all ordinals.
func (s *Segment) FieldStats(field string) FieldStats { return s.stats[field] }

func (s *Segment) FieldLength(field string, ord uint32) uint32 {
	norms, ok := s.norms[field]
	if !ok || int(ord) >= len(norms) {
		return 0
	}
	return norms[ord]
}

// DocFreq returns the number of postings of key, including deleted ordinals.
func (s *Segment) DocFreq(key string) uint32 {
	if i, ok := s.lookup(key); ok {
		return s.terms[i].df
	}
	return 0
}

func (s *Segment) Terms(field, prefix string, limit int) []string {
	return termsWithPrefix(s.keys, field, prefix, limit)
}

func (s *Segment) lookup(key string) (int, bool) {
	i := sort.SearchStrings(s.keys, key)
	return i, i < len(s.keys) && s.keys[i] == key
}

func (s *Segment) Postings(key string, positions bool) (*PostingList, error) {
	i, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	t := s.terms[i]
	raw, err := s.readBlock(cache.CacheKindPostings, s.postings, PostingsFileName, t.off, t.len)
	if err != nil {
		return nil, err
	}
	p, err := DecodePostings(raw, positions)
	if err != nil {
		return nil, &CorruptionError{Path: filepath.Join(s.path, PostingsFileName), Err: err}
	}
	return p, nil
}

func (s *Segment) Document(ord uint32) (*model.Document, error) {
	if int(ord) >= len(s.docIDs) {
		return nil, errors.New("ordinal out of range")
	}
	blk := s.blocks[ord/StoredBlockDocs]
	raw, err := s.readBlock(cache.CacheKindStored, s.stored, StoredFileName, blk.off, blk.len)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.path, StoredFileName)
	b := encoding.NewBuffer(raw)
	n := b.ReadUvarint()
	idx := uint64(ord % StoredBlockDocs)
	if b.Err() != nil || idx >= n {
		return nil, corrupt(path, "stored block at %d holds %d docs", blk.off, n)
	}
	for i := uint64(0); i < idx; i++ {
		_ = b.ReadBytes()
	}
	data := b.ReadBytes()
	if err := b.Err(); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	doc, err := encoding.DecodeDocument(data)
	if err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	return doc, nil
}

// readBlock reads and decompresses one block, consulting the cache first.
func (s *Segment) readBlock(kind cache.CacheKind, f fs.File, name string, off, n uint64) ([]byte, error) {
	key := cache.CacheKey{Kind: kind, SegmentID: s.id, Offset: off}
	ctx := context.Background()
	if s.cache != nil {
		if b, ok := s.cache.Get(ctx, key); ok {
			return b, nil
		}
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, int64(off)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, corrupt(filepath.Join(s.path, name), "block at %d truncated", off)
		}
		return nil, err
	}
	raw, err := s.codec.Decode(buf)
	if err != nil {
		return nil, &CorruptionError{Path: filepath.Join(s.path, name), Err: err}
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, raw)
	}
	return raw, nil
}
