package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/encoding"
	"github.com/hupe1980/textgo/internal/fs"
	checksum "github.com/hupe1980/textgo/internal/hash"
	"github.com/hupe1980/textgo/internal/resource"
	"github.com/hupe1980/textgo/model"
)

// WriteOptions configures Write.
type WriteOptions struct {
	// Codec compresses posting and stored blocks. Nil selects codec.Default.
	Codec codec.Codec
	// Controller throttles file IO. Nil means unthrottled.
	Controller *resource.Controller
}

// Info summarizes a written segment.
type Info struct {
	ID       model.SegmentID
	DocCount uint32
	Size     int64
	Path     string
}

// Write persists src as sealed segment id under dir.
//
// Files are written into a temporary directory, fsynced, and renamed into
// place, so a crash never leaves a half-written seg_NNNNNN directory. Keys
// whose posting list is empty are omitted.
func Write(ctx context.Context, fsys fs.FileSystem, dir string, id model.SegmentID, src Source, opts WriteOptions) (*Info, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}

	final := filepath.Join(dir, DirName(id))
	tmp := final + tmpSuffix
	if err := fsys.RemoveAll(tmp); err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(tmp, 0o755); err != nil {
		return nil, err
	}

	w := &segmentWriter{ctx: ctx, fsys: fsys, dir: tmp, codec: c, rc: opts.Controller, src: src}
	if err := w.write(); err != nil {
		_ = fsys.RemoveAll(tmp)
		return nil, err
	}
	if err := fs.SyncDir(fsys, tmp); err != nil {
		_ = fsys.RemoveAll(tmp)
		return nil, err
	}
	if err := fsys.RemoveAll(final); err != nil {
		_ = fsys.RemoveAll(tmp)
		return nil, err
	}
	if err := fsys.Rename(tmp, final); err != nil {
		_ = fsys.RemoveAll(tmp)
		return nil, err
	}
	if err := fs.SyncDir(fsys, dir); err != nil {
		return nil, err
	}
	return &Info{ID: id, DocCount: src.Len(), Size: w.size, Path: DirName(id)}, nil
}

type blockRef struct {
	off uint64
	len uint64
}

type termEntry struct {
	df  uint32
	off uint64
	len uint64
}

type segmentWriter struct {
	ctx   context.Context
	fsys  fs.FileSystem
	dir   string
	codec codec.Codec
	rc    *resource.Controller
	src   Source

	keys    []string
	terms   []termEntry
	blocks  []blockRef
	postLen int64
	storLen int64
	size    int64
}

func (w *segmentWriter) write() error {
	if err := w.writePostings(); err != nil {
		return fmt.Errorf("write postings: %w", err)
	}
	if err := w.writeStored(); err != nil {
		return fmt.Errorf("write stored fields: %w", err)
	}
	if err := w.writeTerms(); err != nil {
		return fmt.Errorf("write terms: %w", err)
	}
	if err := w.writeMeta(); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func (w *segmentWriter) writePostings() error {
	f, err := w.create(PostingsFileName, magicPostings)
	if err != nil {
		return err
	}
	defer f.abort()

	var raw []byte
	for i, key := range w.src.Keys() {
		if i%1024 == 0 {
			if err := w.ctx.Err(); err != nil {
				return err
			}
		}
		p, err := w.src.Postings(key, true)
		if err != nil {
			return err
		}
		if p.Len() == 0 {
			continue
		}
		raw = AppendPostings(raw[:0], p)
		block, err := w.codec.Encode(raw)
		if err != nil {
			return err
		}
		off := f.off
		if err := f.write(block); err != nil {
			return err
		}
		w.keys = append(w.keys, key)
		w.terms = append(w.terms, termEntry{df: uint32(p.Len()), off: uint64(off), len: uint64(len(block))})
	}
	n, err := f.finish()
	w.postLen = n
	return err
}

func (w *segmentWriter) writeStored() error {
	f, err := w.create(StoredFileName, magicStored)
	if err != nil {
		return err
	}
	defer f.abort()

	n := w.src.Len()
	var raw []byte
	for start := uint32(0); start < n; start += StoredBlockDocs {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		end := min(start+StoredBlockDocs, n)
		b := encoding.NewBuffer(raw[:0])
		b.WriteUvarint(uint64(end - start))
		var doc []byte
		for ord := start; ord < end; ord++ {
			d, err := w.src.Document(ord)
			if err != nil {
				return err
			}
			doc, err = encoding.AppendDocument(doc[:0], d)
			if err != nil {
				return err
			}
			b.WriteBytes(doc)
		}
		if err := b.Err(); err != nil {
			return err
		}
		raw = b.Bytes()
		block, err := w.codec.Encode(raw)
		if err != nil {
			return err
		}
		w.blocks = append(w.blocks, blockRef{off: uint64(f.off), len: uint64(len(block))})
		if err := f.write(block); err != nil {
			return err
		}
	}
	sz, err := f.finish()
	w.storLen = sz
	return err
}

func (w *segmentWriter) writeTerms() error {
	f, err := w.create(TermsFileName, magicTerms)
	if err != nil {
		return err
	}
	defer f.abort()

	b := encoding.NewBuffer(make([]byte, 0, 64*len(w.keys)+8))
	b.WriteUint32(uint32(len(w.keys)))
	for i, key := range w.keys {
		t := w.terms[i]
		b.WriteString(key)
		b.WriteUvarint(uint64(t.df))
		b.WriteUvarint(t.off)
		b.WriteUvarint(t.len)
	}
	if err := b.Err(); err != nil {
		return err
	}
	if err := f.write(b.Bytes()); err != nil {
		return err
	}
	_, err = f.finish()
	return err
}

func (w *segmentWriter) writeMeta() error {
	f, err := w.create(MetaFileName, magicMeta)
	if err != nil {
		return err
	}
	defer f.abort()

	src := w.src
	n := src.Len()
	fields := src.Fields()

	norms := make([][]uint32, len(fields))
	stats := make([]FieldStats, len(fields))
	for i, name := range fields {
		norms[i] = make([]uint32, n)
		for ord := uint32(0); ord < n; ord++ {
			l := src.FieldLength(name, ord)
			norms[i][ord] = l
			if l > 0 {
				stats[i].Docs++
				stats[i].TotalLength += uint64(l)
			}
		}
	}

	b := encoding.NewBuffer(make([]byte, 0, 16*int(n)+256))
	b.WriteUint64(uint64(src.ID()))
	b.WriteUint32(n)
	b.WriteUint8(uint8(w.codec.ID()))
	b.WriteUint64(uint64(time.Now().UnixNano()))
	b.WriteUvarint(uint64(len(fields)))
	for i, name := range fields {
		b.WriteString(name)
		b.WriteUvarint(stats[i].Docs)
		b.WriteUvarint(stats[i].TotalLength)
	}
	for ord := uint32(0); ord < n; ord++ {
		b.WriteUint64(uint64(src.DocID(ord)))
	}
	for i := range fields {
		for _, l := range norms[i] {
			b.WriteUvarint(uint64(l))
		}
	}
	b.WriteUvarint(uint64(len(w.blocks)))
	for _, blk := range w.blocks {
		b.WriteUvarint(blk.off)
		b.WriteUvarint(blk.len)
	}
	b.WriteUvarint(uint64(len(w.keys)))
	b.WriteUvarint(uint64(w.postLen))
	b.WriteUvarint(uint64(w.storLen))
	if err := b.Err(); err != nil {
		return err
	}
	if err := f.write(b.Bytes()); err != nil {
		return err
	}
	_, err = f.finish()
	return err
}

// trackedFile writes through a buffer and a rate limiter while keeping a
// running CRC and offset.
type trackedFile struct {
	w    *segmentWriter
	f    fs.File
	bw   *bufio.Writer
	crc  hash.Hash32
	off  int64
	done bool
}

func (w *segmentWriter) create(name, magic string) (*trackedFile, error) {
	f, err := w.fsys.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	t := &trackedFile{
		w:   w,
		f:   f,
		bw:  bufio.NewWriterSize(resource.NewRateLimitedWriter(w.ctx, f, w.rc), 64*1024),
		crc: checksum.NewCRC32C(),
	}
	if err := t.write(appendHeader(nil, magic)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

func (t *trackedFile) write(p []byte) error {
	if _, err := t.bw.Write(p); err != nil {
		return err
	}
	_, _ = t.crc.Write(p)
	t.off += int64(len(p))
	return nil
}

// finish appends the CRC trailer, syncs and closes. It returns the file size.
func (t *trackedFile) finish() (int64, error) {
	var tr [trailerSize]byte
	binary.LittleEndian.PutUint32(tr[:], t.crc.Sum32())
	if _, err := t.bw.Write(tr[:]); err != nil {
		return 0, err
	}
	if err := t.bw.Flush(); err != nil {
		return 0, err
	}
	if err := t.f.Sync(); err != nil {
		return 0, err
	}
	t.done = true
	if err := t.f.Close(); err != nil {
		return 0, err
	}
	size := t.off + trailerSize
	t.w.size += size
	return size, nil
}

func (t *trackedFile) abort() {
	if !t.done {
		_ = t.f.Close()
	}
}
