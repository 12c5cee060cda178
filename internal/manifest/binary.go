package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/textgo/internal/encoding"
	"github.com/hupe1980/textgo/internal/hash"
	"github.com/hupe1980/textgo/model"
)

const (
	binaryMagic   = 0x54585447 // "TXTG"
	binaryVersion = 1
	headerSize    = 16
)

// WriteBinary writes the manifest in binary format. See the package doc for the layout.
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := encoding.NewBuffer(make([]byte, 0, 64+len(m.Segments)*48))

	pb.WriteUint64(m.ID)
	pb.WriteUint64(uint64(m.CreatedAt.UnixNano()))
	pb.WriteUint64(uint64(m.IndexVersion))
	pb.WriteUint64(uint64(m.NextSegmentID))
	pb.WriteUint64(m.LastFlushedSeq)
	pb.WriteUint64(m.NextTxID)
	pb.WriteUint32(uint32(len(m.Segments)))

	for _, s := range m.Segments {
		pb.WriteUint64(uint64(s.ID))
		pb.WriteUint32(uint32(s.Level))
		pb.WriteUint32(s.DocCount)
		pb.WriteUint64(uint64(s.Size))
		pb.WriteString(s.Path)
	}

	if err := pb.Err(); err != nil {
		return err
	}

	payload := pb.Bytes()
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}
	if err := hash.Verify(payload, checksum); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	pb := encoding.NewBuffer(payload)
	m := &Manifest{FormatVersion: int(version)}

	m.ID = pb.ReadUint64()
	m.CreatedAt = time.Unix(0, int64(pb.ReadUint64()))
	m.IndexVersion = model.Version(pb.ReadUint64())
	m.NextSegmentID = model.SegmentID(pb.ReadUint64())
	m.LastFlushedSeq = pb.ReadUint64()
	m.NextTxID = pb.ReadUint64()

	n := pb.ReadUint32()
	if int(n) > pb.Remaining() {
		return nil, fmt.Errorf("%w: segment count %d", ErrCorrupt, n)
	}
	m.Segments = make([]SegmentInfo, n)
	for i := range m.Segments {
		s := &m.Segments[i]
		s.ID = model.SegmentID(pb.ReadUint64())
		s.Level = int(pb.ReadUint32())
		s.DocCount = pb.ReadUint32()
		s.Size = int64(pb.ReadUint64())
		s.Path = pb.ReadString()
	}

	if err := pb.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, nil
}
