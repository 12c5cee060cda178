package wal

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/hupe1980/textgo/internal/hash"
)

// RecordKind identifies the type of WAL record.
type RecordKind uint8

const (
	KindInsert RecordKind = 1
	KindDelete RecordKind = 2
	KindCommit RecordKind = 3
	KindAbort  RecordKind = 4
)

func (k RecordKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindCommit:
		return "commit"
	case KindAbort:
		return "abort"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidKind    = errors.New("invalid WAL record kind")
	ErrRecordTooLarge = errors.New("WAL record too large")
	ErrSequenceGap    = errors.New("WAL sequence gap")
)

// MaxRecordSize bounds the payload of a single record.
const MaxRecordSize = 64 << 20

// Record framing:
// [CRC32: 4][Kind: 1][Seq: 8][TxID: 8][Length: 4][Payload: Length]
// The CRC covers everything after itself.
const (
	crcSize    = 4
	headerSize = 1 + 8 + 8 + 4
	frameSize  = crcSize + headerSize
)

// Record is a single WAL entry.
// Seq is assigned by the WAL on append.
type Record struct {
	Seq     uint64
	Kind    RecordKind
	TxID    uint64
	Payload []byte
}

// InsertRecord returns an insert record carrying an encoded document.
func InsertRecord(txID uint64, doc []byte) *Record {
	return &Record{Kind: KindInsert, TxID: txID, Payload: doc}
}

// DeleteRecord returns a delete record for docID.
func DeleteRecord(txID, docID uint64) *Record {
	return &Record{Kind: KindDelete, TxID: txID, Payload: binary.LittleEndian.AppendUint64(nil, docID)}
}

// CommitRecord returns the commit marker for txID.
func CommitRecord(txID uint64) *Record {
	return &Record{Kind: KindCommit, TxID: txID}
}

// AbortRecord returns the abort marker for txID.
func AbortRecord(txID uint64) *Record {
	return &Record{Kind: KindAbort, TxID: txID}
}

// DocID returns the target of a delete record.
func (r *Record) DocID() (uint64, bool) {
	if r.Kind != KindDelete || len(r.Payload) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(r.Payload), true
}

// Size returns the encoded size in bytes.
func (r *Record) Size() int {
	return frameSize + len(r.Payload)
}

// AppendTo appends the encoded record to dst.
func (r *Record) AppendTo(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = append(dst, byte(r.Kind))
	dst = binary.LittleEndian.AppendUint64(dst, r.Seq)
	dst = binary.LittleEndian.AppendUint64(dst, r.TxID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Payload)))
	dst = append(dst, r.Payload...)
	binary.LittleEndian.PutUint32(dst[start:], hash.CRC32C(dst[start+crcSize:]))
	return dst
}

// Decode reads one record from r and returns the number of bytes consumed.
// io.EOF means a clean end; any other error marks a torn or corrupt tail.
func Decode(r io.Reader) (*Record, int64, error) {
	var frame [frameSize]byte
	n, err := io.ReadFull(r, frame[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, 0, io.EOF
		}
		return nil, int64(n), io.ErrUnexpectedEOF
	}

	checksum := binary.LittleEndian.Uint32(frame[0:])
	kind := RecordKind(frame[4])
	seq := binary.LittleEndian.Uint64(frame[5:])
	txID := binary.LittleEndian.Uint64(frame[13:])
	length := binary.LittleEndian.Uint32(frame[21:])

	if length > MaxRecordSize {
		return nil, frameSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if m, err := io.ReadFull(r, payload); err != nil {
		return nil, frameSize + int64(m), io.ErrUnexpectedEOF
	}

	crc := hash.NewCRC32C()
	_, _ = crc.Write(frame[crcSize:])
	_, _ = crc.Write(payload)
	total := int64(frameSize) + int64(length)
	if crc.Sum32() != checksum {
		return nil, total, ErrInvalidCRC
	}
	if kind < KindInsert || kind > KindAbort {
		return nil, total, ErrInvalidKind
	}
	if length == 0 {
		payload = nil
	}
	return &Record{Seq: seq, Kind: kind, TxID: txID, Payload: payload}, total, nil
}
