// Package encoding provides the little-endian/varint primitives shared by the
// on-disk formats (WAL records, manifest, segment metadata, stored fields).
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrStringTooLong is returned when a length-prefixed string exceeds 64KiB.
var ErrStringTooLong = errors.New("string too long")

// Buffer is an append/consume byte buffer with sticky errors.
// Writers append to Bytes; readers consume from the current position.
type Buffer struct {
	buf []byte
	pos int
	err error
}

// NewBuffer returns a Buffer over b. For writing, pass a slice with spare capacity.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the written bytes.
func (p *Buffer) Bytes() []byte { return p.buf }

// Err returns the first error encountered.
func (p *Buffer) Err() error { return p.err }

// Remaining returns the number of unread bytes.
func (p *Buffer) Remaining() int { return len(p.buf) - p.pos }

func (p *Buffer) WriteUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *Buffer) WriteUint16(v uint16) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
}

func (p *Buffer) WriteUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *Buffer) WriteUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *Buffer) WriteUvarint(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.AppendUvarint(p.buf, v)
}

func (p *Buffer) WriteFloat64(v float64) {
	p.WriteUint64(math.Float64bits(v))
}

// WriteString writes a uint16 length-prefixed string.
func (p *Buffer) WriteString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		p.err = fmt.Errorf("%w: %d", ErrStringTooLong, len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

// WriteBytes writes a uvarint length-prefixed byte slice.
func (p *Buffer) WriteBytes(b []byte) {
	if p.err != nil {
		return
	}
	p.buf = binary.AppendUvarint(p.buf, uint64(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *Buffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *Buffer) ReadUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *Buffer) ReadUint16() uint16 {
	if !p.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v
}

func (p *Buffer) ReadUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *Buffer) ReadUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *Buffer) ReadUvarint() uint64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.buf[p.pos:])
	if n <= 0 {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	p.pos += n
	return v
}

func (p *Buffer) ReadFloat64() float64 {
	return math.Float64frombits(p.ReadUint64())
}

func (p *Buffer) ReadString() string {
	l := int(p.ReadUint16())
	if !p.need(l) {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}

// ReadBytes returns a sub-slice of the underlying buffer (no copy).
func (p *Buffer) ReadBytes() []byte {
	l := p.ReadUvarint()
	if l > uint64(len(p.buf)) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	if !p.need(int(l)) {
		return nil
	}
	b := p.buf[p.pos : p.pos+int(l)]
	p.pos += int(l)
	return b
}
