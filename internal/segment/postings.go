package segment

import (
	"fmt"

	"github.com/hupe1980/textgo/internal/encoding"
)

// maxPostings bounds the decoded list length; ordinals are uint32.
const maxPostings = 1 << 32

// AppendPostings appends the delta+varint encoding of p to dst.
//
// Layout: n, n ordinal deltas, n freqs, then per posting the position count
// followed by position deltas.
func AppendPostings(dst []byte, p *PostingList) []byte {
	b := encoding.NewBuffer(dst)
	n := p.Len()
	b.WriteUvarint(uint64(n))
	var prev uint32
	for i, ord := range p.Ordinals {
		if i == 0 {
			b.WriteUvarint(uint64(ord))
		} else {
			b.WriteUvarint(uint64(ord - prev))
		}
		prev = ord
	}
	for _, f := range p.Freqs {
		b.WriteUvarint(uint64(f))
	}
	for i := 0; i < n; i++ {
		var pos []uint32
		if i < len(p.Positions) {
			pos = p.Positions[i]
		}
		b.WriteUvarint(uint64(len(pos)))
		var last uint32
		for _, x := range pos {
			b.WriteUvarint(uint64(x - last))
			last = x
		}
	}
	return b.Bytes()
}

// DecodePostings decodes a list written by AppendPostings. Positions are
// skipped unless withPositions is set.
func DecodePostings(data []byte, withPositions bool) (*PostingList, error) {
	b := encoding.NewBuffer(data)
	n := b.ReadUvarint()
	if b.Err() != nil {
		return nil, fmt.Errorf("%w: postings header: %v", ErrCorrupt, b.Err())
	}
	// Every posting needs at least three bytes.
	if n >= maxPostings || n*3 > uint64(b.Remaining()) {
		return nil, fmt.Errorf("%w: postings count %d exceeds data", ErrCorrupt, n)
	}
	p := &PostingList{
		Ordinals: make([]uint32, n),
		Freqs:    make([]uint32, n),
	}
	var prev uint64
	for i := range p.Ordinals {
		d := b.ReadUvarint()
		if i > 0 && d == 0 {
			return nil, fmt.Errorf("%w: postings not strictly ascending", ErrCorrupt)
		}
		prev += d
		if prev > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: ordinal overflow", ErrCorrupt)
		}
		p.Ordinals[i] = uint32(prev)
	}
	for i := range p.Freqs {
		p.Freqs[i] = uint32(b.ReadUvarint())
	}
	if withPositions {
		p.Positions = make([][]uint32, n)
	}
	for i := 0; i < int(n); i++ {
		cnt := b.ReadUvarint()
		if cnt > uint64(b.Remaining()) {
			return nil, fmt.Errorf("%w: position count %d exceeds data", ErrCorrupt, cnt)
		}
		var pos []uint32
		if withPositions {
			pos = make([]uint32, cnt)
		}
		var last uint32
		for j := 0; j < int(cnt); j++ {
			last += uint32(b.ReadUvarint())
			if withPositions {
				pos[j] = last
			}
		}
		if withPositions {
			p.Positions[i] = pos
		}
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("%w: postings: %v", ErrCorrupt, err)
	}
	if b.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after postings", ErrCorrupt, b.Remaining())
	}
	return p, nil
}
