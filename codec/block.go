package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Block framing: [mode uint8][rawLen uvarint][data...]
// mode 0 stores data verbatim when compression does not pay off.
const (
	modeRaw        = 0
	modeCompressed = 1

	// Blocks that shrink by less than this ratio are stored raw.
	minSavingsRatio = 0.9
)

func frame(mode byte, rawLen int, data []byte) []byte {
	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(data))
	out = append(out, mode)
	out = binary.AppendUvarint(out, uint64(rawLen))
	return append(out, data...)
}

func unframe(src []byte) (mode byte, rawLen int, data []byte, err error) {
	if len(src) < 2 {
		return 0, 0, nil, ErrCorruptBlock
	}
	n, k := binary.Uvarint(src[1:])
	if k <= 0 || n > 1<<31 {
		return 0, 0, nil, ErrCorruptBlock
	}
	return src[0], int(n), src[1+k:], nil
}

// compressWith frames the output of fn, falling back to raw storage.
func compressWith(src []byte, fn func([]byte) ([]byte, error)) ([]byte, error) {
	if len(src) == 0 {
		return frame(modeRaw, 0, nil), nil
	}
	c, err := fn(src)
	if err != nil {
		return nil, err
	}
	if len(c) == 0 || float64(len(c)) > float64(len(src))*minSavingsRatio {
		return frame(modeRaw, len(src), src), nil
	}
	return frame(modeCompressed, len(src), c), nil
}

func decompressWith(src []byte, fn func(data []byte, rawLen int) ([]byte, error)) ([]byte, error) {
	mode, rawLen, data, err := unframe(src)
	if err != nil {
		return nil, err
	}
	switch mode {
	case modeRaw:
		if len(data) != rawLen {
			return nil, ErrCorruptBlock
		}
		return data, nil
	case modeCompressed:
		out, err := fn(data, rawLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorruptBlock)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: mode %d", ErrCorruptBlock, mode)
	}
}

// None stores blocks verbatim.
type None struct{}

func (None) Encode(src []byte) ([]byte, error) { return frame(modeRaw, len(src), src), nil }
func (None) Decode(src []byte) ([]byte, error) {
	return decompressWith(src, func([]byte, int) ([]byte, error) { return nil, ErrCorruptBlock })
}
func (None) Name() string { return "none" }
func (None) ID() ID       { return IDNone }

// LZ4 uses LZ4 block compression. Fast, modest ratio.
type LZ4 struct{}

func (LZ4) Encode(src []byte) ([]byte, error) {
	return compressWith(src, func(b []byte) ([]byte, error) {
		dst := make([]byte, lz4.CompressBlockBound(len(b)))
		n, err := lz4.CompressBlock(b, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	})
}

func (LZ4) Decode(src []byte) ([]byte, error) {
	return decompressWith(src, func(data []byte, rawLen int) ([]byte, error) {
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	})
}

func (LZ4) Name() string { return "lz4" }
func (LZ4) ID() ID       { return IDLZ4 }

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

// Zstd uses Zstandard with pooled encoders. Best ratio.
type Zstd struct{}

func (Zstd) Encode(src []byte) ([]byte, error) {
	return compressWith(src, func(b []byte) ([]byte, error) {
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(b, nil), nil
	})
}

func (Zstd) Decode(src []byte) ([]byte, error) {
	return decompressWith(src, func(data []byte, rawLen int) ([]byte, error) {
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		return dec.DecodeAll(data, make([]byte, 0, rawLen))
	})
}

func (Zstd) Name() string { return "zstd" }
func (Zstd) ID() ID       { return IDZstd }

// S2 uses the Snappy-compatible S2 block format.
type S2 struct{}

func (S2) Encode(src []byte) ([]byte, error) {
	return compressWith(src, func(b []byte) ([]byte, error) {
		return s2.Encode(nil, b), nil
	})
}

func (S2) Decode(src []byte) ([]byte, error) {
	return decompressWith(src, func(data []byte, rawLen int) ([]byte, error) {
		return s2.Decode(make([]byte, rawLen), data)
	})
}

func (S2) Name() string { return "s2" }
func (S2) ID() ID       { return IDS2 }
