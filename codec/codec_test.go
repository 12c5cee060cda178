package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCodecs() []Codec {
	return []Codec{None{}, LZ4{}, Zstd{}, S2{}}
}

func TestCodecRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":        {},
		"small":        []byte("hello"),
		"compressible": bytes.Repeat([]byte("posting list "), 500),
	}

	for _, c := range allCodecs() {
		for name, in := range inputs {
			t.Run(c.Name()+"/"+name, func(t *testing.T) {
				enc, err := c.Encode(in)
				require.NoError(t, err)
				dec, err := c.Decode(enc)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(dec))
				assert.True(t, bytes.Equal(in, dec))
			})
		}
	}
}

func TestCodecCompresses(t *testing.T) {
	in := bytes.Repeat([]byte("abcdefgh"), 1024)
	for _, c := range []Codec{LZ4{}, Zstd{}, S2{}} {
		enc, err := c.Encode(in)
		require.NoError(t, err)
		assert.Less(t, len(enc), len(in)/2, c.Name())
	}
}

func TestCodecCorrupt(t *testing.T) {
	for _, c := range allCodecs() {
		_, err := c.Decode([]byte{7})
		assert.ErrorIs(t, err, ErrCorruptBlock, c.Name())

		_, err = c.Decode([]byte{9, 3, 1, 2, 3})
		assert.ErrorIs(t, err, ErrCorruptBlock, c.Name())
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())

		byID, err := ByID(c.ID())
		require.NoError(t, err)
		assert.Equal(t, c.Name(), byID.Name())
	}

	_, ok := ByName("brotli")
	assert.False(t, ok)

	_, err := ByID(99)
	assert.Error(t, err)
}
