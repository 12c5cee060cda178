package hash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32C(t *testing.T) {
	// Check value from RFC 3720 B.4.
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))

	h := NewCRC32C()
	_, _ = h.Write([]byte("1234"))
	_, _ = h.Write([]byte("56789"))
	assert.Equal(t, CRC32C([]byte("123456789")), h.Sum32())
}

func TestVerify(t *testing.T) {
	data := []byte("posting")
	require.NoError(t, Verify(data, CRC32C(data)))

	err := Verify(data, 1)
	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, uint32(1), mm.Want)
	assert.Equal(t, CRC32C(data), mm.Got)
	assert.Contains(t, err.Error(), "expected 00000001")
}
