package hash

import (
	"fmt"
	"hash"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli checksum of data.
func CRC32C(data []byte) uint32 { return crc32.Checksum(data, castagnoli) }

// NewCRC32C returns a streaming Castagnoli hash.
func NewCRC32C() hash.Hash32 { return crc32.New(castagnoli) }

// MismatchError reports a stored checksum that does not match the data.
type MismatchError struct {
	Want, Got uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %08x, got %08x", e.Want, e.Got)
}

// Verify checks data against the stored checksum want.
func Verify(data []byte, want uint32) error {
	return Check(CRC32C(data), want)
}

// Check compares a computed checksum against the stored one.
func Check(got, want uint32) error {
	if got != want {
		return &MismatchError{Want: want, Got: got}
	}
	return nil
}
