// Package codec provides the block compression codecs used for posting lists
// and stored fields.
//
// Codec selection is persisted per segment by ID, so IDs are a stable on-disk
// contract: never renumber them.
package codec

import (
	"errors"
	"fmt"
)

// ErrCorruptBlock is returned when a block cannot be decoded.
var ErrCorruptBlock = errors.New("codec: corrupt block")

// ID is the stable on-disk identifier of a codec.
type ID uint8

const (
	IDNone ID = iota
	IDLZ4
	IDZstd
	IDS2
)

// Codec compresses and decompresses byte blocks.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
	Name() string
	ID() ID
}

// Default is the codec used when none is configured.
var Default Codec = Zstd{}

// ByName returns a built-in codec by its configuration name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "none", "":
		return None{}, true
	case "lz4":
		return LZ4{}, true
	case "zstd":
		return Zstd{}, true
	case "s2":
		return S2{}, true
	default:
		return nil, false
	}
}

// ByID returns a built-in codec by its on-disk identifier.
func ByID(id ID) (Codec, error) {
	switch id {
	case IDNone:
		return None{}, nil
	case IDLZ4:
		return LZ4{}, nil
	case IDZstd:
		return Zstd{}, nil
	case IDS2:
		return S2{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown id %d", id)
	}
}

// Names lists the configurable codec names.
func Names() []string {
	return []string{"none", "lz4", "zstd", "s2"}
}
