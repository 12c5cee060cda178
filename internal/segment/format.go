package segment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/textgo/model"
)

// File names inside a segment directory.
const (
	MetaFileName     = "meta.bin"
	TermsFileName    = "terms.dict"
	PostingsFileName = "postings.dat"
	StoredFileName   = "stored.dat"
)

const (
	magicMeta     = "TXSM"
	magicTerms    = "TXTD"
	magicPostings = "TXPO"
	magicStored   = "TXSF"

	// FormatVersion is the on-disk segment format version.
	FormatVersion = 1

	// StoredBlockDocs is the number of documents per stored-field block.
	StoredBlockDocs = 16

	headerSize  = 8 // magic + version
	trailerSize = 4 // crc32c
	tmpSuffix   = ".tmp"
	dirPrefix   = "seg_"
	delSuffix   = ".del"
)

// ErrCorrupt marks a segment file that failed validation.
var ErrCorrupt = errors.New("segment corrupt")

// CorruptionError reports a damaged segment file.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt segment file %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Is makes every CorruptionError match ErrCorrupt.
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }

func corrupt(path string, format string, args ...any) error {
	return &CorruptionError{Path: path, Err: fmt.Errorf(format, args...)}
}

// DirName returns the directory name of segment id.
func DirName(id model.SegmentID) string {
	return fmt.Sprintf("%s%06d", dirPrefix, id)
}

// TombstoneFileName returns the sidecar file name of segment id.
func TombstoneFileName(id model.SegmentID) string {
	return DirName(id) + delSuffix
}

// ParseDirName parses a segment directory name. Temporary directories left
// by an interrupted write report tmp=true.
func ParseDirName(name string) (id model.SegmentID, tmp bool, ok bool) {
	if !strings.HasPrefix(name, dirPrefix) {
		return 0, false, false
	}
	rest := strings.TrimPrefix(name, dirPrefix)
	if strings.HasSuffix(rest, tmpSuffix) {
		rest = strings.TrimSuffix(rest, tmpSuffix)
		tmp = true
	}
	if strings.Contains(rest, ".") {
		return 0, false, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return model.SegmentID(n), tmp, true
}

// ParseTombstoneFileName parses a sidecar file name.
func ParseTombstoneFileName(name string) (model.SegmentID, bool) {
	if !strings.HasSuffix(name, delSuffix) {
		return 0, false
	}
	id, tmp, ok := ParseDirName(strings.TrimSuffix(name, delSuffix))
	return id, ok && !tmp
}

func appendHeader(dst []byte, magic string) []byte {
	dst = append(dst, magic...)
	return append(dst, FormatVersion, 0, 0, 0)
}

func checkHeader(path string, data []byte, magic string) error {
	if len(data) < headerSize {
		return corrupt(path, "short header")
	}
	if string(data[:4]) != magic {
		return corrupt(path, "bad magic %q", data[:4])
	}
	if v := uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24; v != FormatVersion {
		return corrupt(path, "unsupported version %d", v)
	}
	return nil
}
