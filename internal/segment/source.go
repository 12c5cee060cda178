package segment

import (
	"sort"
	"strings"

	"github.com/hupe1980/textgo/model"
)

// KeySeparator separates field and term in a dictionary key.
const KeySeparator = "\x00"

// Key returns the dictionary key of term within field.
func Key(field, term string) string {
	return field + KeySeparator + term
}

// SplitKey splits a dictionary key into field and term.
func SplitKey(key string) (field, term string) {
	field, term, _ = strings.Cut(key, KeySeparator)
	return field, term
}

// Source is a read view over a set of documents addressed by dense ordinals.
type Source interface {
	ID() model.SegmentID
	// Len returns the number of ordinals, including deleted ones.
	Len() uint32
	DocID(ord uint32) model.DocID
	Document(ord uint32) (*model.Document, error)
	// FieldLength returns the number of indexed tokens of field in ord.
	FieldLength(field string, ord uint32) uint32
	// Fields returns the sorted names of indexed text fields.
	Fields() []string
	// Keys returns every dictionary key in ascending order.
	Keys() []string
	// Postings returns the posting list of key, or nil if the key is absent.
	Postings(key string, positions bool) (*PostingList, error)
	// Terms returns up to limit terms of field starting with prefix, ascending.
	// A limit <= 0 means no limit.
	Terms(field, prefix string, limit int) []string
	// Size returns the approximate footprint in bytes.
	Size() int64
}

// PostingList is the decoded posting list of one key.
// Ordinals are strictly ascending; Freqs and Positions are parallel to them.
type PostingList struct {
	Ordinals  []uint32
	Freqs     []uint32
	Positions [][]uint32
}

// Len returns the number of postings.
func (p *PostingList) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Ordinals)
}

// Freq returns the term frequency for ord, or 0 if ord is not in the list.
func (p *PostingList) Freq(ord uint32) uint32 {
	if p == nil {
		return 0
	}
	i := sort.Search(len(p.Ordinals), func(i int) bool { return p.Ordinals[i] >= ord })
	if i < len(p.Ordinals) && p.Ordinals[i] == ord {
		return p.Freqs[i]
	}
	return 0
}

// FieldStats holds aggregate statistics of one field.
type FieldStats struct {
	// Docs is the number of documents with at least one token in the field.
	Docs uint64
	// TotalLength is the sum of token counts across those documents.
	TotalLength uint64
}

// termsWithPrefix scans sorted keys for field/prefix.
func termsWithPrefix(keys []string, field, prefix string, limit int) []string {
	start := Key(field, prefix)
	i := sort.SearchStrings(keys, start)
	var out []string
	for ; i < len(keys); i++ {
		if !strings.HasPrefix(keys[i], start) {
			break
		}
		_, term := SplitKey(keys[i])
		out = append(out, term)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
