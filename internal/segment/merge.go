package segment

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/textgo/model"
)

// MergeSource presents the surviving documents of several sources as a
// single Source with freshly assigned ordinals. Inputs keep their relative
// order, so each input's survivors occupy a contiguous ordinal range.
type MergeSource struct {
	id     model.SegmentID
	inputs []Source
	remap  [][]int32
	docs   []docRef
	keys   []string
	fields []string
	size   int64
}

type docRef struct {
	src int
	ord uint32
}

var _ Source = (*MergeSource)(nil)

// NewMergeSource builds a merge view of inputs. deleted[i] holds the
// tombstoned ordinals of inputs[i]; a nil bitmap drops nothing.
func NewMergeSource(id model.SegmentID, inputs []Source, deleted []*roaring.Bitmap) *MergeSource {
	m := &MergeSource{
		id:     id,
		inputs: inputs,
		remap:  make([][]int32, len(inputs)),
	}
	var keys, fields []string
	for i, in := range inputs {
		var del *roaring.Bitmap
		if i < len(deleted) {
			del = deleted[i]
		}
		n := in.Len()
		rm := make([]int32, n)
		for ord := uint32(0); ord < n; ord++ {
			if del != nil && del.Contains(ord) {
				rm[ord] = -1
				continue
			}
			rm[ord] = int32(len(m.docs))
			m.docs = append(m.docs, docRef{src: i, ord: ord})
		}
		m.remap[i] = rm
		keys = append(keys, in.Keys()...)
		fields = append(fields, in.Fields()...)
		m.size += in.Size()
	}
	slices.Sort(keys)
	m.keys = slices.Compact(keys)
	slices.Sort(fields)
	m.fields = slices.Compact(fields)
	return m
}

// Remap returns, per input, the new ordinal of every old ordinal or -1 if
// the document was dropped.
func (m *MergeSource) Remap() [][]int32 { return m.remap }

func (m *MergeSource) ID() model.SegmentID { return m.id }

func (m *MergeSource) Len() uint32 { return uint32(len(m.docs)) }

func (m *MergeSource) DocID(ord uint32) model.DocID {
	r := m.docs[ord]
	return m.inputs[r.src].DocID(r.ord)
}

func (m *MergeSource) Document(ord uint32) (*model.Document, error) {
	r := m.docs[ord]
	return m.inputs[r.src].Document(r.ord)
}

func (m *MergeSource) FieldLength(field string, ord uint32) uint32 {
	r := m.docs[ord]
	return m.inputs[r.src].FieldLength(field, r.ord)
}

func (m *MergeSource) Fields() []string { return m.fields }

// Keys returns the union of input keys. Some may have no surviving postings.
func (m *MergeSource) Keys() []string { return m.keys }

func (m *MergeSource) Size() int64 { return m.size }

func (m *MergeSource) Terms(field, prefix string, limit int) []string {
	return termsWithPrefix(m.keys, field, prefix, limit)
}

// Postings concatenates the remapped postings of every input, dropping
// deleted ordinals.
func (m *MergeSource) Postings(key string, positions bool) (*PostingList, error) {
	var out *PostingList
	for i, in := range m.inputs {
		p, err := in.Postings(key, positions)
		if err != nil {
			return nil, err
		}
		if p.Len() == 0 {
			continue
		}
		if out == nil {
			out = &PostingList{}
		}
		rm := m.remap[i]
		for j, ord := range p.Ordinals {
			to := rm[ord]
			if to < 0 {
				continue
			}
			out.Ordinals = append(out.Ordinals, uint32(to))
			out.Freqs = append(out.Freqs, p.Freqs[j])
			if positions {
				var pos []uint32
				if j < len(p.Positions) {
					pos = p.Positions[j]
				}
				out.Positions = append(out.Positions, pos)
			}
		}
	}
	return out, nil
}
