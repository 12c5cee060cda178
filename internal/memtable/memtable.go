package memtable

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/hupe1980/textgo/analysis"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/model"
)

// ErrFrozen is returned when writing to a frozen MemTable.
var ErrFrozen = errors.New("memtable is frozen")

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1

	// Rough per-entry overheads used for memory accounting.
	postingOverhead = 16
	docOverhead     = 64
	keyOverhead     = 48
)

type docEntry struct {
	doc     *model.Document
	lengths map[string]uint32
}

type chunk [chunkSize]*docEntry

// postingState is an append-only snapshot of one key's postings. Readers
// holding an older state see a consistent prefix.
type postingState struct {
	ords  []uint32
	freqs []uint32
	pos   [][]uint32
}

type postings struct {
	state atomic.Pointer[postingState]
}

type dictionary = skipmap.FuncMap[string, *postings]

// MemTable is the mutable in-memory segment.
type MemTable struct {
	id     model.SegmentID
	dict   *dictionary
	chunks atomic.Pointer[[]*chunk]
	count  atomic.Uint32
	fields atomic.Pointer[[]string]
	size   atomic.Int64
	frozen atomic.Bool
}

var _ segment.Source = (*MemTable)(nil)

// New returns an empty MemTable that will become segment id.
func New(id model.SegmentID) *MemTable {
	m := &MemTable{
		id: id,
		dict: skipmap.NewFunc[string, *postings](func(a, b string) bool {
			return a < b
		}),
	}
	m.chunks.Store(&[]*chunk{})
	m.fields.Store(&[]string{})
	return m
}

// Prepared is an analyzed document ready to be added.
type Prepared struct {
	doc      *model.Document
	keys     []string
	freqs    []uint32
	pos      [][]uint32
	lengths  map[string]uint32
	fields   []string
	estimate int64
}

// Doc returns the prepared document.
func (p *Prepared) Doc() *model.Document { return p.doc }

// Size returns the estimated memory the document occupies once added.
func (p *Prepared) Size() int64 { return p.estimate }

// Lengths returns the indexed token count per text field.
func (p *Prepared) Lengths() map[string]uint32 { return p.lengths }

// Prepare analyzes doc. It does not touch any MemTable and may run
// concurrently.
func Prepare(doc *model.Document, a analysis.Analyzer) *Prepared {
	if a == nil {
		a = analysis.Default()
	}
	p := &Prepared{doc: doc, lengths: make(map[string]uint32)}
	index := make(map[string]int)
	est := int64(docOverhead)
	for _, f := range doc.Fields {
		est += int64(len(f.Name)) + 16
		text, ok := f.Value.StringValue()
		if !ok {
			continue
		}
		est += int64(len(text))
		if _, seen := p.lengths[f.Name]; !seen {
			p.lengths[f.Name] = 0
			p.fields = append(p.fields, f.Name)
		}
		// Repeated fields continue the position sequence.
		base := p.lengths[f.Name]
		toks := a.Analyze(text)
		for _, tok := range toks {
			key := segment.Key(f.Name, tok.Term)
			i, ok := index[key]
			if !ok {
				i = len(p.keys)
				index[key] = i
				p.keys = append(p.keys, key)
				p.freqs = append(p.freqs, 0)
				p.pos = append(p.pos, nil)
				est += int64(len(key)) + postingOverhead
			}
			p.freqs[i]++
			p.pos[i] = append(p.pos[i], base+tok.Position)
			est += 4
		}
		p.lengths[f.Name] = base + uint32(len(toks))
	}
	for name, l := range p.lengths {
		if l == 0 {
			delete(p.lengths, name)
		}
	}
	p.fields = slices.DeleteFunc(p.fields, func(name string) bool {
		_, ok := p.lengths[name]
		return !ok
	})
	p.estimate = est
	return p
}

// Add appends a prepared document and returns its ordinal. Add must not be
// called concurrently with itself.
func (m *MemTable) Add(p *Prepared) (uint32, error) {
	if m.frozen.Load() {
		return 0, ErrFrozen
	}
	ord := m.count.Load()

	chunks := *m.chunks.Load()
	ci := int(ord >> chunkBits)
	if ci == len(chunks) {
		grown := make([]*chunk, len(chunks)+1)
		copy(grown, chunks)
		grown[ci] = new(chunk)
		m.chunks.Store(&grown)
		chunks = grown
	}
	chunks[ci][ord&chunkMask] = &docEntry{doc: p.doc, lengths: p.lengths}

	for i, key := range p.keys {
		pl, ok := m.dict.Load(key)
		if !ok {
			pl, _ = m.dict.LoadOrStore(key, newPostings())
			m.size.Add(keyOverhead)
		}
		st := pl.state.Load()
		pl.state.Store(&postingState{
			ords:  append(st.ords, ord),
			freqs: append(st.freqs, p.freqs[i]),
			pos:   append(st.pos, p.pos[i]),
		})
	}
	m.addFields(p.fields)
	m.size.Add(p.estimate)
	m.count.Store(ord + 1)
	return ord, nil
}

func newPostings() *postings {
	p := &postings{}
	p.state.Store(&postingState{})
	return p
}

func (m *MemTable) addFields(names []string) {
	cur := *m.fields.Load()
	var added []string
	for _, n := range names {
		if _, found := slices.BinarySearch(cur, n); !found && !slices.Contains(added, n) {
			added = append(added, n)
		}
	}
	if len(added) == 0 {
		return
	}
	next := append(slices.Clone(cur), added...)
	slices.Sort(next)
	m.fields.Store(&next)
}

// Freeze makes the MemTable read-only.
func (m *MemTable) Freeze() { m.frozen.Store(true) }

// Frozen reports whether Freeze was called.
func (m *MemTable) Frozen() bool { return m.frozen.Load() }

// Bytes returns the estimated memory footprint.
func (m *MemTable) Bytes() int64 { return m.size.Load() }

func (m *MemTable) ID() model.SegmentID { return m.id }

// Len returns the number of documents added so far.
func (m *MemTable) Len() uint32 { return m.count.Load() }

func (m *MemTable) Size() int64 { return m.Bytes() }

func (m *MemTable) entry(ord uint32) *docEntry {
	chunks := *m.chunks.Load()
	return chunks[ord>>chunkBits][ord&chunkMask]
}

func (m *MemTable) DocID(ord uint32) model.DocID { return m.entry(ord).doc.ID }

func (m *MemTable) Document(ord uint32) (*model.Document, error) {
	if ord >= m.Len() {
		return nil, errors.New("ordinal out of range")
	}
	return m.entry(ord).doc, nil
}

func (m *MemTable) FieldLength(field string, ord uint32) uint32 {
	return m.entry(ord).lengths[field]
}

// FieldLengths returns all indexed field lengths of ord. The map must not be
// modified.
func (m *MemTable) FieldLengths(ord uint32) map[string]uint32 {
	return m.entry(ord).lengths
}

func (m *MemTable) Fields() []string { return *m.fields.Load() }

func (m *MemTable) Keys() []string {
	keys := make([]string, 0, m.dict.Len())
	m.dict.Range(func(key string, _ *postings) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (m *MemTable) Postings(key string, positions bool) (*segment.PostingList, error) {
	pl, ok := m.dict.Load(key)
	if !ok {
		return nil, nil
	}
	st := pl.state.Load()
	out := &segment.PostingList{Ordinals: st.ords, Freqs: st.freqs}
	if positions {
		out.Positions = st.pos
	}
	return out, nil
}

func (m *MemTable) Terms(field, prefix string, limit int) []string {
	start := segment.Key(field, prefix)
	var out []string
	m.dict.Range(func(key string, _ *postings) bool {
		if key < start {
			return true
		}
		if !strings.HasPrefix(key, start) {
			return false
		}
		_, term := segment.SplitKey(key)
		out = append(out, term)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// DocFreq returns the number of postings of key below watermark.
func (m *MemTable) DocFreq(key string, watermark uint32) uint32 {
	pl, ok := m.dict.Load(key)
	if !ok {
		return 0
	}
	ords := pl.state.Load().ords
	return uint32(sort.Search(len(ords), func(i int) bool { return ords[i] >= watermark }))
}
