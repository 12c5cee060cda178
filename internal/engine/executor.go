package engine

import (
	"cmp"
	"container/heap"
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/textgo/internal/memtable"
	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/internal/simd"
	"github.com/hupe1980/textgo/model"
	"github.com/hupe1980/textgo/query"
)

// SearchOptions controls ranking output.
type SearchOptions struct {
	// Limit caps the number of hits. Zero returns every match.
	Limit int
}

// overlay is a transaction's private view: its inserted documents, and the
// DocIDs it wrote, which hide the committed copies.
type overlay struct {
	src    *memtable.MemTable
	live   map[model.DocID]uint32
	hidden map[model.DocID]struct{}
}

type resultKey struct {
	version model.Version
	query   string
	limit   int
}

func hitsCost(h []model.Hit) int64 { return int64(len(h))*16 + 64 }

// node is a query resolved against the dictionaries. Leaves are the union
// of their keys.
type node struct {
	kind     query.Kind
	keys     []string
	children []*node
}

// postings of one key in one unit after visibility filtering.
type filteredList struct {
	ords  []uint32
	freqs []uint32
}

// unit is one evaluation source: a snapshot segment or a transaction overlay.
type unit struct {
	seg    *RefCountedSegment
	src    segment.Source
	limit  uint32
	tomb   TombstoneFilter
	hidden map[model.DocID]struct{}
	live   map[model.DocID]uint32 // overlay only
	lists  map[string]*filteredList
}

func (u *unit) visible(ord uint32) bool {
	if ord >= u.limit {
		return false
	}
	if u.live != nil {
		o, ok := u.live[u.src.DocID(ord)]
		return ok && o == ord
	}
	if !u.tomb.Live(ord) {
		return false
	}
	if len(u.hidden) > 0 {
		if _, ok := u.hidden[u.src.DocID(ord)]; ok {
			return false
		}
	}
	return true
}

func (u *unit) load(r *Reader, keys []string) error {
	u.lists = make(map[string]*filteredList, len(keys))
	for _, key := range keys {
		var (
			pl  *segment.PostingList
			err error
		)
		if u.seg != nil {
			pl, err = r.Postings(u.seg, key)
		} else {
			pl, err = u.src.Postings(key, false)
		}
		if err != nil {
			return segmentError("read postings", err)
		}
		if pl.Len() == 0 {
			continue
		}
		fl := &filteredList{}
		for i, ord := range pl.Ordinals {
			if ord >= u.limit {
				break
			}
			if u.visible(ord) {
				fl.ords = append(fl.ords, ord)
				fl.freqs = append(fl.freqs, pl.Freqs[i])
			}
		}
		if len(fl.ords) > 0 {
			u.lists[key] = fl
		}
	}
	return nil
}

func (u *unit) eval(n *node) []uint32 {
	switch n.kind {
	case query.KindTerm, query.KindPrefix:
		lists := make([][]uint32, 0, len(n.keys))
		for _, k := range n.keys {
			if fl := u.lists[k]; fl != nil {
				lists = append(lists, fl.ords)
			}
		}
		return simd.UnionMany(lists)
	case query.KindAnd:
		var pos, neg [][]uint32
		for _, c := range n.children {
			if c.kind == query.KindNot {
				neg = append(neg, u.eval(c.children[0]))
				continue
			}
			pos = append(pos, u.eval(c))
		}
		acc := simd.IntersectMany(pos)
		if len(acc) > 0 && len(neg) > 0 {
			acc = simd.Difference(nil, acc, simd.UnionMany(neg))
		}
		return acc
	case query.KindOr:
		lists := make([][]uint32, len(n.children))
		for i, c := range n.children {
			lists[i] = u.eval(c)
		}
		return simd.UnionMany(lists)
	}
	return nil
}

// score accumulates BM25 over the positive keys for every matched ordinal.
func (u *unit) score(matched []uint32, positive []string, s *bm25Scorer) []model.Hit {
	scores := make([]float64, len(matched))
	for _, key := range positive {
		fl := u.lists[key]
		if fl == nil {
			continue
		}
		field := s.weights[key].field
		i, j := 0, 0
		for i < len(matched) && j < len(fl.ords) {
			switch {
			case matched[i] < fl.ords[j]:
				i++
			case matched[i] > fl.ords[j]:
				j++
			default:
				ord := matched[i]
				scores[i] += s.score(key, fl.freqs[j], u.src.FieldLength(field, ord))
				i++
				j++
			}
		}
	}
	hits := make([]model.Hit, len(matched))
	for i, ord := range matched {
		hits[i] = model.Hit{DocID: u.src.DocID(ord), Score: scores[i]}
	}
	return hits
}

// Search evaluates q against the current version.
func (e *Engine) Search(ctx context.Context, q *query.Query, opts SearchOptions) (hits []model.Hit, err error) {
	start := time.Now()
	defer func() { e.metrics.OnSearch(time.Since(start), len(hits), err) }()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	r, err := e.readers.Acquire()
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return e.execute(ctx, r, nil, q, opts)
}

// SearchString parses s with the engine analyzer and searches.
func (e *Engine) SearchString(ctx context.Context, s string, opts SearchOptions) ([]model.Hit, error) {
	q, err := query.Parse(s, e.analyzer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return e.Search(ctx, q, opts)
}

func (e *Engine) execute(ctx context.Context, r *Reader, ov *overlay, q *query.Query, opts SearchOptions) ([]model.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidArgument)
	}
	snap := r.snap

	cacheable := ov == nil && e.results != nil
	key := resultKey{version: snap.version, query: q.Key(), limit: opts.Limit}
	if cacheable {
		if hits, ok := e.results.Get(key); ok {
			return slices.Clone(hits), nil
		}
	}

	units := e.units(snap, ov)
	root := resolve(q, units)
	all, positive := leafKeys(root)

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return u.load(r, all)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	df := make(map[string]int64, len(all))
	for _, u := range units {
		for k, fl := range u.lists {
			df[k] += int64(len(fl.ords))
		}
	}
	scorer := newBM25Scorer(snap.totals, df)

	perUnit := make([][]model.Hit, len(units))
	g, gctx = errgroup.WithContext(ctx)
	for i, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if matched := u.eval(root); len(matched) > 0 {
				perUnit[i] = u.score(matched, positive, scorer)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hits := rank(slices.Concat(perUnit...), opts.Limit)
	if cacheable {
		e.results.Put(key, slices.Clone(hits))
	}
	return hits, nil
}

func (e *Engine) units(snap *Snapshot, ov *overlay) []*unit {
	var hidden map[model.DocID]struct{}
	if ov != nil {
		hidden = ov.hidden
	}
	segs := snap.sources()
	units := make([]*unit, 0, len(segs)+1)
	for _, seg := range segs {
		limit := snap.limit(seg)
		if limit == 0 {
			continue
		}
		units = append(units, &unit{
			seg:    seg,
			src:    seg.src,
			limit:  limit,
			tomb:   NewTombstoneFilter(seg.tomb, snap.version),
			hidden: hidden,
		})
	}
	if ov != nil && ov.src != nil && len(ov.live) > 0 {
		units = append(units, &unit{src: ov.src, limit: ov.src.Len(), live: ov.live})
	}
	return units
}

func allFields(units []*unit) []string {
	var fields []string
	for _, u := range units {
		fields = append(fields, u.src.Fields()...)
	}
	slices.Sort(fields)
	return slices.Compact(fields)
}

// resolve expands field-less terms over every field and prefixes over the
// dictionaries, up to query.MaxPrefixExpansions keys per prefix.
func resolve(q *query.Query, units []*unit) *node {
	n := &node{kind: q.Kind}
	switch q.Kind {
	case query.KindTerm:
		fields := []string{q.Field}
		if q.Field == "" {
			fields = allFields(units)
		}
		for _, f := range fields {
			n.keys = append(n.keys, segment.Key(f, q.Text))
		}
	case query.KindPrefix:
		fields := []string{q.Field}
		if q.Field == "" {
			fields = allFields(units)
		}
		var keys []string
		for _, f := range fields {
			for _, u := range units {
				for _, t := range u.src.Terms(f, q.Text, query.MaxPrefixExpansions) {
					keys = append(keys, segment.Key(f, t))
				}
			}
		}
		slices.Sort(keys)
		keys = slices.Compact(keys)
		if len(keys) > query.MaxPrefixExpansions {
			keys = keys[:query.MaxPrefixExpansions]
		}
		n.keys = keys
	default:
		n.children = make([]*node, len(q.Children))
		for i, c := range q.Children {
			n.children[i] = resolve(c, units)
		}
	}
	return n
}

// leafKeys returns every key of the tree and the keys outside any Not.
func leafKeys(root *node) (all, positive []string) {
	var walk func(n *node, negated bool)
	walk = func(n *node, negated bool) {
		all = append(all, n.keys...)
		if !negated {
			positive = append(positive, n.keys...)
		}
		for _, c := range n.children {
			walk(c, negated || n.kind == query.KindNot)
		}
	}
	walk(root, false)
	slices.Sort(all)
	slices.Sort(positive)
	return slices.Compact(all), slices.Compact(positive)
}

func compareHits(a, b model.Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.DocID, b.DocID)
}

// rank orders hits by descending score, then ascending DocID. With a limit
// it keeps the top hits in a bounded heap.
func rank(hits []model.Hit, limit int) []model.Hit {
	if limit <= 0 || len(hits) <= limit {
		slices.SortFunc(hits, compareHits)
		return hits
	}
	h := make(hitHeap, 0, limit)
	for _, hit := range hits {
		if len(h) < limit {
			heap.Push(&h, hit)
			continue
		}
		if compareHits(hit, h[0]) < 0 {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}
	out := []model.Hit(h)
	slices.SortFunc(out, compareHits)
	return out
}

// hitHeap keeps the worst retained hit at the root.
type hitHeap []model.Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return compareHits(h[i], h[j]) > 0 }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(model.Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
