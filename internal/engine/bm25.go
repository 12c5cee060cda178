package engine

import (
	"math"

	"github.com/hupe1980/textgo/internal/segment"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// idf returns the BM25 inverse document frequency. n is clamped to df so a
// term is never weighted negatively.
func idf(n, df int64) float64 {
	n = max(n, df)
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

type termWeight struct {
	field string
	idf   float64
	avgdl float64
}

// bm25Scorer scores postings with corpus-level statistics fixed at query time.
type bm25Scorer struct {
	weights map[string]termWeight
}

// newBM25Scorer builds weights for every key from its live document
// frequency and the snapshot's corpus totals.
func newBM25Scorer(totals *CorpusTotals, df map[string]int64) *bm25Scorer {
	s := &bm25Scorer{weights: make(map[string]termWeight, len(df))}
	for key, n := range df {
		field, _ := segment.SplitKey(key)
		s.weights[key] = termWeight{
			field: field,
			idf:   idf(totals.Docs, n),
			avgdl: totals.AvgLength(field),
		}
	}
	return s
}

// score returns the contribution of key to a document with term frequency
// tf and field length dl.
func (s *bm25Scorer) score(key string, tf, dl uint32) float64 {
	w, ok := s.weights[key]
	if !ok || tf == 0 {
		return 0
	}
	norm := 1.0
	if w.avgdl > 0 {
		norm = 1 - bm25B + bm25B*float64(dl)/w.avgdl
	}
	f := float64(tf)
	return w.idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
}
