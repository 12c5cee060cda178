package simd

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
)

// Reference implementations over maps.
func refIntersect(a, b []uint32) []uint32 {
	in := make(map[uint32]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	var out []uint32
	for _, v := range a {
		if in[v] {
			out = append(out, v)
		}
	}
	return out
}

func refUnion(a, b []uint32) []uint32 {
	set := make(map[uint32]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]uint32, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func refDifference(a, b []uint32) []uint32 {
	in := make(map[uint32]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	var out []uint32
	for _, v := range a {
		if !in[v] {
			out = append(out, v)
		}
	}
	return out
}

func randomSorted(r *rand.Rand, n int, universe uint32) []uint32 {
	set := make(map[uint32]struct{}, n)
	for len(set) < n {
		set[r.Uint32N(universe)] = struct{}{}
	}
	out := make([]uint32, 0, n)
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func seq(lo, hi uint32) []uint32 {
	out := make([]uint32, 0, hi-lo)
	for v := lo; v < hi; v++ {
		out = append(out, v)
	}
	return out
}

var emptyEqual = cmpopts.EquateEmpty()

// withKernels runs fn once per kernel family and restores the active one.
func withKernels(t *testing.T, fn func(t *testing.T)) {
	t.Helper()
	defer useKernels(ActiveISA())
	for _, isa := range []ISA{Generic, AVX2, AVX512} {
		useKernels(isa)
		t.Run(isa.String(), fn)
	}
}

func TestSetOpsEdgeCases(t *testing.T) {
	cases := []struct {
		name string
		a, b []uint32
	}{
		{"both empty", nil, nil},
		{"left empty", nil, []uint32{1, 2, 3}},
		{"right empty", []uint32{1, 2, 3}, nil},
		{"full overlap", seq(0, 100), seq(0, 100)},
		{"disjoint before", seq(0, 50), seq(100, 150)},
		{"disjoint after", seq(100, 150), seq(0, 50)},
		{"interleaved", []uint32{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, []uint32{1, 3, 5, 7, 9, 11, 13, 15, 17}},
		{"subset", seq(0, 1000), []uint32{3, 500, 999}},
		{"single", []uint32{7}, []uint32{7}},
		{"max value", []uint32{0, ^uint32(0)}, []uint32{^uint32(0)}},
	}

	withKernels(t, func(t *testing.T) {
		for _, tc := range cases {
			if diff := cmp.Diff(refIntersect(tc.a, tc.b), Intersect(nil, tc.a, tc.b), emptyEqual); diff != "" {
				t.Errorf("%s intersect (-want +got):\n%s", tc.name, diff)
			}
			if diff := cmp.Diff(refUnion(tc.a, tc.b), Union(nil, tc.a, tc.b), emptyEqual); diff != "" {
				t.Errorf("%s union (-want +got):\n%s", tc.name, diff)
			}
			if diff := cmp.Diff(refDifference(tc.a, tc.b), Difference(nil, tc.a, tc.b), emptyEqual); diff != "" {
				t.Errorf("%s difference (-want +got):\n%s", tc.name, diff)
			}
		}
	})
}

func TestSetOpsRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	sizes := [][2]int{{10, 10}, {100, 1000}, {1000, 100}, {5, 5000}, {3000, 3000}, {1, 200}}

	withKernels(t, func(t *testing.T) {
		for _, sz := range sizes {
			for _, universe := range []uint32{2 * uint32(sz[0]+sz[1]), 1 << 20} {
				a := randomSorted(r, sz[0], universe)
				b := randomSorted(r, sz[1], universe)

				if diff := cmp.Diff(refIntersect(a, b), Intersect(nil, a, b), emptyEqual); diff != "" {
					t.Fatalf("intersect %v (-want +got):\n%s", sz, diff)
				}
				if diff := cmp.Diff(refUnion(a, b), Union(nil, a, b), emptyEqual); diff != "" {
					t.Fatalf("union %v (-want +got):\n%s", sz, diff)
				}
				if diff := cmp.Diff(refDifference(a, b), Difference(nil, a, b), emptyEqual); diff != "" {
					t.Fatalf("difference %v (-want +got):\n%s", sz, diff)
				}
			}
		}
	})
}

func TestLanesBelow(t *testing.T) {
	block := []uint32{0, 3, 7, 7, 9, 1 << 31, math.MaxUint32 - 1, math.MaxUint32}
	tests := []struct {
		x    uint32
		want int
	}{
		{0, 0},
		{1, 1},
		{7, 2},
		{8, 4},
		{1 << 31, 5},
		{math.MaxUint32, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lanesBelow(block, tt.x), "x=%d", tt.x)
	}
}

func TestSetOpsHighOrdinals(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	shift := func(in []uint32) []uint32 {
		for i := range in {
			in[i] += math.MaxUint32 - 4096
		}
		return in
	}
	withKernels(t, func(t *testing.T) {
		for range 20 {
			a := shift(randomSorted(r, 300, 4096))
			b := shift(randomSorted(r, 500, 4096))
			if diff := cmp.Diff(refIntersect(a, b), Intersect(nil, a, b), emptyEqual); diff != "" {
				t.Fatalf("intersect (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(refUnion(a, b), Union(nil, a, b), emptyEqual); diff != "" {
				t.Fatalf("union (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(refDifference(a, b), Difference(nil, a, b), emptyEqual); diff != "" {
				t.Fatalf("difference (-want +got):\n%s", diff)
			}
		}
	})
}

func TestDstReuse(t *testing.T) {
	buf := make([]uint32, 0, 64)
	out := Intersect(buf, []uint32{1, 2, 3}, []uint32{2, 3, 4})
	assert.Equal(t, []uint32{2, 3}, out)
	out = Union(out, []uint32{1}, []uint32{5})
	assert.Equal(t, []uint32{1, 5}, out)
}

func TestMany(t *testing.T) {
	lists := [][]uint32{
		seq(0, 100),
		{5, 10, 50, 99, 200},
		seq(10, 60),
	}
	assert.Equal(t, []uint32{10, 50}, IntersectMany(lists))
	assert.Equal(t, append(seq(0, 100), 200), UnionMany(lists))
	assert.Nil(t, IntersectMany(nil))
	assert.Equal(t, []uint32{1}, UnionMany([][]uint32{{1}}))
	assert.Empty(t, IntersectMany([][]uint32{{1}, {2}, {1, 2}}))
}

func TestContainsGallop(t *testing.T) {
	list := []uint32{1, 3, 5, 7, 9, 100, 1000}
	for _, v := range list {
		assert.True(t, Contains(list, v))
	}
	for _, v := range []uint32{0, 2, 8, 99, 1001} {
		assert.False(t, Contains(list, v))
	}
	assert.False(t, Contains(nil, 1))
}

func TestParseISA(t *testing.T) {
	isa, ok := ParseISA(" AVX2 ")
	assert.True(t, ok)
	assert.Equal(t, AVX2, isa)
	_, ok = ParseISA("mmx")
	assert.False(t, ok)
	assert.Equal(t, "unknown", ISA(42).String())
	assert.True(t, Supports(Generic))
	assert.True(t, Supports(ActiveISA()))
}

func BenchmarkIntersect(b *testing.B) {
	r := rand.New(rand.NewPCG(3, 4))
	x := randomSorted(r, 10000, 1<<18)
	y := randomSorted(r, 10000, 1<<18)
	dst := make([]uint32, 0, 10000)
	for _, isa := range []ISA{Generic, AVX2, AVX512} {
		useKernels(isa)
		b.Run(isa.String(), func(b *testing.B) {
			for b.Loop() {
				dst = Intersect(dst, x, y)
			}
		})
	}
	useKernels(ActiveISA())
}
