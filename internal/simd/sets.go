package simd

// Kernel function pointers for set operations. The scalar kernels are the
// default; useKernels swaps in block kernels when the ISA allows.
var (
	kernelIntersect  = intersectScalar
	kernelUnion      = unionScalar
	kernelDifference = differenceScalar
	blockWidth       = 0
)

// gallopRatio is the size ratio above which intersection switches to
// galloping the shorter list through the longer one.
const gallopRatio = 32

// useKernels selects the kernels for isa.
func useKernels(isa ISA) {
	switch isa {
	case AVX512, SVE2:
		setBlockKernels(16)
	case AVX2, NEON:
		setBlockKernels(8)
	default:
		kernelIntersect = intersectScalar
		kernelUnion = unionScalar
		kernelDifference = differenceScalar
		blockWidth = 0
	}
}

func setBlockKernels(width int) {
	blockWidth = width
	switch width {
	case 16:
		kernelIntersect = intersectBlock16
		kernelUnion = unionBlock16
		kernelDifference = differenceBlock16
	default:
		kernelIntersect = intersectBlock8
		kernelUnion = unionBlock8
		kernelDifference = differenceBlock8
	}
}

// BlockWidth returns the active block width, or 0 for the scalar kernels.
func BlockWidth() int { return blockWidth }

// Intersect appends a ∩ b to dst[:0] and returns it.
func Intersect(dst, a, b []uint32) []uint32 {
	dst = dst[:0]
	if len(a) == 0 || len(b) == 0 {
		return dst
	}
	if a[len(a)-1] < b[0] || b[len(b)-1] < a[0] {
		return dst
	}
	return kernelIntersect(dst, a, b)
}

// Union appends a ∪ b to dst[:0] and returns it.
func Union(dst, a, b []uint32) []uint32 {
	dst = dst[:0]
	if len(a) == 0 {
		return append(dst, b...)
	}
	if len(b) == 0 {
		return append(dst, a...)
	}
	return kernelUnion(dst, a, b)
}

// Difference appends a \ b to dst[:0] and returns it.
func Difference(dst, a, b []uint32) []uint32 {
	dst = dst[:0]
	if len(a) == 0 {
		return dst
	}
	if len(b) == 0 || a[len(a)-1] < b[0] || b[len(b)-1] < a[0] {
		return append(dst, a...)
	}
	return kernelDifference(dst, a, b)
}

// IntersectMany intersects all lists, smallest first.
func IntersectMany(lists [][]uint32) []uint32 {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return append([]uint32(nil), lists[0]...)
	}
	order := make([]int, len(lists))
	for i := range order {
		order[i] = i
	}
	// Insertion sort by length; query trees have few clauses.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && len(lists[order[j]]) < len(lists[order[j-1]]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	acc := append([]uint32(nil), lists[order[0]]...)
	var tmp []uint32
	for _, idx := range order[1:] {
		if len(acc) == 0 {
			return acc
		}
		tmp = Intersect(tmp, acc, lists[idx])
		acc, tmp = tmp, acc
	}
	return acc
}

// UnionMany unions all lists by pairwise merging.
func UnionMany(lists [][]uint32) []uint32 {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return append([]uint32(nil), lists[0]...)
	}
	work := make([][]uint32, len(lists))
	copy(work, lists)
	for len(work) > 1 {
		next := work[:0:0]
		for i := 0; i < len(work); i += 2 {
			if i+1 == len(work) {
				next = append(next, work[i])
				continue
			}
			next = append(next, Union(nil, work[i], work[i+1]))
		}
		work = next
	}
	return work[0]
}

// Contains reports whether x is in the sorted list.
func Contains(list []uint32, x uint32) bool {
	i := gallop(list, 0, x)
	return i < len(list) && list[i] == x
}

// gallop returns the first index >= lo with list[index] >= x.
func gallop(list []uint32, lo int, x uint32) int {
	n := len(list)
	if lo >= n || list[lo] >= x {
		return lo
	}
	step := 1
	hi := lo + step
	for hi < n && list[hi] < x {
		lo = hi
		step <<= 1
		hi = lo + step
	}
	if hi > n {
		hi = n
	}
	// list[lo] < x, and list[hi] >= x or hi == n.
	for lo+1 < hi {
		mid := int(uint(lo+hi) >> 1)
		if list[mid] < x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

// ==============================================================================
// Scalar kernels
// ==============================================================================

func intersectScalar(dst, a, b []uint32) []uint32 {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			dst = append(dst, a[i])
			i++
			j++
		}
	}
	return dst
}

func unionScalar(dst, a, b []uint32) []uint32 {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			dst = append(dst, a[i])
			i++
		case a[i] > b[j]:
			dst = append(dst, b[j])
			j++
		default:
			dst = append(dst, a[i])
			i++
			j++
		}
	}
	dst = append(dst, a[i:]...)
	return append(dst, b[j:]...)
}

func differenceScalar(dst, a, b []uint32) []uint32 {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			dst = append(dst, a[i])
			i++
		case a[i] > b[j]:
			j++
		default:
			i++
			j++
		}
	}
	return append(dst, a[i:]...)
}

// ==============================================================================
// Block kernels
// ==============================================================================

func intersectBlock8(dst, a, b []uint32) []uint32  { return intersectBlock(dst, a, b, 8) }
func intersectBlock16(dst, a, b []uint32) []uint32 { return intersectBlock(dst, a, b, 16) }
func unionBlock8(dst, a, b []uint32) []uint32      { return unionBlock(dst, a, b, 8) }
func unionBlock16(dst, a, b []uint32) []uint32     { return unionBlock(dst, a, b, 16) }
func differenceBlock8(dst, a, b []uint32) []uint32 { return differenceBlock(dst, a, b, 8) }
func differenceBlock16(dst, a, b []uint32) []uint32 {
	return differenceBlock(dst, a, b, 16)
}

func intersectGallop(dst, small, large []uint32) []uint32 {
	j := 0
	for _, x := range small {
		j = gallop(large, j, x)
		if j == len(large) {
			break
		}
		if large[j] == x {
			dst = append(dst, x)
			j++
		}
	}
	return dst
}

// lanesBelow counts the lanes of a sorted block that are smaller than x.
// Every lane is compared without branching, so the count is also the index
// of the first lane >= x.
func lanesBelow(block []uint32, x uint32) int {
	n := 0
	for _, v := range block {
		n += int((uint64(v) - uint64(x)) >> 63)
	}
	return n
}

func intersectBlock(dst, a, b []uint32, w int) []uint32 {
	if len(a)*gallopRatio < len(b) {
		return intersectGallop(dst, a, b)
	}
	if len(b)*gallopRatio < len(a) {
		return intersectGallop(dst, b, a)
	}

	na, nb := len(a), len(b)
	i, j := 0, 0
	for i < na && j < nb {
		if i+w <= na && a[i+w-1] < b[j] {
			i += w
			continue
		}
		x := a[i]
		if j+w <= nb {
			k := lanesBelow(b[j:j+w], x)
			j += k
			if k == w {
				continue
			}
			// b[j] >= x now.
			if b[j] == x {
				dst = append(dst, x)
				j++
			}
			i++
			continue
		}
		switch y := b[j]; {
		case x < y:
			i++
		case x > y:
			j++
		default:
			dst = append(dst, x)
			i++
			j++
		}
	}
	return dst
}

func unionBlock(dst, a, b []uint32, w int) []uint32 {
	na, nb := len(a), len(b)
	i, j := 0, 0
	for i < na && j < nb {
		if i+w <= na && a[i+w-1] < b[j] {
			dst = append(dst, a[i:i+w]...)
			i += w
			continue
		}
		x := a[i]
		if j+w <= nb {
			k := lanesBelow(b[j:j+w], x)
			dst = append(dst, b[j:j+k]...)
			j += k
			if k == w {
				continue
			}
			if b[j] == x {
				j++
			}
			dst = append(dst, x)
			i++
			continue
		}
		switch y := b[j]; {
		case x < y:
			dst = append(dst, x)
			i++
		case x > y:
			dst = append(dst, y)
			j++
		default:
			dst = append(dst, x)
			i++
			j++
		}
	}
	dst = append(dst, a[i:]...)
	return append(dst, b[j:]...)
}

func differenceBlock(dst, a, b []uint32, w int) []uint32 {
	na, nb := len(a), len(b)
	i, j := 0, 0
	for i < na && j < nb {
		if i+w <= na && a[i+w-1] < b[j] {
			dst = append(dst, a[i:i+w]...)
			i += w
			continue
		}
		x := a[i]
		if j+w <= nb {
			k := lanesBelow(b[j:j+w], x)
			j += k
			if k == w {
				continue
			}
			if b[j] == x {
				j++
			} else {
				dst = append(dst, x)
			}
			i++
			continue
		}
		switch y := b[j]; {
		case x < y:
			dst = append(dst, x)
			i++
		case x > y:
			j++
		default:
			i++
			j++
		}
	}
	return append(dst, a[i:]...)
}
