package simd

import (
	"os"
	"runtime"
	"strings"
)

// ISA names an instruction set whose vector width sizes the block kernels.
type ISA uint8

const (
	Generic ISA = iota
	NEON
	SVE2
	AVX2
	AVX512
)

var isaNames = [...]string{
	Generic: "generic",
	NEON:    "neon",
	SVE2:    "sve2",
	AVX2:    "avx2",
	AVX512:  "avx512",
}

func (i ISA) String() string {
	if int(i) < len(isaNames) {
		return isaNames[i]
	}
	return "unknown"
}

// ParseISA parses an ISA name, ignoring case and surrounding space.
func ParseISA(s string) (ISA, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range isaNames {
		if name == s {
			return ISA(i), true
		}
	}
	return Generic, false
}

// OverrideEnv selects the ISA when set to a supported name.
const OverrideEnv = "TEXTGO_SIMD"

// cpuFeatures is filled by the per-architecture init.
type cpuFeatures struct {
	neon, sve2     bool
	avx2, avx512bw bool
}

var (
	features   cpuFeatures
	activeISA  ISA
	overridden bool
)

func (f cpuFeatures) supports(isa ISA) bool {
	switch isa {
	case Generic:
		return true
	case NEON:
		return f.neon
	case SVE2:
		return f.sve2
	case AVX2:
		return f.avx2
	case AVX512:
		return f.avx512bw
	}
	return false
}

// best picks the widest supported ISA. Apple cores report no usable SVE2.
func (f cpuFeatures) best() ISA {
	order := []ISA{AVX512, AVX2, SVE2, NEON}
	for _, isa := range order {
		if isa == SVE2 && runtime.GOOS == "darwin" {
			continue
		}
		if f.supports(isa) {
			return isa
		}
	}
	return Generic
}

// setup runs once the features are known.
func setup(f cpuFeatures) {
	features = f
	activeISA = f.best()
	if v, ok := os.LookupEnv(OverrideEnv); ok {
		if isa, ok := ParseISA(v); ok && f.supports(isa) {
			activeISA, overridden = isa, true
		}
	}
	useKernels(activeISA)
}

// ActiveISA returns the ISA whose kernels are in use.
func ActiveISA() ISA { return activeISA }

// IsOverridden reports whether TEXTGO_SIMD picked the ISA.
func IsOverridden() bool { return overridden }

// Supports reports whether the CPU can run isa.
func Supports(isa ISA) bool { return features.supports(isa) }
