package simd

import (
	"fmt"
	"os"
	"runtime"
	"testing"
)

func TestMain(m *testing.M) {
	fmt.Printf("simd: %s/%s isa=%s width=%d override=%v\n",
		runtime.GOOS, runtime.GOARCH, ActiveISA(), BlockWidth(), IsOverridden())
	for _, isa := range []ISA{NEON, SVE2, AVX2, AVX512} {
		fmt.Printf("  %-7s %v\n", isa, Supports(isa))
	}
	os.Exit(m.Run())
}
