//go:build amd64

package simd

import "golang.org/x/sys/cpu"

func init() {
	setup(cpuFeatures{
		avx2:     cpu.X86.HasAVX2,
		avx512bw: cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW,
	})
}
