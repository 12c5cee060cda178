// Package simd provides set operations over sorted posting ordinals.
//
// All operations take strictly ascending []uint32 inputs and produce strictly
// ascending output, identical to a scalar merge.
//
// # Kernels
//
//   - scalar: one comparison per step; used on the Generic ISA
//   - block: compares one candidate against every lane of a fixed-width
//     block of the other list at once (lanesBelow), skipping whole blocks
//     when all lanes are smaller, and gallops when one input is much
//     shorter than the other
//
// The block width follows the detected vector width: 8 lanes for AVX2 and
// NEON, 16 for AVX-512 and SVE2. Detection uses golang.org/x/sys/cpu and can be
// overridden with TEXTGO_SIMD=generic|neon|sve2|avx2|avx512.
package simd
