// Package segment implements the immutable on-disk unit of the index.
//
// A sealed segment is a directory seg_NNNNNN/ holding four files:
//
//   - meta.bin: segment header, per-field statistics, the docID-per-ordinal
//     table, per-document field lengths (norms) and the stored-field block index
//   - terms.dict: the sorted term dictionary (field\x00term -> df, offset, length)
//   - postings.dat: codec-compressed posting lists, one block per key
//   - stored.dat: codec-compressed stored-field blocks of StoredBlockDocs documents
//
// Every file ends with a CRC32C trailer. Deletions are not part of the sealed
// directory; they live in a roaring bitmap sidecar (seg_NNNNNN.del) that the
// engine rewrites as tombstones accumulate.
//
// The in-memory buffer, sealed segments and merge inputs all implement Source,
// so the writer and the query path treat them uniformly.
package segment
