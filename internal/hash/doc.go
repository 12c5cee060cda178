// Package hash holds the checksum shared by the WAL frames, the segment
// trailers and the manifest header. Every format uses CRC32-Castagnoli.
package hash
