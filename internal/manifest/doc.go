// Package manifest implements atomic manifest persistence.
//
// The manifest records the durable state of the index: the set of sealed
// segments, the last published Version, the next SegmentID to allocate and
// the last WAL sequence number covered by sealed segments.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x54585447 ("TXTG")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32-IEEE of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID             (8 bytes) - Manifest sequence ID
//	  CreatedAt      (8 bytes) - Unix nanoseconds
//	  IndexVersion   (8 bytes) - Last published snapshot version
//	  NextSegmentID  (8 bytes)
//	  LastFlushedSeq (8 bytes) - WAL records up to here live in segments
//	  NextTxID       (8 bytes)
//	  NumSegments    (4 bytes)
//	  Segments[]: ID (8) Level (4) DocCount (4) Size (8) Path (string)
//
// Strings are length-prefixed (2-byte length + bytes).
//
// # Atomic Protocol
//
//  1. Write MANIFEST-NNNNNN.bin
//  2. Atomically replace CURRENT with the new file name
//
// Load reads CURRENT and then the manifest it names.
package manifest
