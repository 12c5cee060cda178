// Package blobstore provides the storage abstraction used for manifests,
// tombstone sidecars and backups.
//
// BlobStore is the interface for reading and writing named blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem; Put is an atomic rename
//   - MemoryStore: in-memory, for tests
//   - minio.Store: MinIO and other S3-compatible services
//   - s3.Store: Amazon S3 with multipart uploads
//
// Names use forward slashes ("seg_000001/meta.bin"); LocalStore maps them to
// nested directories.
package blobstore
