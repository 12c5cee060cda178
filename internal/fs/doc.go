// Package fs provides the filesystem seam used by the WAL and segment writers.
//
//   - [FileSystem] abstracts open/remove/rename/readdir so tests can swap it.
//   - [LocalFS] is the production implementation.
//   - [FaultyFS] injects write, sync and close failures per file pattern.
//   - [Lock] holds an exclusive flock on a data directory.
//
// Operations take no context: local syscalls are not interruptible. Remote
// storage goes through the blobstore package, which does.
package fs
