package engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/internal/fs"
	"github.com/hupe1980/textgo/internal/manifest"
	"github.com/hupe1980/textgo/internal/segment"
)

// backupConcurrency bounds concurrent uploads.
const backupConcurrency = 8

// BackupInfo summarizes a finished backup.
type BackupInfo struct {
	ManifestID uint64
	Segments   int
	Files      int
	Bytes      int64
	Duration   time.Duration
}

// Backup flushes, pins a snapshot and copies its sealed segments, their
// tombstones and a manifest describing exactly that set to dst. The layout
// in dst is that of a data directory, so it can be opened after download.
func (e *Engine) Backup(ctx context.Context, dst blobstore.BlobStore) (BackupInfo, error) {
	start := time.Now()
	if dst == nil {
		return BackupInfo{}, fmt.Errorf("%w: nil backup store", ErrInvalidArgument)
	}
	if err := e.flush(ctx); err != nil {
		return BackupInfo{}, err
	}
	snap, err := e.BeginSnapshot()
	if err != nil {
		return BackupInfo{}, err
	}
	defer snap.DecRef()

	e.manifestMu.Lock()
	m := e.manifest.Clone()
	e.manifestMu.Unlock()
	m.Segments = m.Segments[:0]
	m.IndexVersion = snap.version

	var (
		info    BackupInfo
		uploads []func() (int64, error)
	)
	for _, seg := range snap.segments {
		if !seg.Sealed() {
			continue
		}
		id := seg.ID()
		dir := segment.DirName(id)
		entries, err := e.fs.ReadDir(filepath.Join(e.dir, dir))
		if err != nil {
			return info, ioError("list segment files", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			uploads = append(uploads, func() (int64, error) {
				data, err := fs.ReadFile(e.fs, filepath.Join(e.dir, dir, name))
				if err != nil {
					return 0, err
				}
				return int64(len(data)), dst.Put(ctx, path.Join(dir, name), data)
			})
		}

		if bm := seg.tomb.ToBitmap(snap.version); !bm.IsEmpty() {
			bm.RunOptimize()
			data, err := bm.ToBytes()
			if err != nil {
				return info, fmt.Errorf("encode tombstones of segment %d: %w", id, err)
			}
			uploads = append(uploads, func() (int64, error) {
				return int64(len(data)), dst.Put(ctx, segment.TombstoneFileName(id), data)
			})
		}

		m.Segments = append(m.Segments, manifest.SegmentInfo{
			ID:       id,
			Level:    seg.level,
			DocCount: seg.src.Len(),
			Size:     seg.src.Size(),
			Path:     dir,
		})
		info.Segments++
	}

	sizes := make([]int64, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backupConcurrency)
	for i, up := range uploads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := up()
			sizes[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return info, ioError("backup upload", err)
	}
	for _, n := range sizes {
		info.Bytes += n
	}
	info.Files = len(uploads)

	// The manifest goes last so a partial backup is never loadable.
	if err := manifest.NewStore(dst).Save(ctx, m); err != nil {
		return info, ioError("backup manifest", err)
	}
	info.ManifestID = m.ID
	info.Duration = time.Since(start)
	e.metrics.OnThroughput("backup", info.Bytes)
	e.logger.Info("Backup completed", "segments", info.Segments, "files", info.Files, "bytes", info.Bytes, "duration", info.Duration)
	return info, nil
}
