package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/textgo/internal/segment"
	"github.com/hupe1980/textgo/model"
)

// errMergeAborted is returned when an input segment left the index while the
// merge output was being written.
var errMergeAborted = errors.New("merge aborted: input segment no longer current")

// Compact consults the merge policy once and runs the merge it picks.
func (e *Engine) Compact(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	task := e.policy.Pick(e.segmentStats())
	if task == nil {
		return nil
	}
	return e.CompactSegments(ctx, task.Segments, task.TargetLevel)
}

// ForceMerge merges every sealed segment into one. A lone segment without
// deletions is left alone.
func (e *Engine) ForceMerge(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	task := ForceMergePolicy{}.Pick(e.segmentStats())
	if task == nil {
		return nil
	}
	if len(task.Segments) == 1 {
		snap, err := e.mvcc.acquire()
		if err != nil {
			return err
		}
		seg := snap.byID[task.Segments[0]]
		clean := seg == nil || seg.tomb.Count(snap.version) == 0
		snap.DecRef()
		if clean {
			return nil
		}
	}
	return e.CompactSegments(ctx, task.Segments, task.TargetLevel)
}

// segmentStats describes the sealed segments of the current snapshot.
func (e *Engine) segmentStats() []SegmentStats {
	snap, err := e.mvcc.acquire()
	if err != nil {
		return nil
	}
	defer snap.DecRef()

	out := make([]SegmentStats, 0, len(snap.segments))
	for _, seg := range snap.segments {
		if !seg.Sealed() {
			continue
		}
		out = append(out, SegmentStats{
			ID:    seg.ID(),
			Size:  seg.src.Size(),
			Docs:  seg.src.Len() - uint32(seg.tomb.Count(snap.version)),
			Level: seg.level,
		})
	}
	return out
}

// CompactSegments merges the given sealed segments into one segment at
// targetLevel. Readers are never blocked:
//  1. Pin a snapshot and capture the tombstones of the inputs.
//  2. Write the merged segment without locks.
//  3. Under the commit lock: verify the inputs, carry over later deletes,
//     relocate primary keys and publish.
//
// Input files are deleted once the new manifest is durable and the last
// snapshot referencing them is released.
func (e *Engine) CompactSegments(ctx context.Context, ids []model.SegmentID, targetLevel int) (err error) {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	start := time.Now()
	var outputDocs int
	defer func() {
		e.metrics.OnCompaction(time.Since(start), len(ids), outputDocs, err)
	}()

	// --- Phase 1: snapshot ---
	snap, err := e.mvcc.acquire()
	if err != nil {
		return err
	}
	defer snap.DecRef()

	inputs := make([]*RefCountedSegment, 0, len(ids))
	srcs := make([]segment.Source, 0, len(ids))
	deleted := make([]*roaring.Bitmap, 0, len(ids))
	for _, id := range ids {
		seg := snap.byID[id]
		if seg == nil || !seg.Sealed() {
			return fmt.Errorf("%w: segment %d is not a sealed segment", ErrInvalidArgument, id)
		}
		inputs = append(inputs, seg)
		srcs = append(srcs, seg.src)
		deleted = append(deleted, seg.tomb.ToBitmap(snap.version))
	}

	// --- Phase 2: merge ---
	outID := e.allocSegmentID()
	ms := segment.NewMergeSource(outID, srcs, deleted)
	outputDocs = int(ms.Len())

	var out *RefCountedSegment
	if ms.Len() > 0 {
		info, err := segment.Write(ctx, e.fs, e.dir, outID, ms, segment.WriteOptions{
			Codec:      e.codec,
			Controller: e.rc,
		})
		if err != nil {
			return ioError("write merged segment", err)
		}
		seg, err := e.openSegment(outID)
		if err != nil {
			_ = segment.Remove(e.fs, e.dir, outID)
			return err
		}
		e.metrics.OnThroughput("compaction_write", info.Size)
		out = newSealedHandle(seg, nil, targetLevel)
	}

	// --- Phase 3: commit ---
	e.manifestMu.Lock()
	defer e.manifestMu.Unlock()

	e.commitMu.Lock()
	cur := e.mvcc.current.Load()
	for _, in := range inputs {
		if cur.byID[in.ID()] != in {
			e.commitMu.Unlock()
			if out != nil {
				_ = out.sealed.Close()
				_ = segment.Remove(e.fs, e.dir, outID)
			}
			return errMergeAborted
		}
	}

	v := cur.version + 1
	remap := ms.Remap()
	var moved, skipped int
	for i, in := range inputs {
		// Deletes committed after the pinned snapshot still apply to the
		// merged copies.
		in.tomb.ForEach(func(ord uint32, dv model.Version) {
			if dv <= snap.version || out == nil {
				return
			}
			if n := remap[i][ord]; n >= 0 {
				out.tomb.MarkDeleted(uint32(n), dv)
			}
		})
		if out == nil {
			continue
		}
		for ord, n := range remap[i] {
			if n < 0 {
				continue
			}
			from := model.Location{SegmentID: in.ID(), Ordinal: model.Ordinal(ord)}
			to := model.Location{SegmentID: outID, Ordinal: model.Ordinal(n)}
			if e.pk.Relocate(in.src.DocID(uint32(ord)), from, to, v) {
				moved++
			} else {
				skipped++
			}
		}
	}

	segments := make([]*RefCountedSegment, 0, len(cur.segments)-len(inputs)+1)
	for _, s := range cur.segments {
		if !slices.Contains(inputs, s) {
			segments = append(segments, s)
		}
	}
	if out != nil {
		segments = append(segments, out)
	}
	sortSegments(segments)

	var durable atomic.Bool
	for _, in := range inputs {
		in.retired.Store(true)
		id := in.ID()
		in.SetOnClose(func() {
			if durable.Load() {
				e.removeSegmentFiles(id)
			}
		})
	}
	e.publishLocked(cur.derive(v, segments, nil, nil))
	e.commitMu.Unlock()

	if err := e.checkpointLocked(ctx, 0); err != nil {
		// Until a manifest without the inputs is saved, recovery still
		// needs their files.
		return err
	}
	durable.Store(true)
	for _, in := range inputs {
		if in.refs.Load() == 0 {
			e.removeSegmentFiles(in.ID())
		}
	}

	e.logger.Info("Merge completed",
		"inputs", ids,
		"output", outID,
		"docs", outputDocs,
		"moved", moved,
		"skipped", skipped,
		"duration", time.Since(start),
	)
	return nil
}

func (e *Engine) removeSegmentFiles(id model.SegmentID) {
	if err := segment.Remove(e.fs, e.dir, id); err != nil {
		e.logger.Warn("Failed to remove retired segment", "segmentID", id, "error", err)
	}
}

// backoff bounds the retry delay of the background loops.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	attempt    int
}

func newBackoff() *backoff {
	return &backoff{
		initial:    500 * time.Millisecond,
		max:        time.Minute,
		multiplier: 2,
		jitter:     0.1,
	}
}

func (b *backoff) next() time.Duration {
	d := float64(b.initial) * math.Pow(b.multiplier, float64(b.attempt))
	d += d * b.jitter * (2*rand.Float64() - 1)
	b.attempt++
	if d > float64(b.max) {
		d = float64(b.max)
	}
	if d < 0 {
		d = float64(b.initial)
	}
	return time.Duration(d)
}

func (b *backoff) reset() { b.attempt = 0 }

// runCompactionLoop merges segments whenever the policy finds work, on a
// timer and after every flush.
func (e *Engine) runCompactionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.compactionInterval)
	defer ticker.Stop()
	bo := newBackoff()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		case <-e.compactCh:
		}

		if err := e.rc.AcquireBackground(e.ctx); err != nil {
			return
		}
		err := e.Compact(e.ctx)
		e.rc.ReleaseBackground()

		switch {
		case err == nil:
			bo.reset()
		case errors.Is(err, ErrClosed) || e.ctx.Err() != nil:
			return
		default:
			delay := bo.next()
			e.logger.Warn("Background merge failed, backing off", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-e.ctx.Done():
				return
			}
		}
	}
}

// runFlushLoop seals the buffer whenever a writer reports it full.
func (e *Engine) runFlushLoop() {
	defer e.wg.Done()
	bo := newBackoff()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.flushCh:
		}

		err := e.flush(e.ctx)
		switch {
		case err == nil:
			bo.reset()
		case errors.Is(err, ErrClosed) || e.ctx.Err() != nil:
			return
		default:
			delay := bo.next()
			e.logger.Warn("Background flush failed, backing off", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-e.ctx.Done():
				return
			}
			e.signalFlush()
		}
	}
}

func (e *Engine) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

func (e *Engine) signalCompaction() {
	if e.compactCh == nil {
		return
	}
	select {
	case e.compactCh <- struct{}{}:
	default:
	}
}
