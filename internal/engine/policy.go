package engine

import (
	"cmp"
	"math"
	"slices"

	"github.com/hupe1980/textgo/model"
)

// SegmentStats holds metadata about a segment needed for merge decisions.
type SegmentStats struct {
	ID    model.SegmentID
	Size  int64
	Docs  uint32
	Level int
}

// MergeTask describes a merge unit of work.
type MergeTask struct {
	Segments    []model.SegmentID
	TargetLevel int
}

// MergePolicy determines which sealed segments should be merged.
type MergePolicy interface {
	// Pick selects segments to merge from segments, which are ordered by
	// creation. It returns nil if no merge is needed.
	Pick(segments []SegmentStats) *MergeTask
}

const (
	mib = 1 << 20

	defaultSegmentsPerTier = 10
	defaultMaxMerge        = 10
	defaultMinMerge        = 2
	defaultMaxSegmentBytes = 512 * mib
	defaultTierFloor       = 1 * mib
	defaultTierRatio       = 10
	defaultLogThreshold    = 4
)

// tierOf buckets size into log-ratio tiers above floor.
func tierOf(size, floor int64, ratio float64) int {
	if size <= floor || floor <= 0 || ratio <= 1 {
		return 0
	}
	return int(math.Log(float64(size)/float64(floor)) / math.Log(ratio))
}

func targetLevel(segs []SegmentStats) int {
	lvl := 0
	for _, s := range segs {
		lvl = max(lvl, s.Level)
	}
	return lvl + 1
}

func ids(segs []SegmentStats) []model.SegmentID {
	out := make([]model.SegmentID, len(segs))
	for i, s := range segs {
		out[i] = s.ID
	}
	return out
}

// TieredMergePolicy buckets segments by size tier and merges within the
// smallest tier that has accumulated SegmentsPerTier segments.
type TieredMergePolicy struct {
	SegmentsPerTier int
	MaxMerge        int
	MinMerge        int
	// MaxSegmentBytes excludes larger segments from merging.
	MaxSegmentBytes int64
	FloorBytes      int64
	Ratio           float64
}

// NewTieredMergePolicy returns a TieredMergePolicy with default knobs.
func NewTieredMergePolicy() *TieredMergePolicy {
	return &TieredMergePolicy{
		SegmentsPerTier: defaultSegmentsPerTier,
		MaxMerge:        defaultMaxMerge,
		MinMerge:        defaultMinMerge,
		MaxSegmentBytes: defaultMaxSegmentBytes,
		FloorBytes:      defaultTierFloor,
		Ratio:           defaultTierRatio,
	}
}

func (p *TieredMergePolicy) Pick(segments []SegmentStats) *MergeTask {
	perTier := cmp.Or(p.SegmentsPerTier, defaultSegmentsPerTier)
	maxMerge := cmp.Or(p.MaxMerge, defaultMaxMerge)
	minMerge := max(cmp.Or(p.MinMerge, defaultMinMerge), 2)
	maxBytes := cmp.Or(p.MaxSegmentBytes, defaultMaxSegmentBytes)
	floor := cmp.Or(p.FloorBytes, defaultTierFloor)
	ratio := cmp.Or(p.Ratio, defaultTierRatio)

	tiers := make(map[int][]SegmentStats)
	for _, s := range segments {
		if s.Size > maxBytes {
			continue
		}
		t := tierOf(s.Size, floor, ratio)
		tiers[t] = append(tiers[t], s)
	}

	keys := make([]int, 0, len(tiers))
	for t := range tiers {
		keys = append(keys, t)
	}
	slices.Sort(keys)

	for _, t := range keys {
		segs := tiers[t]
		if len(segs) < perTier {
			continue
		}
		slices.SortFunc(segs, func(a, b SegmentStats) int { return cmp.Compare(a.ID, b.ID) })

		var (
			picked []SegmentStats
			total  int64
		)
		for _, s := range segs {
			if len(picked) == maxMerge || total+s.Size > maxBytes {
				break
			}
			picked = append(picked, s)
			total += s.Size
		}
		if len(picked) >= minMerge {
			return &MergeTask{Segments: ids(picked), TargetLevel: targetLevel(picked)}
		}
	}
	return nil
}

// LogStructuredMergePolicy merges strictly in creation order: the oldest
// contiguous run of at least Threshold segments in one size tier.
type LogStructuredMergePolicy struct {
	Threshold  int
	FloorBytes int64
	Ratio      float64
}

// NewLogStructuredMergePolicy returns a LogStructuredMergePolicy with
// default knobs.
func NewLogStructuredMergePolicy() *LogStructuredMergePolicy {
	return &LogStructuredMergePolicy{
		Threshold:  defaultLogThreshold,
		FloorBytes: defaultTierFloor,
		Ratio:      defaultTierRatio,
	}
}

func (p *LogStructuredMergePolicy) Pick(segments []SegmentStats) *MergeTask {
	threshold := max(cmp.Or(p.Threshold, defaultLogThreshold), 2)
	floor := cmp.Or(p.FloorBytes, defaultTierFloor)
	ratio := cmp.Or(p.Ratio, defaultTierRatio)

	segs := slices.SortedFunc(slices.Values(segments), func(a, b SegmentStats) int {
		return cmp.Compare(a.ID, b.ID)
	})

	start := 0
	for i := 1; i <= len(segs); i++ {
		if i < len(segs) && tierOf(segs[i].Size, floor, ratio) == tierOf(segs[start].Size, floor, ratio) {
			continue
		}
		if run := segs[start:i]; len(run) >= threshold {
			return &MergeTask{Segments: ids(run), TargetLevel: targetLevel(run)}
		}
		start = i
	}
	return nil
}

// ForceMergePolicy merges every segment into one.
type ForceMergePolicy struct{}

func (ForceMergePolicy) Pick(segments []SegmentStats) *MergeTask {
	if len(segments) == 0 {
		return nil
	}
	return &MergeTask{Segments: ids(segments), TargetLevel: targetLevel(segments)}
}
