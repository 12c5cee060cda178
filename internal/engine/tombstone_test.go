package engine

import (
	"sync"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/textgo/model"
)

func TestVersionedTombstones_Visibility(t *testing.T) {
	vt := NewVersionedTombstones(10)

	assert.True(t, vt.MarkDeleted(3, 5))
	assert.False(t, vt.MarkDeleted(3, 7), "a later delete does not move the version")
	assert.True(t, vt.MarkDeleted(3, 4), "an earlier delete wins")

	assert.False(t, vt.IsDeleted(3, 3))
	assert.True(t, vt.IsDeleted(3, 4))
	assert.True(t, vt.IsDeleted(3, 100))
	assert.Equal(t, model.Version(4), vt.DeletedAt(3))
	assert.False(t, vt.IsDeleted(2, 100))

	// Ordinals past the initial size grow the directory.
	assert.True(t, vt.MarkDeleted(3*chunkSize+1, 6))
	assert.True(t, vt.IsDeleted(3*chunkSize+1, 6))

	assert.Equal(t, 2, vt.Len())
	assert.Equal(t, 1, vt.Count(5))
	assert.Equal(t, 2, vt.Count(6))
}

func TestVersionedTombstones_Bitmap(t *testing.T) {
	vt := NewVersionedTombstones(0)
	vt.MarkDeleted(1, 2)
	vt.MarkDeleted(9, 8)

	assert.Equal(t, []uint32{1}, vt.ToBitmap(5).ToArray())
	assert.Equal(t, []uint32{1, 9}, vt.ToBitmap(8).ToArray())
	assert.True(t, vt.Dirty())
	vt.MarkPersisted(vt.Len())
	assert.False(t, vt.Dirty())

	loaded := NewVersionedTombstones(16)
	loaded.LoadFromBitmap(roaring.BitmapOf(4, 7), 3)
	assert.False(t, loaded.Dirty())
	assert.True(t, loaded.IsDeleted(7, 3))
	assert.False(t, loaded.IsDeleted(7, 2))

	var seen []uint32
	loaded.ForEach(func(ord uint32, v model.Version) {
		assert.Equal(t, model.Version(3), v)
		seen = append(seen, ord)
	})
	assert.ElementsMatch(t, []uint32{4, 7}, seen)
}

func TestTombstoneFilter(t *testing.T) {
	vt := NewVersionedTombstones(8)
	assert.True(t, NewTombstoneFilter(vt, 10).Empty())

	vt.MarkDeleted(2, 5)
	before := NewTombstoneFilter(vt, 4)
	after := NewTombstoneFilter(vt, 5)
	assert.True(t, before.Live(2))
	assert.False(t, after.Live(2))
	assert.True(t, after.Live(3))

	// Filters are immutable views.
	vt.MarkDeleted(3, 5)
	assert.True(t, after.Live(3))
}

func TestVersionedTombstones_ConcurrentReaders(t *testing.T) {
	vt := NewVersionedTombstones(0)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				ord := uint32(i)
				if vt.IsDeleted(ord, model.Version(i+1)) {
					assert.NotZero(t, vt.DeletedAt(ord))
				}
			}
		}()
	}
	for i := 0; i < 2000; i++ {
		vt.MarkDeleted(uint32(i), model.Version(i+1))
	}
	wg.Wait()
	assert.Equal(t, 2000, vt.Len())
}
