package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type particle struct {
	X, Y  float32
	Speed float64
	Alive bool
	Tag   string
}

func TestSoAStorageRoundTrip(t *testing.T) {
	compType, err := NewSoAComponent[particle]().
		Float32("X").
		Float32("Y").
		Float64("Speed").
		Bool("Alive").
		String("Tag").
		Build()
	require.NoError(t, err)

	storage := compType.NewStorage()

	require.NoError(t, storage.Add(1, particle{X: 1, Y: 2, Speed: 3.5, Alive: true, Tag: "a"}))
	require.NoError(t, storage.Add(2, particle{X: 4, Y: 5, Speed: 6.5, Alive: false, Tag: "b"}))
	require.NoError(t, storage.Add(3, particle{X: 7, Y: 8, Speed: 9.5, Alive: true, Tag: "c"}))

	assert.Equal(t, 3, storage.Size())
	assert.True(t, storage.Has(2))

	got, ok := storage.Get(2)
	require.True(t, ok)
	assert.Equal(t, particle{X: 4, Y: 5, Speed: 6.5, Alive: false, Tag: "b"}, got)

	// Re-adding an already-present entity is an error.
	assert.Error(t, storage.Add(2, particle{}))
}

func TestSoAStorageRemoveLeavesHoleWithoutRelocating(t *testing.T) {
	compType, err := NewSoAComponent[particle]().Float32("X").Build()
	require.NoError(t, err)
	storage := compType.NewStorage()

	require.NoError(t, storage.Add(1, particle{X: 1}))
	require.NoError(t, storage.Add(2, particle{X: 2}))
	require.NoError(t, storage.Add(3, particle{X: 3}))

	assert.True(t, storage.Remove(1))
	assert.False(t, storage.Has(1))
	assert.Equal(t, 2, storage.Size())

	// Removing entity 1 must not relocate entities 2 or 3 into its slot.
	got2, ok := storage.Get(2)
	require.True(t, ok)
	assert.Equal(t, float32(2), got2.X)
	got3, ok := storage.Get(3)
	require.True(t, ok)
	assert.Equal(t, float32(3), got3.X)

	assert.False(t, storage.Remove(99))

	// The freed slot is reused by the next Add instead of appending.
	require.NoError(t, storage.Add(4, particle{X: 4}))
	assert.Equal(t, 3, storage.Size())
	got4, ok := storage.Get(4)
	require.True(t, ok)
	assert.Equal(t, float32(4), got4.X)
}

func TestSoAStorageCompactReordersAscendingAndReclaimsHoles(t *testing.T) {
	compType, err := NewSoAComponent[particle]().Float32("X").Build()
	require.NoError(t, err)
	storage := compType.NewStorage()

	for _, id := range []uint32{5, 3, 1, 4, 2} {
		require.NoError(t, storage.Add(id, particle{X: float32(id)}))
	}
	require.True(t, storage.Remove(3))
	require.True(t, storage.Remove(5))

	storage.Compact()

	var seenIDs []uint32
	storage.Iterate(func(id uint32, v particle) bool {
		seenIDs = append(seenIDs, id)
		assert.Equal(t, float32(id), v.X)
		return true
	})
	assert.Equal(t, []uint32{1, 2, 4}, seenIDs, "Compact must repack surviving entities in ascending id order")

	col, ok := storage.FieldColumn("X")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 4}, col, "columns must be reordered ascending too, with no trailing holes")

	// The reclaimed slots are available for reuse again.
	require.NoError(t, storage.Add(6, particle{X: 6}))
	assert.Equal(t, 4, storage.Size())
}

func TestSoAStorageIterate(t *testing.T) {
	compType, err := NewSoAComponent[particle]().Float32("X").Build()
	require.NoError(t, err)
	storage := compType.NewStorage()

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, storage.Add(i, particle{X: float32(i)}))
	}

	seen := map[uint32]float32{}
	storage.Iterate(func(id uint32, v particle) bool {
		seen[id] = v.X
		return true
	})
	assert.Len(t, seen, 5)
	assert.Equal(t, float32(3), seen[3])
}

func TestSoAStoragePerformVectorizedAndCompact(t *testing.T) {
	compType, err := NewSoAComponent[particle]().Float32("X").Build()
	require.NoError(t, err)
	storage := compType.NewStorage()

	require.NoError(t, storage.Add(1, particle{X: 1}))
	require.NoError(t, storage.Add(2, particle{X: 2}))

	err = storage.PerformVectorizedF32("X", func(v float32) float32 { return v * 10 })
	require.NoError(t, err)

	col, ok := storage.FieldColumn("X")
	require.True(t, ok)
	assert.Equal(t, []float32{10, 20}, col)

	// Get/Iterate still see the stale cached value until Compact runs.
	stale, _ := storage.Get(1)
	assert.Equal(t, float32(1), stale.X)

	storage.Compact()

	fresh, _ := storage.Get(1)
	assert.Equal(t, float32(10), fresh.X)
}

func TestSoAStorageClear(t *testing.T) {
	compType, err := NewSoAComponent[particle]().Float32("X").String("Tag").Build()
	require.NoError(t, err)
	storage := compType.NewStorage()

	require.NoError(t, storage.Add(1, particle{X: 1, Tag: "a"}))
	storage.Clear()

	assert.Equal(t, 0, storage.Size())
	assert.False(t, storage.Has(1))
	require.NoError(t, storage.Add(1, particle{X: 2, Tag: "b"}))
	got, ok := storage.Get(1)
	require.True(t, ok)
	assert.Equal(t, float32(2), got.X)
}
