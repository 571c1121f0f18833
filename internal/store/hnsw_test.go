package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	store, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// axisVector returns a unit vector along the given axis.
func axisVector(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1.0
	return v
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	store := newTestHNSW(t, 4)
	ctx := context.Background()

	// Given: vectors along different axes
	ids := []string{"x", "y", "z"}
	vectors := [][]float32{
		axisVector(4, 0),
		axisVector(4, 1),
		axisVector(4, 2),
	}
	require.NoError(t, store.Add(ctx, ids, vectors))

	// When: searching near the x axis
	query := []float32{0.9, 0.1, 0, 0}
	results, err := store.Search(ctx, query, 2)
	require.NoError(t, err)

	// Then: x is the nearest neighbor with the highest score
	require.NotEmpty(t, results)
	assert.Equal(t, "x", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.9))
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	store := newTestHNSW(t, 4)
	ctx := context.Background()

	// Adding a wrong-length vector fails with the typed error.
	err := store.Add(ctx, []string{"bad"}, [][]float32{{1, 2}})
	require.Error(t, err)
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	// So does querying with one.
	_, err = store.Search(ctx, []float32{1, 2, 3}, 1)
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Got)
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	store := newTestHNSW(t, 4)

	results, err := store.Search(context.Background(), axisVector(4, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStore_DeleteHidesVectors(t *testing.T) {
	store := newTestHNSW(t, 4)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, []string{"a", "b"}, [][]float32{
		axisVector(4, 0),
		axisVector(4, 1),
	}))

	// When: deleting one ID
	require.NoError(t, store.Delete(ctx, []string{"a"}))

	// Then: it no longer appears anywhere
	assert.False(t, store.Contains("a"))
	assert.True(t, store.Contains("b"))
	assert.Equal(t, 1, store.Count())

	results, err := store.Search(ctx, axisVector(4, 0), 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}

	// And: the graph node remains as an orphan
	stats := store.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWStore_ReAddOrphansOldNode(t *testing.T) {
	store := newTestHNSW(t, 4)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, []string{"a"}, [][]float32{axisVector(4, 0)}))

	// When: re-adding the same ID with a new vector
	require.NoError(t, store.Add(ctx, []string{"a"}, [][]float32{axisVector(4, 1)}))

	// Then: searches resolve to the new vector
	results, err := store.Search(ctx, axisVector(4, 1), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.99))

	// And: one live ID, one orphaned node
	stats := store.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWStore_LengthMismatch(t *testing.T) {
	store := newTestHNSW(t, 4)

	err := store.Add(context.Background(), []string{"a", "b"}, [][]float32{axisVector(4, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestHNSWStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	store := newTestHNSW(t, 4)
	require.NoError(t, store.Add(ctx, []string{"a", "b", "c"}, [][]float32{
		axisVector(4, 0),
		axisVector(4, 1),
		axisVector(4, 2),
	}))
	require.NoError(t, store.Delete(ctx, []string{"c"}))
	require.NoError(t, store.Save(path))

	// When: loading into a fresh store
	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load(path))

	// Then: live IDs and deletions survived
	assert.Equal(t, 2, loaded.Count())
	assert.True(t, loaded.Contains("a"))
	assert.False(t, loaded.Contains("c"))

	results, err := loaded.Search(ctx, axisVector(4, 1), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestReadHNSWDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	// Missing store reads as 0 dimensions.
	dims, err := ReadHNSWDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 0, dims)

	// A saved store reports its configured dimensions.
	store := newTestHNSW(t, 8)
	require.NoError(t, store.Add(context.Background(), []string{"a"}, [][]float32{axisVector(8, 0)}))
	require.NoError(t, store.Save(path))

	dims, err = ReadHNSWDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 8, dims)
}

func TestNewHNSWStore_RequiresDimensions(t *testing.T) {
	_, err := NewHNSWStore(VectorStoreConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestHNSWStore_CosineNormalization(t *testing.T) {
	store := newTestHNSW(t, 3)
	ctx := context.Background()

	// Scaled copies of the same direction are identical under cosine.
	require.NoError(t, store.Add(ctx, []string{"unit", "scaled"}, [][]float32{
		{1, 0, 0},
		{100, 0, 0},
	}))

	results, err := store.Search(ctx, []float32{5, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.InDelta(t, 1.0, float64(r.Score), 1e-5)
	}
}

func TestDistanceToScore(t *testing.T) {
	// Cosine: identical vectors score 1, opposite score 0.
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "cos")), 1e-6)
	assert.InDelta(t, 0.0, float64(distanceToScore(2, "cos")), 1e-6)

	// L2: zero distance scores 1, growing distance decays toward 0.
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "l2")), 1e-6)
	assert.Less(t, float64(distanceToScore(10, "l2")), 0.1)
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeInPlace(v)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	// Zero vectors are left untouched instead of dividing by zero.
	zero := []float32{0, 0}
	normalizeInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestHNSWStore_ClosedStore(t *testing.T) {
	store := newTestHNSW(t, 4)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.Error(t, store.Add(ctx, []string{"a"}, [][]float32{axisVector(4, 0)}))
	_, err := store.Search(ctx, axisVector(4, 0), 1)
	assert.Error(t, err)
	assert.Equal(t, 0, store.Count())
	assert.Nil(t, store.AllIDs())
}
