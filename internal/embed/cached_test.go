package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedder_RepeatQuery_HitsCache(t *testing.T) {
	// Given: a cached embedder over a counting inner
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16)
	defer func() { _ = cached.Close() }()

	// When: embedding the same text twice
	first, err := cached.Embed(context.Background(), "how does auth work")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "how does auth work")
	require.NoError(t, err)

	// Then: the inner embedder ran once
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.embedCalls))
	assert.Equal(t, 1, cached.CacheLen())
}

func TestCachedEmbedder_Batch_OnlyMissesHitInner(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16)
	defer func() { _ = cached.Close() }()

	// Warm one entry.
	_, err := cached.Embed(context.Background(), "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Inner batch saw only beta and gamma.
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.batchCalls))
	assert.Equal(t, 3, cached.CacheLen())

	// A fully cached batch skips the inner entirely.
	_, err = cached.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.batchCalls))
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	cached := NewCachedEmbedder(NewHashEmbedder(0), 16)
	defer func() { _ = cached.Close() }()

	vecs, err := cached.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCachedEmbedder_Passthroughs(t *testing.T) {
	inner := NewHashEmbedder(128)
	cached := NewCachedEmbedder(inner, 16)

	assert.Equal(t, 128, cached.Dimensions())
	assert.Equal(t, "hash", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())

	require.NoError(t, cached.Close())
	assert.False(t, cached.Available(context.Background()), "close reaches the inner embedder")
}
