package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
	"github.com/corpusmcp/corpusmcp/internal/store"
)

// MockBM25Index implements store.BM25Index for testing.
type MockBM25Index struct {
	IndexCalled  bool
	SearchCalled bool
	LastQuery    string
	LastLimit    int
	Docs         []*store.Document
	Deleted      []string
	Results      []*store.BM25Result
	StatsValue   *store.IndexStats

	IndexErr  error
	SearchErr error
	DeleteErr error
	CloseErr  error
}

func (m *MockBM25Index) Index(ctx context.Context, docs []*store.Document) error {
	m.IndexCalled = true
	m.Docs = append(m.Docs, docs...)
	return m.IndexErr
}

func (m *MockBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	m.SearchCalled = true
	m.LastQuery = query
	m.LastLimit = limit
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.Results, nil
}

func (m *MockBM25Index) Delete(ctx context.Context, docIDs []string) error {
	m.Deleted = append(m.Deleted, docIDs...)
	return m.DeleteErr
}

func (m *MockBM25Index) AllIDs() ([]string, error) {
	ids := make([]string, len(m.Docs))
	for i, doc := range m.Docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (m *MockBM25Index) Stats() *store.IndexStats { return m.StatsValue }
func (m *MockBM25Index) Save(path string) error   { return nil }
func (m *MockBM25Index) Close() error             { return m.CloseErr }

// MockVectorStore implements store.VectorStore for testing.
type MockVectorStore struct {
	AddCalled    bool
	SearchCalled bool
	AddedIDs     []string
	Deleted      []string
	Results      []*store.VectorResult
	CountValue   int

	AddErr    error
	SearchErr error
	DeleteErr error
	CloseErr  error
}

func (m *MockVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	m.AddCalled = true
	m.AddedIDs = append(m.AddedIDs, ids...)
	return m.AddErr
}

func (m *MockVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	m.SearchCalled = true
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.Results, nil
}

func (m *MockVectorStore) Delete(ctx context.Context, ids []string) error {
	m.Deleted = append(m.Deleted, ids...)
	return m.DeleteErr
}

func (m *MockVectorStore) AllIDs() []string        { return m.AddedIDs }
func (m *MockVectorStore) Contains(id string) bool { return false }
func (m *MockVectorStore) Count() int              { return m.CountValue }
func (m *MockVectorStore) Save(path string) error  { return nil }
func (m *MockVectorStore) Load(path string) error  { return nil }
func (m *MockVectorStore) Close() error            { return m.CloseErr }

// MockMetaStore implements store.MetaStore for testing.
type MockMetaStore struct {
	Chunks map[string]*store.Chunk
	State  map[string]string

	SaveChunksCalled   bool
	ChunksSaved        []*store.Chunk
	DeletedChunkFileID string
	StatsValue         *store.MetaStats

	GetChunksErr   error
	SaveChunksErr  error
	DeleteChunkErr error
	StatsErr       error
	CloseErr       error
}

func (m *MockMetaStore) SaveFiles(ctx context.Context, files []*store.File) error { return nil }

func (m *MockMetaStore) GetFileByPath(ctx context.Context, path string) (*store.File, error) {
	return nil, nil
}

func (m *MockMetaStore) ListFiles(ctx context.Context) ([]*store.File, error) { return nil, nil }
func (m *MockMetaStore) DeleteFile(ctx context.Context, path string) error    { return nil }

func (m *MockMetaStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error {
	m.SaveChunksCalled = true
	m.ChunksSaved = append(m.ChunksSaved, chunks...)
	return m.SaveChunksErr
}

func (m *MockMetaStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return m.Chunks[id], nil
}

func (m *MockMetaStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	if m.GetChunksErr != nil {
		return nil, m.GetChunksErr
	}
	var chunks []*store.Chunk
	for _, id := range ids {
		if c, ok := m.Chunks[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (m *MockMetaStore) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	var chunks []*store.Chunk
	for _, c := range m.Chunks {
		if c.FileID == fileID {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (m *MockMetaStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	if m.DeleteChunkErr != nil {
		return m.DeleteChunkErr
	}
	m.DeletedChunkFileID = fileID
	return nil
}

func (m *MockMetaStore) AllChunkIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.Chunks))
	for id := range m.Chunks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockMetaStore) SearchSymbols(ctx context.Context, query string, limit int) ([]*store.SymbolHit, error) {
	return nil, nil
}

func (m *MockMetaStore) GetState(ctx context.Context, key string) (string, error) {
	return m.State[key], nil
}

func (m *MockMetaStore) SetState(ctx context.Context, key, value string) error {
	if m.State == nil {
		m.State = make(map[string]string)
	}
	m.State[key] = value
	return nil
}

func (m *MockMetaStore) Stats(ctx context.Context) (*store.MetaStats, error) {
	if m.StatsErr != nil {
		return nil, m.StatsErr
	}
	if m.StatsValue != nil {
		return m.StatsValue, nil
	}
	return &store.MetaStats{}, nil
}

func (m *MockMetaStore) Close() error { return m.CloseErr }

// MockEmbedder implements embed.Embedder for testing.
type MockEmbedder struct {
	Dims          int
	Model         string
	LastEmbedText string
	BatchCalled   bool
	Unavailable   bool

	EmbedErr error
	BatchErr error
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.LastEmbedText = text
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	return make([]float32, m.Dimensions()), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.BatchCalled = true
	if m.BatchErr != nil {
		return nil, m.BatchErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, m.Dimensions())
	}
	return vectors, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.Dims == 0 {
		return 256
	}
	return m.Dims
}

func (m *MockEmbedder) ModelName() string {
	if m.Model == "" {
		return "test-model"
	}
	return m.Model
}

func (m *MockEmbedder) Available(ctx context.Context) bool { return !m.Unavailable }
func (m *MockEmbedder) Close() error                       { return nil }

func testChunk(id, path, content string) *store.Chunk {
	return &store.Chunk{
		ID:          id,
		FileID:      "file-" + id,
		FilePath:    path,
		Content:     content,
		ContentType: store.ContentTypeCode,
		Language:    "go",
	}
}

func newTestEngine(t *testing.T, bm25 *MockBM25Index, vector *MockVectorStore, meta *MockMetaStore, embedder *MockEmbedder, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(bm25, vector, embedder, meta, DefaultEngineConfig(), opts...)
	require.NoError(t, err)
	return engine
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	bm25 := &MockBM25Index{}
	vector := &MockVectorStore{}
	meta := &MockMetaStore{}
	embedder := &MockEmbedder{}
	cfg := DefaultEngineConfig()

	tests := []struct {
		name string
		fn   func() (*Engine, error)
	}{
		{"nil bm25", func() (*Engine, error) { return NewEngine(nil, vector, embedder, meta, cfg) }},
		{"nil vector", func() (*Engine, error) { return NewEngine(bm25, nil, embedder, meta, cfg) }},
		{"nil embedder", func() (*Engine, error) { return NewEngine(bm25, vector, nil, meta, cfg) }},
		{"nil meta", func() (*Engine, error) { return NewEngine(bm25, vector, embedder, nil, cfg) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := tt.fn()
			assert.Nil(t, engine)
			assert.ErrorIs(t, err, ErrNilDependency)
		})
	}
}

func TestEngine_Search_EmptyQuery(t *testing.T) {
	bm25 := &MockBM25Index{}
	engine := newTestEngine(t, bm25, &MockVectorStore{}, &MockMetaStore{}, &MockEmbedder{})

	for _, query := range []string{"", "   ", "\t\n"} {
		results, err := engine.Search(context.Background(), query, SearchOptions{})
		assert.NoError(t, err)
		assert.Nil(t, results)
	}
	assert.False(t, bm25.SearchCalled, "empty queries must not reach the stores")
}

func TestEngine_Search_HybridResults(t *testing.T) {
	// Given: overlapping keyword and vector hits backed by stored chunks
	bm25 := &MockBM25Index{Results: []*store.BM25Result{
		{DocID: "A", Score: 2.0, MatchedTerms: []string{"search"}},
		{DocID: "B", Score: 1.5, MatchedTerms: []string{"search"}},
	}}
	vector := &MockVectorStore{Results: []*store.VectorResult{
		{ID: "A", Score: 0.9},
		{ID: "C", Score: 0.8},
	}}
	meta := &MockMetaStore{Chunks: map[string]*store.Chunk{
		"A": testChunk("A", "engine.go", "func Search(ctx context.Context) error"),
		"B": testChunk("B", "options.go", "type SearchOptions struct"),
		"C": testChunk("C", "fusion.go", "func Fuse(bm25, vector)"),
	}}
	engine := newTestEngine(t, bm25, vector, meta, &MockEmbedder{})

	// When: searching
	results, err := engine.Search(context.Background(), "search", SearchOptions{})

	// Then: all three chunks come back, agreement ranked first
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].Chunk.ID)
	assert.True(t, results[0].InBoth)
	assert.Equal(t, 2.0, results[0].BM25Score)
	assert.InDelta(t, 0.9, results[0].VectorScore, 0.001)
	assert.NotEmpty(t, results[0].Highlights, "matched terms produce highlights")
}

func TestEngine_Search_FetchesBeyondLimit(t *testing.T) {
	bm25 := &MockBM25Index{}
	engine := newTestEngine(t, bm25, &MockVectorStore{}, &MockMetaStore{}, &MockEmbedder{})

	t.Run("explicit limit doubled for filter headroom", func(t *testing.T) {
		_, err := engine.Search(context.Background(), "query", SearchOptions{Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 10, bm25.LastLimit)
	})

	t.Run("zero limit takes the default", func(t *testing.T) {
		_, err := engine.Search(context.Background(), "query", SearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, DefaultEngineConfig().DefaultLimit*2, bm25.LastLimit)
	})

	t.Run("oversized limit clamps to the maximum", func(t *testing.T) {
		_, err := engine.Search(context.Background(), "query", SearchOptions{Limit: 10000})
		require.NoError(t, err)
		assert.Equal(t, DefaultEngineConfig().MaxLimit*2, bm25.LastLimit)
	})
}

func TestEngine_Search_TruncatesToLimit(t *testing.T) {
	// Given: more fused hits than the requested limit
	bm25 := &MockBM25Index{Results: []*store.BM25Result{
		{DocID: "A", Score: 3.0}, {DocID: "B", Score: 2.0}, {DocID: "C", Score: 1.0},
	}}
	meta := &MockMetaStore{Chunks: map[string]*store.Chunk{
		"A": testChunk("A", "a.go", "alpha"),
		"B": testChunk("B", "b.go", "beta"),
		"C": testChunk("C", "c.go", "gamma"),
	}}
	engine := newTestEngine(t, bm25, &MockVectorStore{}, meta, &MockEmbedder{})

	// When: limiting to two
	results, err := engine.Search(context.Background(), "query", SearchOptions{Limit: 2})

	// Then: only the top two survive
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngine_Search_SingleBranchDegradation(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"A": testChunk("A", "a.go", "alpha"),
	}

	t.Run("vector branch fails, keyword results survive", func(t *testing.T) {
		bm25 := &MockBM25Index{Results: []*store.BM25Result{{DocID: "A", Score: 2.0}}}
		vector := &MockVectorStore{SearchErr: errors.New("hnsw read failed")}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{Chunks: chunks}, &MockEmbedder{})

		results, err := engine.Search(context.Background(), "alpha", SearchOptions{})

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "A", results[0].Chunk.ID)
	})

	t.Run("keyword branch fails, vector results survive", func(t *testing.T) {
		bm25 := &MockBM25Index{SearchErr: errors.New("fts query failed")}
		vector := &MockVectorStore{Results: []*store.VectorResult{{ID: "A", Score: 0.9}}}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{Chunks: chunks}, &MockEmbedder{})

		results, err := engine.Search(context.Background(), "alpha", SearchOptions{})

		require.NoError(t, err)
		require.Len(t, results, 1)
	})

	t.Run("embedder failure degrades to keyword only", func(t *testing.T) {
		bm25 := &MockBM25Index{Results: []*store.BM25Result{{DocID: "A", Score: 2.0}}}
		vector := &MockVectorStore{}
		embedder := &MockEmbedder{EmbedErr: errors.New("service down")}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{Chunks: chunks}, embedder)

		results, err := engine.Search(context.Background(), "alpha", SearchOptions{})

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, vector.SearchCalled, "vector search needs an embedding")
	})

	t.Run("both branches failing is an error", func(t *testing.T) {
		bm25 := &MockBM25Index{SearchErr: errors.New("fts query failed")}
		vector := &MockVectorStore{SearchErr: errors.New("hnsw read failed")}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{}, &MockEmbedder{})

		results, err := engine.Search(context.Background(), "alpha", SearchOptions{})

		require.Error(t, err)
		assert.Nil(t, results)
		assert.Equal(t, corpuserr.ErrCodeSearchFailed, corpuserr.GetCode(err))
	})
}

func TestEngine_Search_CorruptionReraised(t *testing.T) {
	t.Run("keyword index corruption", func(t *testing.T) {
		// Given: the FTS index reports a malformed database
		bm25 := &MockBM25Index{SearchErr: errors.New("database disk image is malformed")}
		vector := &MockVectorStore{Results: []*store.VectorResult{{ID: "A", Score: 0.9}}}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{}, &MockEmbedder{})

		// When: searching
		_, err := engine.Search(context.Background(), "query", SearchOptions{})

		// Then: corruption surfaces even though the vector branch succeeded
		require.Error(t, err)
		assert.True(t, corpuserr.IsCorruption(err))
		assert.Equal(t, corpuserr.ErrCodeCorruptIndex, corpuserr.GetCode(err))
	})

	t.Run("metadata corruption during enrichment", func(t *testing.T) {
		bm25 := &MockBM25Index{Results: []*store.BM25Result{{DocID: "A", Score: 2.0}}}
		meta := &MockMetaStore{GetChunksErr: errors.New("file is not a database")}
		engine := newTestEngine(t, bm25, &MockVectorStore{}, meta, &MockEmbedder{})

		_, err := engine.Search(context.Background(), "query", SearchOptions{})

		require.Error(t, err)
		assert.True(t, corpuserr.IsCorruption(err))
	})
}

func TestEngine_Search_DimensionMismatchKeywordOnly(t *testing.T) {
	// Given: an index built at 768 dimensions and a 256-dimension embedder
	bm25 := &MockBM25Index{Results: []*store.BM25Result{{DocID: "A", Score: 2.0}}}
	vector := &MockVectorStore{}
	meta := &MockMetaStore{
		Chunks: map[string]*store.Chunk{"A": testChunk("A", "a.go", "alpha")},
		State:  map[string]string{store.StateKeyEmbedDimensions: "768"},
	}
	engine := newTestEngine(t, bm25, vector, meta, &MockEmbedder{Dims: 256})

	// When: searching
	results, err := engine.Search(context.Background(), "alpha", SearchOptions{})

	// Then: the search answers from the keyword index alone
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, vector.SearchCalled, "stale vectors must not be searched")
}

func TestEngine_Search_ExpandsKeywordQueryOnly(t *testing.T) {
	// Given: an engine with query expansion enabled
	bm25 := &MockBM25Index{}
	embedder := &MockEmbedder{}
	engine := newTestEngine(t, bm25, &MockVectorStore{}, &MockMetaStore{}, embedder,
		WithQueryExpander(NewQueryExpander()))

	// When: searching with a term that has code synonyms
	_, err := engine.Search(context.Background(), "function", SearchOptions{})

	// Then: the keyword branch sees synonyms, the vector branch the original
	require.NoError(t, err)
	assert.Contains(t, bm25.LastQuery, "func")
	assert.Contains(t, bm25.LastQuery, "method")
	assert.Equal(t, "function", embedder.LastEmbedText)
}

func TestEngine_Search_DropsOrphanedHits(t *testing.T) {
	// Given: a keyword hit whose chunk is gone from the metadata store
	bm25 := &MockBM25Index{Results: []*store.BM25Result{
		{DocID: "A", Score: 2.0},
		{DocID: "orphan", Score: 1.5},
	}}
	meta := &MockMetaStore{Chunks: map[string]*store.Chunk{
		"A": testChunk("A", "a.go", "alpha"),
	}}
	engine := newTestEngine(t, bm25, &MockVectorStore{}, meta, &MockEmbedder{})

	// When: searching
	results, err := engine.Search(context.Background(), "alpha", SearchOptions{})

	// Then: the orphan is dropped silently
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Chunk.ID)
}

func TestEngine_Index(t *testing.T) {
	t.Run("indexes all three stores and records identity", func(t *testing.T) {
		bm25 := &MockBM25Index{}
		vector := &MockVectorStore{}
		meta := &MockMetaStore{}
		embedder := &MockEmbedder{Dims: 256, Model: "hash-v1"}
		engine := newTestEngine(t, bm25, vector, meta, embedder)

		chunks := []*store.Chunk{
			testChunk("A", "a.go", "alpha"),
			testChunk("B", "b.go", "beta"),
		}
		err := engine.Index(context.Background(), chunks)

		require.NoError(t, err)
		assert.True(t, embedder.BatchCalled)
		assert.Len(t, bm25.Docs, 2)
		assert.Equal(t, []string{"A", "B"}, vector.AddedIDs)
		assert.Len(t, meta.ChunksSaved, 2)
		assert.Equal(t, "256", meta.State[store.StateKeyEmbedDimensions])
		assert.Equal(t, "hash-v1", meta.State[store.StateKeyEmbedModel])
	})

	t.Run("embedder failure leaves the indexes untouched", func(t *testing.T) {
		bm25 := &MockBM25Index{}
		vector := &MockVectorStore{}
		embedder := &MockEmbedder{BatchErr: errors.New("service down")}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{}, embedder)

		err := engine.Index(context.Background(), []*store.Chunk{testChunk("A", "a.go", "alpha")})

		require.Error(t, err)
		assert.False(t, bm25.IndexCalled)
		assert.False(t, vector.AddCalled)
	})

	t.Run("dimension mismatch maps to the rebuild error", func(t *testing.T) {
		vector := &MockVectorStore{AddErr: store.ErrDimensionMismatch{Expected: 768, Got: 256}}
		engine := newTestEngine(t, &MockBM25Index{}, vector, &MockMetaStore{}, &MockEmbedder{})

		err := engine.Index(context.Background(), []*store.Chunk{testChunk("A", "a.go", "alpha")})

		require.Error(t, err)
		assert.Equal(t, corpuserr.ErrCodeDimensionMismatch, corpuserr.GetCode(err))

		var ce *corpuserr.CorpusError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Suggestion, "build --force")
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		bm25 := &MockBM25Index{}
		engine := newTestEngine(t, bm25, &MockVectorStore{}, &MockMetaStore{}, &MockEmbedder{})

		require.NoError(t, engine.Index(context.Background(), nil))
		assert.False(t, bm25.IndexCalled)
	})
}

func TestEngine_Delete(t *testing.T) {
	t.Run("removes chunks from all three stores", func(t *testing.T) {
		bm25 := &MockBM25Index{}
		vector := &MockVectorStore{}
		meta := &MockMetaStore{}
		engine := newTestEngine(t, bm25, vector, meta, &MockEmbedder{})

		err := engine.Delete(context.Background(), "file-1", []string{"A", "B"})

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, bm25.Deleted)
		assert.Equal(t, []string{"A", "B"}, vector.Deleted)
		assert.Equal(t, "file-1", meta.DeletedChunkFileID)
	})

	t.Run("index delete failures are best-effort", func(t *testing.T) {
		bm25 := &MockBM25Index{DeleteErr: errors.New("fts delete failed")}
		vector := &MockVectorStore{DeleteErr: errors.New("hnsw delete failed")}
		meta := &MockMetaStore{}
		engine := newTestEngine(t, bm25, vector, meta, &MockEmbedder{})

		err := engine.Delete(context.Background(), "file-1", []string{"A"})

		require.NoError(t, err, "metadata is the source of truth")
		assert.Equal(t, "file-1", meta.DeletedChunkFileID)
	})

	t.Run("metadata delete failure is fatal", func(t *testing.T) {
		meta := &MockMetaStore{DeleteChunkErr: errors.New("locked")}
		engine := newTestEngine(t, &MockBM25Index{}, &MockVectorStore{}, meta, &MockEmbedder{})

		err := engine.Delete(context.Background(), "file-1", []string{"A"})

		require.Error(t, err)
	})

	t.Run("nothing to delete is a no-op", func(t *testing.T) {
		bm25 := &MockBM25Index{}
		engine := newTestEngine(t, bm25, &MockVectorStore{}, &MockMetaStore{}, &MockEmbedder{})

		require.NoError(t, engine.Delete(context.Background(), "", nil))
		assert.Empty(t, bm25.Deleted)
	})
}

func TestEngine_Stats(t *testing.T) {
	t.Run("reports both index sizes", func(t *testing.T) {
		bm25 := &MockBM25Index{StatsValue: &store.IndexStats{DocumentCount: 7}}
		vector := &MockVectorStore{CountValue: 5}
		engine := newTestEngine(t, bm25, vector, &MockMetaStore{}, &MockEmbedder{})

		stats := engine.Stats()

		assert.Equal(t, 7, stats.BM25Documents)
		assert.Equal(t, 5, stats.Vectors)
	})

	t.Run("nil keyword stats read as zero", func(t *testing.T) {
		engine := newTestEngine(t, &MockBM25Index{}, &MockVectorStore{}, &MockMetaStore{}, &MockEmbedder{})

		stats := engine.Stats()

		assert.Equal(t, 0, stats.BM25Documents)
	})
}

func TestEngine_Close(t *testing.T) {
	t.Run("close failures are joined", func(t *testing.T) {
		bm25 := &MockBM25Index{CloseErr: errors.New("bm25 close")}
		meta := &MockMetaStore{CloseErr: errors.New("meta close")}
		engine := newTestEngine(t, bm25, &MockVectorStore{}, meta, &MockEmbedder{})

		err := engine.Close()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "bm25 close")
		assert.Contains(t, err.Error(), "meta close")
	})

	t.Run("clean close", func(t *testing.T) {
		engine := newTestEngine(t, &MockBM25Index{}, &MockVectorStore{}, &MockMetaStore{}, &MockEmbedder{})
		assert.NoError(t, engine.Close())
	})
}

func TestCalculateHighlights(t *testing.T) {
	t.Run("case-insensitive ranges", func(t *testing.T) {
		highlights := calculateHighlights("func Search(ctx)", []string{"search"})
		require.Len(t, highlights, 1)
		assert.Equal(t, Range{Start: 5, End: 11}, highlights[0])
	})

	t.Run("multiple terms sorted by offset", func(t *testing.T) {
		highlights := calculateHighlights("search the index for search terms", []string{"index", "search"})
		require.Len(t, highlights, 3)
		for i := 1; i < len(highlights); i++ {
			assert.LessOrEqual(t, highlights[i-1].Start, highlights[i].Start)
		}
	})

	t.Run("occurrences per term are bounded", func(t *testing.T) {
		content := ""
		for i := 0; i < 30; i++ {
			content += "term "
		}
		highlights := calculateHighlights(content, []string{"term"})
		assert.Len(t, highlights, maxHighlightsPerTerm)
	})

	t.Run("no terms yields empty slice", func(t *testing.T) {
		assert.Empty(t, calculateHighlights("content", nil))
		assert.Empty(t, calculateHighlights("", []string{"term"}))
	})
}
