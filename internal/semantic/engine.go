package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corpusmcp/corpusmcp/internal/embed"
	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
	"github.com/corpusmcp/corpusmcp/internal/store"
)

// ErrNilDependency is returned when a required engine dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs hybrid search over one partition's stores: BM25 and vector
// retrieval in parallel, fused with RRF, enriched from the metadata store.
type Engine struct {
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	meta     store.MetaStore
	config   EngineConfig
	fusion   *RRFFusion
	expander *QueryExpander
	mu       sync.RWMutex
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithQueryExpander enables code-synonym expansion for the keyword branch.
func WithQueryExpander(exp *QueryExpander) EngineOption {
	return func(e *Engine) {
		e.expander = exp
	}
}

// NewEngine creates a hybrid search engine. All store dependencies are
// required.
func NewEngine(
	bm25 store.BM25Index,
	vector store.VectorStore,
	embedder embed.Embedder,
	meta store.MetaStore,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}

	e := &Engine{
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		meta:     meta,
		config:   config,
		fusion:   NewRRFFusion(config.RRFConstant),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search executes a hybrid query and returns ranked, enriched results.
//
// Degradation rules: when the stored embedding identity no longer matches
// the live embedder, or when exactly one retrieval branch fails, the search
// continues on the surviving branch and the condition is logged. Index
// corruption is never degraded; it is re-raised so callers can surface the
// rebuild requirement.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	opts = e.applyDefaults(opts)

	// Fetch beyond the limit so post-fusion filters have headroom.
	fetch := opts.Limit * 2

	var (
		bm25Results []*store.BM25Result
		vecResults  []*store.VectorResult
		searchErr   error
	)

	if err := e.validateDimensions(ctx); err != nil {
		slog.Warn("embedding dimension mismatch, keyword-only search",
			slog.String("error", err.Error()))
		bm25Results, searchErr = e.bm25.Search(ctx, query, fetch)
		if searchErr != nil {
			if corpuserr.IsCorruption(searchErr) {
				return nil, corpuserr.CorruptionError("keyword index unreadable", searchErr)
			}
			return nil, corpuserr.New(corpuserr.ErrCodeSearchFailed, "keyword search failed", searchErr)
		}
	} else {
		bm25Results, vecResults, searchErr = e.parallelSearch(ctx, query, fetch)
		if searchErr != nil {
			if corpuserr.IsCorruption(searchErr) {
				return nil, corpuserr.CorruptionError("index unreadable during search", searchErr)
			}
			if bm25Results == nil && vecResults == nil {
				return nil, corpuserr.New(corpuserr.ErrCodeSearchFailed, "both search branches failed", searchErr)
			}
			slog.Warn("search degraded to single branch",
				slog.String("error", searchErr.Error()))
		}
	}

	fused := e.fusion.Fuse(bm25Results, vecResults, *opts.Weights)

	results, err := e.enrich(ctx, fused)
	if err != nil {
		if corpuserr.IsCorruption(err) {
			return nil, corpuserr.CorruptionError("metadata store unreadable", err)
		}
		return nil, corpuserr.New(corpuserr.ErrCodeSearchFailed, "result enrichment failed", err)
	}

	results = ApplyRankingPenalties(results)
	results = ApplyFilters(results, opts)

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Index adds chunks to all three stores. Embeddings are generated first so
// a failing embedder leaves the indexes untouched.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		ids[i] = c.ID
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}

	if err := e.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("index keyword documents: %w", err)
	}

	if err := e.vector.Add(ctx, ids, embeddings); err != nil {
		var dim store.ErrDimensionMismatch
		if errors.As(err, &dim) {
			return corpuserr.New(corpuserr.ErrCodeDimensionMismatch, err.Error(), err).
				WithSuggestion("Run 'corpusmcp build --force' to rebuild with the current embedder")
		}
		return fmt.Errorf("add vectors: %w", err)
	}

	if err := e.meta.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunk metadata: %w", err)
	}

	if err := e.storeEmbedderIdentity(ctx); err != nil {
		slog.Warn("failed to record embedder identity",
			slog.String("error", err.Error()))
	}
	return nil
}

// Delete removes one file's chunks from all three stores. Keyword and
// vector deletes are best-effort: the metadata store is the source of
// truth, and orphans left in the other two are invisible to callers because
// enrichment drops IDs the metadata store no longer has. The metadata
// delete must succeed.
func (e *Engine) Delete(ctx context.Context, fileID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 && fileID == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(chunkIDs) > 0 {
		if err := e.bm25.Delete(ctx, chunkIDs); err != nil {
			slog.Warn("keyword delete failed, orphans remain",
				slog.String("error", err.Error()),
				slog.Int("count", len(chunkIDs)))
		}
		if err := e.vector.Delete(ctx, chunkIDs); err != nil {
			slog.Warn("vector delete failed, orphans remain",
				slog.String("error", err.Error()),
				slog.Int("count", len(chunkIDs)))
		}
	}

	if err := e.meta.DeleteChunksByFile(ctx, fileID); err != nil {
		return fmt.Errorf("delete chunk metadata: %w", err)
	}
	return nil
}

// Stats returns raw index sizes.
func (e *Engine) Stats() *EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &EngineStats{Vectors: e.vector.Count()}
	if bs := e.bm25.Stats(); bs != nil {
		s.BM25Documents = bs.DocumentCount
	}
	return s
}

// Close releases all three stores.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.bm25.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if e.config.MaxLimit > 0 && opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Filter == "" {
		opts.Filter = "all"
	}
	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	return opts
}

// storeEmbedderIdentity records the live embedder's model and dimensions so
// later opens can detect a swapped embedder before vector search misbehaves.
func (e *Engine) storeEmbedderIdentity(ctx context.Context) error {
	dims := fmt.Sprintf("%d", e.embedder.Dimensions())
	if err := e.meta.SetState(ctx, store.StateKeyEmbedDimensions, dims); err != nil {
		return fmt.Errorf("store embed dimensions: %w", err)
	}
	if err := e.meta.SetState(ctx, store.StateKeyEmbedModel, e.embedder.ModelName()); err != nil {
		return fmt.Errorf("store embed model: %w", err)
	}
	return nil
}

// validateDimensions compares the stored embedding identity against the
// live embedder. Nil when they match or when no identity is stored yet.
func (e *Engine) validateDimensions(ctx context.Context) error {
	stored, err := e.meta.GetState(ctx, store.StateKeyEmbedDimensions)
	if err != nil || stored == "" {
		return nil
	}

	var indexDims int
	if _, err := fmt.Sscanf(stored, "%d", &indexDims); err != nil {
		slog.Warn("invalid stored embedding dimensions", slog.String("value", stored))
		return nil
	}

	currentDims := e.embedder.Dimensions()
	if indexDims != currentDims {
		storedModel, _ := e.meta.GetState(ctx, store.StateKeyEmbedModel)
		return corpuserr.New(corpuserr.ErrCodeDimensionMismatch,
			fmt.Sprintf("index built with %d dimensions (%s), current embedder produces %d (%s)",
				indexDims, storedModel, currentDims, e.embedder.ModelName()), nil).
			WithSuggestion("Run 'corpusmcp build --force' to rebuild with the current embedder")
	}
	return nil
}

// parallelSearch runs both retrieval branches concurrently. A single failed
// branch does not fail the search: its results come back nil and the error
// is returned for the caller to log. Both branches failing returns joined
// errors with no results.
//
// Only the keyword branch sees the expanded query. The embedding model
// handles synonymy natively, so expansion there would add noise.
func (e *Engine) parallelSearch(ctx context.Context, query string, limit int) (
	bm25Results []*store.BM25Result,
	vecResults []*store.VectorResult,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	var bm25Err, vecErr error

	bm25Query := query
	if e.expander != nil {
		bm25Query = e.expander.Expand(query)
		if bm25Query != query {
			slog.Debug("query expanded for keyword search",
				slog.String("original", query),
				slog.String("expanded", bm25Query))
		}
	}

	g.Go(func() error {
		var searchErr error
		bm25Results, searchErr = e.bm25.Search(gctx, bm25Query, limit)
		if searchErr != nil {
			bm25Err = searchErr
		}
		return nil
	})

	g.Go(func() error {
		embedding, embedErr := e.embedder.Embed(gctx, query)
		if embedErr != nil {
			vecErr = embedErr
			return nil
		}
		var searchErr error
		vecResults, searchErr = e.vector.Search(gctx, embedding, limit)
		if searchErr != nil {
			vecErr = searchErr
		}
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if bm25Err != nil && vecErr != nil {
		return nil, nil, errors.Join(bm25Err, vecErr)
	}
	if bm25Err != nil {
		err = bm25Err
	} else if vecErr != nil {
		err = vecErr
	}
	return bm25Results, vecResults, err
}

// enrich fetches full chunk data for fused hits in one batch query. Hits
// whose chunks are gone from the metadata store (delete orphans) are
// silently dropped.
func (e *Engine) enrich(ctx context.Context, fused []*FusedHit) ([]*Result, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	byID := make(map[string]*FusedHit, len(fused))
	for i, h := range fused {
		ids[i] = h.ChunkID
		byID[h.ChunkID] = h
	}

	chunks, err := e.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(chunks))
	for _, chunk := range chunks {
		h, ok := byID[chunk.ID]
		if !ok {
			continue
		}
		results = append(results, &Result{
			Chunk:        chunk,
			Score:        h.RRFScore,
			BM25Score:    h.BM25Score,
			VectorScore:  h.VectorScore,
			InBoth:       h.InBoth,
			Highlights:   calculateHighlights(chunk.Content, h.MatchedTerms),
			MatchedTerms: h.MatchedTerms,
		})
	}
	return results, nil
}

// maxHighlightsPerTerm bounds highlight scanning on large chunks.
const maxHighlightsPerTerm = 10

// calculateHighlights finds case-insensitive character ranges for matched
// terms, sorted by start offset.
func calculateHighlights(content string, matchedTerms []string) []Range {
	if len(matchedTerms) == 0 || len(content) == 0 {
		return []Range{}
	}

	highlights := make([]Range, 0, len(matchedTerms)*3)
	lowerContent := strings.ToLower(content)

	for _, term := range matchedTerms {
		if term == "" {
			continue
		}
		lowerTerm := strings.ToLower(term)
		start := 0
		for matches := 0; matches < maxHighlightsPerTerm; matches++ {
			idx := strings.Index(lowerContent[start:], lowerTerm)
			if idx == -1 {
				break
			}
			absStart := start + idx
			highlights = append(highlights, Range{Start: absStart, End: absStart + len(term)})
			start = absStart + len(term)
		}
	}

	if len(highlights) > 1 {
		sort.Slice(highlights, func(i, j int) bool {
			return highlights[i].Start < highlights[j].Start
		})
	}
	return highlights
}
