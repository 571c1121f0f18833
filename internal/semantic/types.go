// Package semantic implements the hybrid text search backend for one
// partition. Keyword (BM25) and vector retrieval run in parallel and their
// rankings are merged with Reciprocal Rank Fusion.
package semantic

import (
	"time"

	"github.com/corpusmcp/corpusmcp/internal/store"
)

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10).
	Limit int

	// Filter restricts results by content type: "all", "code", "docs".
	Filter string

	// Language filters results by programming language (e.g., "go").
	Language string

	// SymbolType filters results by symbol type (e.g., "function", "class").
	SymbolType string

	// Scopes restricts results to files within these path prefixes.
	// Multiple scopes use OR logic. Empty means no scope filtering.
	Scopes []string

	// Weights overrides the default BM25/semantic weights.
	Weights *Weights
}

// Weights configures the relative importance of keyword vs vector retrieval.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights returns the standard weights for mixed queries.
func DefaultWeights() Weights {
	return Weights{
		BM25:     0.35,
		Semantic: 0.65,
	}
}

// Result is a single search hit with its ranking evidence.
type Result struct {
	// Chunk is the full stored chunk.
	Chunk *store.Chunk

	// Partition names the partition this hit came from. Stamped by the
	// backend so merged cross-partition result sets stay attributable.
	Partition string

	// Score is the fused, normalized relevance score (0-1).
	Score float64

	// BM25Score is the raw keyword score, preserved for display.
	BM25Score float64

	// VectorScore is the raw vector similarity (0-1).
	VectorScore float64

	// InBoth reports that the chunk ranked in both retrieval branches.
	InBoth bool

	// Highlights are character ranges in Chunk.Content where query terms
	// matched.
	Highlights []Range

	// MatchedTerms are the keyword terms that matched this chunk.
	MatchedTerms []string
}

// Range is a character span for highlighting. Start is 0-indexed, End is
// exclusive.
type Range struct {
	Start int
	End   int
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultLimit applies when SearchOptions.Limit is unset.
	DefaultLimit int

	// MaxLimit caps SearchOptions.Limit.
	MaxLimit int

	// DefaultWeights apply when SearchOptions.Weights is unset.
	DefaultWeights Weights

	// RRFConstant is the fusion smoothing parameter k.
	RRFConstant int
}

// DefaultEngineConfig returns the standard engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		DefaultWeights: DefaultWeights(),
		RRFConstant:    DefaultRRFConstant,
	}
}

// EngineStats reports raw index sizes.
type EngineStats struct {
	BM25Documents int
	Vectors       int
}

// Stats summarizes one partition's semantic index.
type Stats struct {
	Partition       string    `json:"partition"`
	Files           int       `json:"files"`
	Chunks          int       `json:"chunks"`
	Symbols         int       `json:"symbols"`
	BM25Documents   int       `json:"bm25_documents"`
	Vectors         int       `json:"vectors"`
	EmbedModel      string    `json:"embed_model,omitempty"`
	EmbedDimensions int       `json:"embed_dimensions,omitempty"`
	BuiltAt         time.Time `json:"built_at,omitempty"`
}

// BuildResult summarizes one build pass.
type BuildResult struct {
	Files   int
	Chunks  int
	Skipped int
	Removed int
	Failed  int
	Elapsed time.Duration
}

// UpdateResult summarizes one incremental update.
type UpdateResult struct {
	Indexed int
	Removed int
	Skipped int
	Failed  int
}
