// Package store provides the per-partition storage primitives: a SQLite
// metadata store for files and chunks, BM25 keyword indexes (SQLite FTS5 or
// Bleve), and an HNSW vector store. Everything here is scoped to a single
// partition directory; cross-partition concerns live in internal/index.
package store

import (
	"context"
	"fmt"
	"time"
)

// ContentType classifies stored chunk content.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// State keys persisted in the metadata store. The embedding identity keys
// guard against querying an index with a different embedder than the one
// that built it.
const (
	StateKeyEmbedModel      = "embed_model"
	StateKeyEmbedDimensions = "embed_dimensions"
	StateKeyBuiltAt         = "built_at"
)

// Symbol is a named declaration recorded with a chunk, searchable by name.
type Symbol struct {
	Name      string
	Kind      string
	StartLine int
	EndLine   int
	Signature string
}

// SymbolHit is a symbol search result with its source location.
type SymbolHit struct {
	Symbol
	ChunkID  string
	FilePath string
}

// Chunk is the stored form of an indexed content chunk. The chunking layer
// produces its own richer type; callers convert before saving.
type Chunk struct {
	ID          string
	FileID      string
	FilePath    string
	Content     string
	RawContent  string
	Context     string
	ContentType ContentType
	Language    string
	StartLine   int
	EndLine     int
	Symbols     []*Symbol
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File tracks an indexed source file for incremental updates.
type File struct {
	ID          string
	Path        string
	Size        int64
	ModTime     time.Time
	ContentHash string
	Language    string
	ContentType ContentType
	IndexedAt   time.Time
}

// MetaStats summarizes a metadata store's contents.
type MetaStats struct {
	FileCount   int
	ChunkCount  int
	SymbolCount int
}

// MetaStore persists file and chunk metadata for one partition.
type MetaStore interface {
	// File tracking.
	SaveFiles(ctx context.Context, files []*File) error
	GetFileByPath(ctx context.Context, path string) (*File, error)
	ListFiles(ctx context.Context) ([]*File, error)
	DeleteFile(ctx context.Context, path string) error

	// Chunk storage.
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error)
	DeleteChunksByFile(ctx context.Context, fileID string) error
	AllChunkIDs(ctx context.Context) ([]string, error)

	// Symbol name search over all stored chunks.
	SearchSymbols(ctx context.Context, query string, limit int) ([]*SymbolHit, error)

	// Key-value state, used for embedder identity and build markers.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Stats(ctx context.Context) (*MetaStats, error)
	Close() error
}

// Document is the unit indexed for BM25 keyword search.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a single keyword search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats reports BM25 index size.
type IndexStats struct {
	DocumentCount int
}

// BM25Index is the keyword search index contract. Both the SQLite FTS5 and
// Bleve backends satisfy it.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Close() error
}

// BM25Config holds BM25 relevance parameters and tokenization settings.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns the standard BM25 parameters with code-aware
// stop words.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords are terms too common in source code to carry signal.
var DefaultCodeStopWords = []string{
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
	"of", "with", "by", "from", "is", "are", "was", "were", "be", "been",
	"this", "that", "it", "as", "if", "then", "else",
	"func", "var", "const", "type", "return", "import", "package",
	"def", "class", "self", "none", "true", "false", "nil", "null",
	"function", "let", "new", "public", "private", "static", "void",
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStoreConfig holds HNSW construction and search parameters.
type VectorStoreConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
}

// DefaultVectorStoreConfig returns HNSW parameters tuned for code search
// recall at moderate index sizes.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          32,
		EfSearch:   64,
	}
}

// VectorStore is the approximate nearest-neighbor index contract.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch reports a vector whose length does not match the
// store's configured dimensionality. The semantic layer translates it into
// the user-facing dimension-mismatch error with a rebuild suggestion.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
