package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize is the smallest allowed embedding batch.
	MinBatchSize = 1

	// MaxBatchSize caps batches to bound request memory.
	MaxBatchSize = 256

	// DefaultBatchSize is the default embedding batch size.
	DefaultBatchSize = 32

	// DefaultWarmTimeout applies when the model served a request recently.
	DefaultWarmTimeout = 60 * time.Second

	// DefaultColdTimeout applies when the model may need loading first.
	DefaultColdTimeout = 120 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps an idle model resident.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries bounds transient-failure retries.
	DefaultMaxRetries = 3
)

const (
	// DefaultDimensions matches the default Ollama embedding model.
	DefaultDimensions = 768

	// HashDimensions is the default dimension of the hash embedder.
	HashDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
