package embed

import (
	"context"
	"fmt"
	"strings"
)

// ProviderType selects an embedding provider.
type ProviderType string

const (
	// ProviderHash uses deterministic hash embeddings. No dependencies,
	// works offline, the default.
	ProviderHash ProviderType = "hash"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"
)

// Options configures embedder construction.
type Options struct {
	Provider   string
	Model      string
	Host       string
	Dimensions int
	BatchSize  int
	CacheSize  int

	// SkipHealthCheck bypasses the Ollama startup check so construction
	// never touches the network. Long-lived callers (the MCP server,
	// diagnostics) probe availability themselves; per-request failures
	// still surface as retryable embed errors.
	SkipHealthCheck bool
}

// NewEmbedder builds the configured provider wrapped in an LRU cache.
// An unreachable Ollama is an error, not a silent fallback: a hash-built
// index and an Ollama-built index are not queryable interchangeably.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var inner Embedder

	switch ParseProvider(opts.Provider) {
	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		cfg.Dimensions = opts.Dimensions
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		cfg.SkipHealthCheck = opts.SkipHealthCheck

		embedder, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		inner = embedder

	default:
		inner = NewHashEmbedder(opts.Dimensions)
	}

	return NewCachedEmbedder(inner, opts.CacheSize), nil
}

// ParseProvider normalizes a provider name. Unknown names select hash so
// a fresh checkout indexes without external services.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "ollama":
		return ProviderOllama
	default:
		return ProviderHash
	}
}

// String returns the provider name.
func (p ProviderType) String() string { return string(p) }

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{string(ProviderHash), string(ProviderOllama)}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// Info describes a constructed embedder.
type Info struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects an embedder, unwrapping the cache layer.
func GetInfo(ctx context.Context, embedder Embedder) Info {
	info := Info{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderHash
	}
	return info
}

// MustNewEmbedder builds an embedder and panics on failure. Test helper.
func MustNewEmbedder(ctx context.Context, opts Options) Embedder {
	embedder, err := NewEmbedder(ctx, opts)
	if err != nil {
		panic(fmt.Sprintf("create embedder: %v", err))
	}
	return embedder
}
