package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
)

// ollamaProbeTimeout bounds the reachability probe.
const ollamaProbeTimeout = 3 * time.Second

// CheckEmbedder validates the configured embedding provider. The hash
// provider has no external dependencies and always passes. For Ollama the
// check probes the server for an installed embedding model, unless the
// checker runs offline.
func (c *Checker) CheckEmbedder(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	if embed.ParseProvider(cfg.Embeddings.Provider) != embed.ProviderOllama {
		result.Status = StatusPass
		result.Message = "hash provider (local, deterministic)"
		return result
	}

	host := cfg.Embeddings.OllamaHost
	if host == "" {
		host = embed.DefaultOllamaHost
	}

	if c.offline {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama at %s not probed (offline mode)", host)
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	embedder, err := embed.NewEmbedder(probeCtx, embed.Options{
		Provider:        cfg.Embeddings.Provider,
		Model:           cfg.Embeddings.Model,
		Host:            host,
		SkipHealthCheck: true,
	})
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot construct embedder: %v", err)
		return result
	}
	defer func() { _ = embedder.Close() }()

	if !embedder.Available(probeCtx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama at %s is unreachable or missing model %q", host, embedder.ModelName())
		result.Details = "Start Ollama with 'ollama serve', or set embeddings.provider to 'hash'"
		return result
	}

	info := embed.GetInfo(probeCtx, embedder)
	result.Status = StatusPass
	result.Message = fmt.Sprintf("Ollama reachable at %s (model: %s)", host, info.Model)
	return result
}
