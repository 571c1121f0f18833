package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Indexed files, chunks, symbols, and call edges
  - Per-partition counts and health in partitioned mode
  - Storage footprint on disk
  - Embedder provider, model, and availability
  - Aggregate health (the worst status across every backend)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root := projectRoot()
	cfg := loadProjectConfig(root, false)
	dataDir := cfg.StorageDir(root)

	if !indexReady(cfg, dataDir) {
		return fmt.Errorf("no index found in %s\nRun 'corpusmcp build' to create one", root)
	}

	orch, err := openIndex(ctx, cfg, root, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	info, err := collectStatus(ctx, orch, cfg, root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}

	return renderer.Render(info)
}

func collectStatus(ctx context.Context, orch *index.Orchestrator, cfg *config.Config, root, dataDir string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		ProjectName: filepath.Base(root),
		Mode:        orch.Mode(),
	}

	stats, err := orch.Stats(ctx)
	if err != nil {
		return info, err
	}
	info.TotalFiles = stats.TotalFiles
	info.TotalChunks = stats.TotalChunks
	info.TotalSymbols = stats.TotalSymbols
	info.TotalEdges = stats.TotalEdges

	report := orch.HealthCheck(ctx)
	info.Health = report.Status.String()

	// Partition health nodes are named "partition:<name>" in the report.
	partitionHealth := make(map[string]string)
	for _, c := range report.Components {
		name := strings.TrimPrefix(c.Name, "partition:")
		partitionHealth[name] = c.Status.String()
	}

	for _, p := range stats.Partitions {
		ps := ui.PartitionStatus{
			Name:   p.Name,
			Path:   p.Path,
			Health: partitionHealth[p.Name],
		}
		if p.Semantic != nil {
			ps.Files = p.Semantic.Files
			ps.Chunks = p.Semantic.Chunks
			if p.Semantic.BuiltAt.After(info.LastIndexed) {
				info.LastIndexed = p.Semantic.BuiltAt
			}
		}
		if p.Graph != nil {
			ps.Symbols = p.Graph.Symbols
		}
		if orch.Multi() {
			info.Partitions = append(info.Partitions, ps)
		}
	}

	info.StorageSize = dirSize(index.BaseDirFor(dataDir))

	// Probe the embedder separately from the orchestrator: construction
	// skips the health check, then Available does the actual probe.
	embedder, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:        cfg.Embeddings.Provider,
		Model:           cfg.Embeddings.Model,
		Host:            cfg.Embeddings.OllamaHost,
		Dimensions:      cfg.Embeddings.Dimensions,
		CacheSize:       cfg.Embeddings.CacheSize,
		SkipHealthCheck: true,
	})
	if err == nil {
		einfo := embed.GetInfo(ctx, embedder)
		info.EmbedderProvider = einfo.Provider.String()
		info.EmbedderModel = einfo.Model
		if einfo.Available {
			info.EmbedderStatus = "ready"
		} else {
			info.EmbedderStatus = "offline"
		}
		_ = embedder.Close()
	} else {
		info.EmbedderProvider = cfg.Embeddings.Provider
		info.EmbedderStatus = "error"
	}

	return info, nil
}

// dirSize returns the total size of all files under path.
func dirSize(path string) int64 {
	var size int64

	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size
}
