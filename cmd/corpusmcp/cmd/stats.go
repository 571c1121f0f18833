package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/index"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show detailed index statistics",
		Long: `Display per-partition index statistics including:
  - File, chunk, symbol, and call edge counts
  - Vector and keyword document counts
  - Embedding model and dimensions per partition
  - Build timestamps`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
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

	report, err := orch.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}

	if jsonOutput {
		return encodeJSON(cmd, report)
	}

	return printStatsFormatted(cmd, report)
}

func printStatsFormatted(cmd *cobra.Command, report *index.StatsReport) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Index Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Mode:       %s\n", report.Mode)
	if report.Mode == index.ModePartitioned {
		fmt.Fprintf(w, "Partitions: %d\n", report.PartitionCount)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Totals:")
	fmt.Fprintf(w, "  Files:   %d\n", report.TotalFiles)
	fmt.Fprintf(w, "  Chunks:  %d\n", report.TotalChunks)
	fmt.Fprintf(w, "  Symbols: %d\n", report.TotalSymbols)
	fmt.Fprintf(w, "  Edges:   %d\n", report.TotalEdges)
	fmt.Fprintln(w)

	for _, p := range report.Partitions {
		header := p.Name
		if p.Path != "" && p.Path != p.Name {
			header = fmt.Sprintf("%s (%s)", p.Name, p.Path)
		}
		fmt.Fprintln(w, header)

		if p.Semantic != nil {
			fmt.Fprintf(w, "  Files:   %d\n", p.Semantic.Files)
			fmt.Fprintf(w, "  Chunks:  %d\n", p.Semantic.Chunks)
			fmt.Fprintf(w, "  Vectors: %d (BM25 documents: %d)\n", p.Semantic.Vectors, p.Semantic.BM25Documents)
			if p.Semantic.EmbedModel != "" {
				fmt.Fprintf(w, "  Embed model: %s (%d dims)\n", p.Semantic.EmbedModel, p.Semantic.EmbedDimensions)
			}
			if !p.Semantic.BuiltAt.IsZero() {
				fmt.Fprintf(w, "  Built: %s\n", p.Semantic.BuiltAt.Format("2006-01-02 15:04:05"))
			}
		}
		if p.Graph != nil {
			fmt.Fprintf(w, "  Symbols: %d\n", p.Graph.Symbols)
			fmt.Fprintf(w, "  Edges:   %d\n", p.Graph.Edges)
		}
		if len(p.Domains) > 0 {
			fmt.Fprintf(w, "  Domains: %v\n", p.Domains)
		}
		fmt.Fprintln(w)
	}

	return nil
}
