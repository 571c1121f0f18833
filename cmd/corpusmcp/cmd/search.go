package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/logging"
	"github.com/corpusmcp/corpusmcp/internal/output"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	filter     string // "all", "code", "docs"
	language   string
	symbolType string
	format     string // "text", "json"
	scopes     []string
	partition  string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines keyword (BM25) and semantic (embedding) retrieval with
Reciprocal Rank Fusion. In partitioned mode the query fans out across
all partitions and results are merged by score; --partition restricts
it to one.

Examples:
  corpusmcp search "authentication middleware"
  corpusmcp search "handleRequest" --type code --limit 5
  corpusmcp search "setup instructions" --type docs
  corpusmcp search "error handling" --format json
  corpusmcp search "retry loop" --partition backend`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVar(&opts.symbolType, "symbol", "", "Filter by symbol type (e.g., function, struct)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope internal/api)")
	cmd.Flags().StringVarP(&opts.partition, "partition", "p", "", "Restrict the query to one partition")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root := projectRoot()
	cfg := loadProjectConfig(root, false)
	dataDir := cfg.StorageDir(root)

	if !indexReady(cfg, dataDir) {
		return fmt.Errorf("no index found. Run 'corpusmcp build' first")
	}

	orch, err := openIndex(ctx, cfg, root, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	results, err := orch.Search(ctx, query, opts.limit, &index.SearchFilters{
		Partition:  opts.partition,
		Filter:     opts.filter,
		Language:   opts.language,
		SymbolType: opts.symbolType,
		Scopes:     opts.scopes,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.Int("results", len(results)))

	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatSearchJSON(cmd, results)
	default:
		return formatSearchText(out, query, results)
	}
}

// formatSearchText outputs results in human-readable form.
func formatSearchText(out *output.Writer, query string, results []*semantic.Result) error {
	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		if r.Chunk == nil {
			continue
		}

		// Format: 1. path/to/file.go:42 (score: 0.89)
		location := r.Chunk.FilePath
		if r.Chunk.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.Chunk.FilePath, r.Chunk.StartLine)
		}
		if r.Partition != "" {
			location = fmt.Sprintf("[%s] %s", r.Partition, location)
		}

		out.Statusf("", "%d. %s (score: %.2f)", i+1, location, r.Score)

		snippet := getSnippet(r.Chunk.Content, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatSearchJSON outputs results in JSON form.
func formatSearchJSON(cmd *cobra.Command, results []*semantic.Result) error {
	type jsonResult struct {
		FilePath  string  `json:"file_path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Score     float64 `json:"score"`
		Content   string  `json:"content"`
		Language  string  `json:"language,omitempty"`
		Partition string  `json:"partition,omitempty"`
	}

	var rows []jsonResult
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		rows = append(rows, jsonResult{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
			Language:  r.Chunk.Language,
			Partition: r.Partition,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// getSnippet returns the first n lines of content, trailing blanks
// trimmed.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
