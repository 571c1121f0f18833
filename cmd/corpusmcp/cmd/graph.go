package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/logging"
	"github.com/corpusmcp/corpusmcp/internal/output"
)

// graphOptions holds the flags shared by the structural commands.
type graphOptions struct {
	limit     int
	depth     int
	language  string
	format    string
	scopes    []string
	partition string
}

// newASTCmd creates the ast command.
func newASTCmd() *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "ast <pattern>",
		Short: "Search symbols by structural pattern",
		Long: `Search indexed symbols by kind and name pattern.

Patterns take the form kind:name, where the name may contain glob
characters, or a bare name for a substring match across all kinds.

Examples:
  corpusmcp ast "func:Handle*"
  corpusmcp ast "struct:Config" --language go
  corpusmcp ast "parse" --limit 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAST(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", graph.DefaultASTResults, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable)")
	cmd.Flags().StringVarP(&opts.partition, "partition", "p", "", "Restrict the query to one partition")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

// newCallersCmd creates the callers command.
func newCallersCmd() *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "callers <symbol>",
		Short: "Find callers of a symbol",
		Long: `Walk the call graph upward from a symbol and list everything that
calls it, directly or transitively, up to --depth edges away.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraversal(cmd.Context(), cmd, args[0], opts, traverseCallers)
		},
	}

	addTraversalFlags(cmd, &opts)
	return cmd
}

// newDepsCmd creates the deps command.
func newDepsCmd() *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "deps <symbol>",
		Short: "Find dependencies of a symbol",
		Long: `Walk the call graph downward from a symbol and list everything it
calls, directly or transitively, up to --depth edges away.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraversal(cmd.Context(), cmd, args[0], opts, traverseDeps)
		},
	}

	addTraversalFlags(cmd, &opts)
	return cmd
}

// newPathsCmd creates the paths command.
func newPathsCmd() *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "paths <from> <to>",
		Short: "Find call paths between two symbols",
		Long: `List the call chains that lead from one symbol to another, shortest
first, up to --depth edges long. Call graphs never span partitions, so
both symbols must live in the same one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaths(cmd.Context(), cmd, args[0], args[1], opts)
		},
	}

	addTraversalFlags(cmd, &opts)
	return cmd
}

func addTraversalFlags(cmd *cobra.Command, opts *graphOptions) {
	cmd.Flags().IntVarP(&opts.depth, "depth", "d", graph.DefaultTraversalDepth,
		fmt.Sprintf("Maximum traversal depth (1-%d)", graph.MaxTraversalDepth))
	cmd.Flags().StringVarP(&opts.partition, "partition", "p", "", "Restrict the query to one partition")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
}

type traversalKind int

const (
	traverseCallers traversalKind = iota
	traverseDeps
)

func runAST(ctx context.Context, cmd *cobra.Command, pattern string, opts graphOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	orch, err := openQueryIndex(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	nodes, err := orch.SearchAST(ctx, pattern, opts.limit, &index.SearchFilters{
		Partition: opts.partition,
		Language:  opts.language,
		Scopes:    opts.scopes,
	})
	if err != nil {
		return fmt.Errorf("pattern search failed: %w", err)
	}

	if len(nodes) == 0 {
		out.Status("", fmt.Sprintf("No symbols match %q", pattern))
		return nil
	}

	if opts.format == "json" {
		return encodeJSON(cmd, nodes)
	}

	out.Statusf("🔍", "Found %d symbols for %q:", len(nodes), pattern)
	out.Newline()
	for i, n := range nodes {
		name := n.Name
		if n.Container != "" {
			name = n.Container + "." + n.Name
		}
		out.Statusf("", "%d. %s %s  %s", i+1, n.Kind, name, symbolLocation(n.Partition, n.FilePath, n.StartLine))
		if n.Signature != "" {
			out.Status("", "   "+n.Signature)
		}
	}
	return nil
}

func runTraversal(ctx context.Context, cmd *cobra.Command, symbol string, opts graphOptions, kind traversalKind) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	orch, err := openQueryIndex(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	var nodes []*graph.TraversalNode
	var direction string
	switch kind {
	case traverseCallers:
		nodes, err = orch.FindCallers(ctx, symbol, opts.depth, opts.partition)
		direction = "callers"
	default:
		nodes, err = orch.FindDependencies(ctx, symbol, opts.depth, opts.partition)
		direction = "dependencies"
	}
	if err != nil {
		return fmt.Errorf("traversal failed: %w", err)
	}

	if len(nodes) == 0 {
		out.Status("", fmt.Sprintf("No %s found for %q (depth %d)", direction, symbol, opts.depth))
		return nil
	}

	if opts.format == "json" {
		return encodeJSON(cmd, nodes)
	}

	out.Statusf("🔍", "Found %d %s of %q (depth %d):", len(nodes), direction, symbol, opts.depth)
	out.Newline()
	for _, n := range nodes {
		indent := strings.Repeat("  ", n.Depth-1)
		out.Statusf("", "%s%s %s  %s", indent, n.Kind, n.Name, symbolLocation(n.Partition, n.FilePath, n.StartLine))
	}
	return nil
}

func runPaths(ctx context.Context, cmd *cobra.Command, from, to string, opts graphOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	orch, err := openQueryIndex(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	paths, err := orch.FindCallPaths(ctx, from, to, opts.depth, opts.partition)
	if err != nil {
		return fmt.Errorf("path search failed: %w", err)
	}

	if len(paths) == 0 {
		out.Status("", fmt.Sprintf("No call paths from %q to %q (depth %d)", from, to, opts.depth))
		return nil
	}

	if opts.format == "json" {
		return encodeJSON(cmd, paths)
	}

	out.Statusf("🔍", "Found %d call paths from %q to %q:", len(paths), from, to)
	out.Newline()
	for i, p := range paths {
		out.Statusf("", "%d. %s", i+1, strings.Join(p, " -> "))
	}
	return nil
}

// openQueryIndex resolves the project and opens the orchestrator for a
// read-only structural query.
func openQueryIndex(ctx context.Context) (*index.Orchestrator, error) {
	root := projectRoot()
	cfg := loadProjectConfig(root, false)
	dataDir := cfg.StorageDir(root)

	if !indexReady(cfg, dataDir) {
		return nil, fmt.Errorf("no index found. Run 'corpusmcp build' first")
	}
	return openIndex(ctx, cfg, root, dataDir)
}

// symbolLocation formats a file:line reference, prefixed with the
// partition when set.
func symbolLocation(partition, filePath string, line int) string {
	loc := filePath
	if line > 0 {
		loc = fmt.Sprintf("%s:%d", filePath, line)
	}
	if partition != "" {
		loc = fmt.Sprintf("[%s] %s", partition, loc)
	}
	return loc
}

// encodeJSON writes v as indented JSON to the command's stdout.
func encodeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
