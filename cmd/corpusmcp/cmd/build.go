package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/async"
	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/logging"
	"github.com/corpusmcp/corpusmcp/internal/output"
	"github.com/corpusmcp/corpusmcp/internal/ui"
)

// newBuildCmd creates the build command.
func newBuildCmd() *cobra.Command {
	var force bool
	var noTUI bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Build the code index",
		Long: `Build the search and call-graph index for a project.

Builds are incremental: files whose content is unchanged are skipped.
With partitions configured, every partition is built; a partition that
fails is reported and skipped so the others still complete.

Use --force to clear existing index data and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Ctrl+C must cancel the context so in-flight embedding
			// batches stop instead of finishing out.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runBuild(ctx, cmd, path, force, noTUI, offline)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use hash embeddings (no Ollama required)")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, path string, force, noTUI, offline bool) error {
	// File-only logging keeps slog output out of the progress display.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	cfg := loadProjectConfig(root, offline)
	dataDir := cfg.StorageDir(root)
	baseDir := index.BaseDirFor(dataDir)

	out := output.New(cmd.OutOrStdout())

	if !force && async.Interrupted(dataDir) {
		out.Warning("Previous build was interrupted; rebuilding from scratch.")
		force = true
	}
	if force {
		if err := os.RemoveAll(baseDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		out.Status("", "Cleared existing index data, starting fresh...")
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	orch, err := index.New(ctx, index.Options{
		Config:   cfg,
		Root:     root,
		BaseDir:  baseDir,
		Renderer: renderer,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	// A path argument inside the project narrows the build to that
	// subtree; the bare root builds everything.
	var sourcePaths []string
	if absPath != root {
		sourcePaths = []string{absPath}
	}

	summary, err := orch.Build(ctx, sourcePaths, force)
	if err != nil {
		return err
	}

	async.ClearInterrupted(dataDir)

	renderer.Complete(ui.CompletionStats{
		Files:    summary.Files,
		Chunks:   summary.Chunks,
		Duration: summary.Elapsed,
		Errors:   summary.Errors,
		Warnings: len(summary.Failed),
	})

	if len(summary.Failed) > 0 {
		out.Warningf("%d of %d partitions failed and were skipped: %s",
			len(summary.Failed), summary.Partitions, strings.Join(summary.Failed, ", "))
		out.Status("", "Run 'corpusmcp doctor' for diagnostics.")
	}

	return nil
}
