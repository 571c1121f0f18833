package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/logging"
	"github.com/corpusmcp/corpusmcp/internal/output"
)

// newUpdateCmd creates the update command.
func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <file>...",
		Short: "Re-index changed files without a full build",
		Long: `Apply incremental updates for the given files.

Paths may be absolute or relative to the project root. Each file is
routed to the partition that contains it; files outside every indexed
tree are reported and skipped. Files deleted on disk are removed from
the index.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), cmd, args)
		},
	}

	return cmd
}

func runUpdate(ctx context.Context, cmd *cobra.Command, files []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	root := projectRoot()
	cfg := loadProjectConfig(root, false)
	dataDir := cfg.StorageDir(root)
	out := output.New(cmd.OutOrStdout())

	if !indexReady(cfg, dataDir) {
		return fmt.Errorf("no index found. Run 'corpusmcp build' first")
	}

	orch, err := openIndex(ctx, cfg, root, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	summary, err := orch.Update(ctx, files)
	if err != nil {
		return err
	}

	out.Successf("Updated %d files: %d chunks indexed, %d removed, %d symbols indexed",
		summary.Files, summary.Semantic.Indexed, summary.Semantic.Removed, summary.Graph.Indexed)
	if summary.Dropped > 0 {
		out.Warningf("%d files outside every indexed tree were skipped", summary.Dropped)
	}

	return nil
}
