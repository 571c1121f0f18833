package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/async"
	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/logging"
	"github.com/corpusmcp/corpusmcp/internal/mcp"
	"github.com/corpusmcp/corpusmcp/internal/watcher"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var transport string
	var watch bool
	var offline bool
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server over stdio.

The server is meant to be spawned by an MCP client; run 'corpusmcp init'
to write the client configuration. A missing index is built in the
background while the server answers the protocol handshake, and --watch
keeps it fresh as files change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				transport: transport,
				watch:     watch,
				rebuild:   rebuild,
				offline:   offline,
			})
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport protocol (stdio)")
	cmd.Flags().BoolVar(&watch, "watch", true, "Watch indexed trees and apply incremental updates")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use hash embeddings (no Ollama required)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the index from scratch in the background")

	return cmd
}

type serveOptions struct {
	transport string
	watch     bool
	rebuild   bool
	offline   bool
}

// runServe starts the MCP server. Stdout carries JSON-RPC exclusively
// once the transport starts, so all diagnostics from here on go to the
// log file.
func runServe(ctx context.Context, opts serveOptions) error {
	root := projectRoot()
	cfg := loadProjectConfig(root, opts.offline)

	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupMCPModeWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	if opts.transport != "stdio" {
		return fmt.Errorf("unsupported transport %q (only stdio is supported)", opts.transport)
	}

	if err := verifyStdinForMCP(); err != nil {
		return err
	}

	dataDir := cfg.StorageDir(root)

	needsBuild := opts.rebuild || !indexReady(cfg, dataDir)
	force := opts.rebuild || async.Interrupted(dataDir)
	if force {
		needsBuild = true
	}

	embedder, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:        cfg.Embeddings.Provider,
		Model:           cfg.Embeddings.Model,
		Host:            cfg.Embeddings.OllamaHost,
		Dimensions:      cfg.Embeddings.Dimensions,
		BatchSize:       cfg.Embeddings.BatchSize,
		CacheSize:       cfg.Embeddings.CacheSize,
		SkipHealthCheck: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	// The build closure captures the orchestrator constructed just
	// below it; the runner only invokes the closure after Start.
	var orch *index.Orchestrator
	runner := async.NewRunner(async.Options{
		DataDir: dataDir,
		Build: func(ctx context.Context, _ *async.Tracker) error {
			_, err := orch.Build(ctx, nil, force)
			return err
		},
		Logger: slog.Default(),
	})

	orch, err = index.New(ctx, index.Options{
		Config:   cfg,
		Root:     root,
		BaseDir:  index.BaseDirFor(dataDir),
		Embedder: embedder,
		Renderer: runner.Tracker(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer orch.Close()

	srv, err := mcp.NewServer(orch, embedder, cfg, root, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	if needsBuild {
		slog.Info("scheduling background index build",
			slog.Bool("force", force))
		srv.SetTracker(runner.Tracker())
		runner.Start(ctx)
		defer runner.Stop()
	}

	if opts.watch {
		stopWatch, err := startWatchers(ctx, orch, cfg)
		if err != nil {
			// Watch failures degrade to a static index; queries still work.
			slog.Warn("file watching disabled", slog.String("error", err.Error()))
		} else {
			defer stopWatch()
		}
	}

	slog.Info("MCP server ready",
		slog.String("transport", opts.transport),
		slog.String("root", root),
		slog.String("mode", orch.Mode()))

	return srv.Serve(ctx, opts.transport)
}

// verifyStdinForMCP rejects an interactive terminal on stdin. MCP
// clients spawn the server with pipes; a TTY means a human ran 'serve'
// directly and would see nothing but protocol frames.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal, not a pipe: the serve command speaks MCP over stdio and expects to be spawned by an MCP client (run 'corpusmcp init' to configure one)")
	}
	return nil
}

// startWatchers wires a filesystem watcher per indexed tree and feeds
// change batches into incremental updates. The returned function stops
// every watcher.
func startWatchers(ctx context.Context, orch *index.Orchestrator, cfg *config.Config) (func(), error) {
	debounce, err := time.ParseDuration(cfg.Watcher.Debounce)
	if err != nil || debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	poll, err := time.ParseDuration(cfg.Watcher.PollInterval)
	if err != nil || poll <= 0 {
		poll = 5 * time.Second
	}

	roots := orch.PartitionRoots()
	watchers := make([]*watcher.HybridWatcher, 0, len(roots))

	for name, watchRoot := range roots {
		w, err := watcher.NewHybridWatcher(watcher.Options{
			Debounce:     debounce,
			PollInterval: poll,
			Ignore:       cfg.Index.Exclude,
			Logger:       slog.Default(),
		})
		if err != nil {
			for _, prev := range watchers {
				_ = prev.Stop()
			}
			return nil, fmt.Errorf("create watcher for %s: %w", name, err)
		}
		watchers = append(watchers, w)

		go func(name, watchRoot string, w *watcher.HybridWatcher) {
			if err := w.Start(ctx, watchRoot); err != nil && ctx.Err() == nil {
				slog.Warn("watcher stopped",
					slog.String("partition", name),
					slog.String("error", err.Error()))
			}
		}(name, watchRoot, w)

		go consumeWatchEvents(ctx, orch, name, watchRoot, w.Events())
	}

	slog.Info("file watching enabled", slog.Int("trees", len(roots)))

	return func() {
		for _, w := range watchers {
			_ = w.Stop()
		}
	}, nil
}

// consumeWatchEvents applies watcher batches until the context is
// canceled or the event channel closes.
func consumeWatchEvents(ctx context.Context, orch *index.Orchestrator, partition, watchRoot string, events <-chan []watcher.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			applyWatchBatch(ctx, orch, partition, watchRoot, batch)
		}
	}
}

// applyWatchBatch routes one debounced batch. Ignore-rule edits trigger
// a rescan so newly ignored or unignored files are reconciled; plain
// changes flow through the incremental update path.
func applyWatchBatch(ctx context.Context, orch *index.Orchestrator, partition, watchRoot string, batch []watcher.FileEvent) {
	var changed []string
	rescan := false

	for _, ev := range batch {
		switch ev.Operation {
		case watcher.OpConfigChange:
			slog.Info("configuration changed on disk, restart to apply",
				slog.String("path", ev.Path))
		case watcher.OpGitignoreChange:
			rescan = true
		default:
			changed = append(changed, filepath.Join(watchRoot, ev.Path))
		}
	}

	if rescan {
		orch.InvalidateScanCaches()
		if _, err := orch.Build(ctx, nil, false); err != nil {
			slog.Error("rescan after ignore change failed",
				slog.String("partition", partition),
				slog.String("error", err.Error()))
		}
		return
	}

	if len(changed) == 0 {
		return
	}

	summary, err := orch.Update(ctx, changed)
	if err != nil {
		slog.Error("incremental update failed",
			slog.String("partition", partition),
			slog.String("error", err.Error()))
		return
	}

	slog.Debug("incremental update applied",
		slog.String("partition", partition),
		slog.Int("files", summary.Files),
		slog.Int("dropped", summary.Dropped),
		slog.Int("indexed", summary.Semantic.Indexed),
		slog.Int("removed", summary.Semantic.Removed))
}
