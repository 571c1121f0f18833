// Package cmd provides the CLI commands for corpusmcp.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/logging"
	"github.com/corpusmcp/corpusmcp/internal/preflight"
	"github.com/corpusmcp/corpusmcp/internal/profiling"
	"github.com/corpusmcp/corpusmcp/pkg/version"
)

// Profiling flags, shared by every subcommand.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	cpuStop      func()
	traceStop    func()
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the corpusmcp CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var rebuild bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "corpusmcp",
		Short: "Hybrid code search and call-graph index over MCP",
		Long: `corpusmcp indexes one repository, or several repositories as named
partitions, and serves hybrid (keyword + semantic) search, structural
symbol search, and call-graph traversals to AI coding assistants over
the Model Context Protocol.

It runs entirely locally with zero configuration required.

Just run 'corpusmcp' in your project directory to get started.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), offline, rebuild, skipCheck)
		},
	}

	cmd.SetVersionTemplate("corpusmcp version {{.Version}}\n")

	cmd.Flags().BoolVar(&offline, "offline", false, "Use hash embeddings (no Ollama required)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the index from scratch before serving")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.corpusmcp/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newASTCmd())
	cmd.AddCommand(newCallersCmd())
	cmd.AddCommand(newDepsCmd())
	cmd.AddCommand(newPathsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging
// if the corresponding flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to set up debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		stop, err := profiling.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		cpuStop = stop
	}

	if profileTrace != "" {
		stop, err := profiling.StartTrace(profileTrace)
		if err != nil {
			if cpuStop != nil {
				cpuStop()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
		traceStop = stop
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, and writes the
// memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuStop != nil {
		cpuStop()
		cpuStop = nil
	}
	if traceStop != nil {
		traceStop()
		traceStop = nil
	}

	if profileMem != "" {
		if err := profiling.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault implements the zero-argument flow: check the system,
// then serve over stdio. The MCP stdio transport owns stdout for
// JSON-RPC, so nothing may be printed here; diagnostics go to the log
// file, and 'corpusmcp status' or 'corpusmcp doctor' show them
// interactively.
func runSmartDefault(ctx context.Context, offline, rebuild, skipCheck bool) error {
	root := projectRoot()
	cfg := loadProjectConfig(root, offline)
	dataDir := cfg.StorageDir(root)

	if !skipCheck && preflight.NeedsCheck(dataDir) {
		checker := preflight.New(
			preflight.WithOffline(offline),
			preflight.WithOutput(io.Discard),
		)
		results := checker.RunAll(ctx, root)

		if checker.HasCriticalFailures(results) {
			slog.Error("system check failed, run 'corpusmcp doctor' for diagnostics")
			return fmt.Errorf("system check failed")
		}

		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Debug("failed to record preflight marker", slog.String("error", err.Error()))
		}
	}

	// The serve path builds the index in the background when it is
	// missing, so the MCP handshake is never delayed by indexing.
	return runServe(ctx, serveOptions{
		transport: "stdio",
		watch:     true,
		rebuild:   rebuild,
		offline:   offline,
	})
}

// projectRoot locates the project root, falling back to the working
// directory when no marker is found.
func projectRoot() string {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return root
}

// loadProjectConfig loads configuration for root, falling back to
// defaults, and forces the hash provider in offline mode.
func loadProjectConfig(root string, offline bool) *config.Config {
	cfg, err := config.Load(root)
	if err != nil {
		slog.Warn("config invalid, using defaults", slog.String("error", err.Error()))
		cfg = config.NewConfig()
	}
	if offline {
		cfg.Embeddings.Provider = "hash"
	}
	return cfg
}

// indexReady reports whether every configured partition has been built.
// A missing partition store means a build is needed; builds are
// incremental, so a false negative only costs a scan.
func indexReady(cfg *config.Config, dataDir string) bool {
	baseDir := index.BaseDirFor(dataDir)
	if !cfg.MultiPartition() {
		return fileExists(filepath.Join(baseDir, "meta.db"))
	}
	for _, name := range cfg.PartitionNames() {
		if !fileExists(filepath.Join(baseDir, name, "meta.db")) {
			return false
		}
	}
	return true
}

// openIndex opens the orchestrator for query commands. Construction
// never probes the embedding provider; a degraded provider surfaces on
// the query itself. The caller owns Close.
func openIndex(ctx context.Context, cfg *config.Config, root, dataDir string) (*index.Orchestrator, error) {
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
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return index.New(ctx, index.Options{
		Config:   cfg,
		Root:     root,
		BaseDir:  index.BaseDirFor(dataDir),
		Embedder: embedder,
		Logger:   slog.Default(),
	})
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
