package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/internal/output"
	"github.com/corpusmcp/corpusmcp/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
		verify     bool
		repair     bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure corpusmcp can operate correctly.

Checks:
  - Disk space and memory availability
  - Write permissions and file descriptor limits
  - Configuration validity (including partition roots)
  - Parser grammar availability
  - Embedding provider reachability
  - Index store integrity

Use --verify to additionally cross-check the keyword and vector indexes
against chunk metadata, and --repair to delete any orphaned entries the
verification finds.`,
		Example: `  # Run diagnostics
  corpusmcp doctor

  # Verbose output with details
  corpusmcp doctor --verbose

  # Cross-check index stores and repair orphans
  corpusmcp doctor --verify --repair

  # JSON output for scripting
  corpusmcp doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if repair {
				verify = true
			}
			return runDoctor(cmd, verbose, jsonOutput, offline, verify, repair)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip checks that need the embedding provider")
	cmd.Flags().BoolVar(&verify, "verify", false, "Cross-check index stores against chunk metadata")
	cmd.Flags().BoolVar(&repair, "repair", false, "Repair orphaned store entries (implies --verify)")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline, verify, repair bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := projectRoot()

	checker := preflight.New(
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx, root)

	if jsonOutput {
		return outputDoctorJSON(cmd, checker, results, verify, repair)
	}

	checker.PrintResults(results)

	cfg := loadProjectConfig(root, offline)
	dataDir := cfg.StorageDir(root)

	if !preflight.NeedsCheck(dataDir) {
		age := preflight.MarkerAge(dataDir)
		if age > 0 {
			cmd.Printf("\nLast successful check: %s ago\n", formatAge(age))
		}
	}

	if verify {
		if err := runVerify(ctx, cmd, root, repair); err != nil {
			return err
		}
	}

	if checker.HasCriticalFailures(results) {
		return &doctorError{message: "system check failed"}
	}

	return nil
}

// runVerify cross-checks every partition's stores and prints the
// outcome. Orphans are repairable in place; missing entries need a
// forced rebuild.
func runVerify(ctx context.Context, cmd *cobra.Command, root string, repair bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg := loadProjectConfig(root, false)
	dataDir := cfg.StorageDir(root)

	if !indexReady(cfg, dataDir) {
		out.Newline()
		out.Warning("No index found; skipping store verification.")
		return nil
	}

	orch, err := openIndex(ctx, cfg, root, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	reports, err := orch.Verify(ctx, repair)
	if err != nil {
		return fmt.Errorf("store verification failed: %w", err)
	}

	out.Newline()
	dirty := false
	for _, r := range reports {
		label := r.Partition
		if label == "" {
			label = "index"
		}
		if r.Err != nil {
			dirty = true
			out.Errorf("%s: verification failed: %v", label, r.Err)
			continue
		}
		if r.Result.Clean() {
			out.Successf("%s: %d chunks checked, stores consistent", label, r.Result.Checked)
			continue
		}
		dirty = true
		out.Warningf("%s: %d chunks checked, %d drifts found, %d repaired",
			label, r.Result.Checked, len(r.Result.Drifts), r.Result.Repaired)
	}

	if dirty && !repair {
		out.Status("", "Run 'corpusmcp doctor --repair' to remove orphaned entries,")
		out.Status("", "or 'corpusmcp build --force' to rebuild missing ones.")
	}

	return nil
}

// doctorError is a custom error for doctor command failures.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

// doctorJSON is the structure for JSON output.
type doctorJSON struct {
	Status   string            `json:"status"`
	Checks   []doctorJSONCheck `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
	Verify   []doctorJSONStore `json:"verify,omitempty"`
}

// doctorJSONCheck is a single check result for JSON output.
type doctorJSONCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

// doctorJSONStore is one partition's store verification for JSON output.
type doctorJSONStore struct {
	Partition string `json:"partition"`
	Checked   int    `json:"checked"`
	Drifts    int    `json:"drifts"`
	Repaired  int    `json:"repaired"`
	Error     string `json:"error,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult, verify, repair bool) error {
	out := doctorJSON{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorJSONCheck, len(results)),
	}

	for i, r := range results {
		out.Checks[i] = doctorJSONCheck{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			out.Errors = append(out.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			out.Warnings = append(out.Warnings, r.Name+": "+r.Message)
		}
	}

	if verify {
		root := projectRoot()
		cfg := loadProjectConfig(root, false)
		dataDir := cfg.StorageDir(root)
		if indexReady(cfg, dataDir) {
			orch, err := openIndex(cmd.Context(), cfg, root, dataDir)
			if err != nil {
				return err
			}
			defer func() { _ = orch.Close() }()

			reports, err := orch.Verify(cmd.Context(), repair)
			if err != nil {
				return err
			}
			for _, r := range reports {
				row := doctorJSONStore{Partition: r.Partition}
				if r.Err != nil {
					row.Error = r.Err.Error()
				} else {
					row.Checked = r.Result.Checked
					row.Drifts = len(r.Result.Drifts)
					row.Repaired = r.Result.Repaired
				}
				out.Verify = append(out.Verify, row)
			}
		}
	}

	return encodeJSON(cmd, out)
}

// formatAge renders a marker age in coarse human units.
func formatAge(d time.Duration) string {
	hours := d.Hours()
	switch {
	case hours < 1:
		return "less than 1 hour"
	case hours < 2:
		return "1 hour"
	case hours < 24:
		return fmt.Sprintf("%d hours", int(hours))
	case hours < 48:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", int(hours/24))
	}
}
