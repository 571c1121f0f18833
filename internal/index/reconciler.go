package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Reconciler synchronizes on-disk partition storage with configuration:
// it creates storage directories for newly configured partitions and
// removes directories for partitions no longer configured. It runs once,
// before partitions are instantiated; failures are reported, never fatal.
type Reconciler struct {
	baseDir    string
	configured map[string]bool
	logger     *slog.Logger
}

// ReconcileResult reports what a reconcile pass changed.
type ReconcileResult struct {
	Created int
	Deleted int
	Errors  []error
}

// NewReconciler creates a reconciler for the given storage base and the
// configured partition names.
func NewReconciler(baseDir string, partitions []string, logger *slog.Logger) *Reconciler {
	configured := make(map[string]bool, len(partitions))
	for _, name := range partitions {
		configured[name] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{baseDir: baseDir, configured: configured, logger: logger}
}

// Reconcile makes the storage layout match configuration. Directories for
// configured partitions are created if missing; directories named after
// partitions that are no longer configured are removed along with their
// index files. Loose files at the base level are left alone.
func (r *Reconciler) Reconcile() ReconcileResult {
	var result ReconcileResult

	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("create storage base: %w", err))
		return result
	}

	existing := make(map[string]bool)
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("read storage base: %w", err))
		return result
	}
	for _, entry := range entries {
		if entry.IsDir() {
			existing[entry.Name()] = true
		}
	}

	for _, name := range sortedNames(r.configured) {
		if existing[name] {
			continue
		}
		if err := os.MkdirAll(filepath.Join(r.baseDir, name), 0o755); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("create partition storage %s: %w", name, err))
			continue
		}
		result.Created++
	}

	for _, name := range sortedNames(existing) {
		if r.configured[name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.baseDir, name)); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("remove stale partition storage %s: %w", name, err))
			continue
		}
		r.logger.Info("removed storage for unconfigured partition",
			slog.String("partition", name))
		result.Deleted++
	}

	return result
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
