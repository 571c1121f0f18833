// Package preflight validates the environment before index operations.
//
// The package checks:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB)
//   - Write permissions in the project directory
//   - File descriptor limits (minimum 1024)
//   - Configuration validity
//   - Tree-sitter grammar loading
//   - Embedding provider reachability
//   - Interrupted builds and index lock contention
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/project")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
