package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corpusmcp/corpusmcp/pkg/version"
)

// MarkerFile is the name of the file that indicates preflight checks have passed.
const MarkerFile = ".preflight-passed"

// NeedsCheck returns true if preflight checks should be run. A marker
// written by a different binary version does not count: upgrades
// re-validate the environment.
func NeedsCheck(dataDir string) bool {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return true
	}

	fields := strings.Fields(string(content))
	return len(fields) < 2 || fields[0] != version.Version
}

// MarkPassed creates the marker file to indicate preflight checks passed.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	markerPath := filepath.Join(dataDir, MarkerFile)
	content := fmt.Sprintf("%s %s", version.Version, time.Now().Format(time.RFC3339))
	return os.WriteFile(markerPath, []byte(content), 0o644)
}

// ClearMarker removes the marker file, forcing a re-check on next run.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the preflight check passed.
// Returns zero if no valid marker exists.
func MarkerAge(dataDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0
	}

	fields := strings.Fields(string(content))
	if len(fields) < 2 {
		return 0
	}

	t, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return 0
	}
	return time.Since(t)
}
