package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/async"
	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/lock"
)

// lockProbeTimeout bounds the shared-lock acquisition probe.
const lockProbeTimeout = 500 * time.Millisecond

// CheckIndexState inspects the storage directory for leftovers of an
// interrupted build.
func (c *Checker) CheckIndexState(dataDir string) CheckResult {
	result := CheckResult{
		Name:     "index_state",
		Required: false,
	}

	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		result.Status = StatusPass
		result.Message = "no index yet (run 'corpusmcp build')"
		return result
	}

	if async.Interrupted(dataDir) {
		result.Status = StatusWarn
		result.Message = "previous build was interrupted"
		result.Details = "Run 'corpusmcp build --force' to rebuild from scratch"
		return result
	}

	result.Status = StatusPass
	result.Message = "index data present"
	return result
}

// CheckLockContention probes the index lock. In file mode another process
// holding the storage directory shows up here; in process mode there is
// nothing to contend with before startup.
func (c *Checker) CheckLockContention(ctx context.Context, cfg *config.Config, dataDir string) CheckResult {
	result := CheckResult{
		Name:     "lock",
		Required: false,
	}

	if cfg.Storage.LockMode != "file" {
		result.Status = StatusPass
		result.Message = "in-process locking"
		return result
	}

	baseDir := index.BaseDirFor(dataDir)
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		result.Status = StatusPass
		result.Message = "not applicable (no index yet)"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, lockProbeTimeout)
	defer cancel()

	mgr := lock.NewManager(index.LockNamespace,
		lock.WithFileLock(baseDir),
		lock.WithRetryDelay(25*time.Millisecond))
	release, err := mgr.Shared(probeCtx)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "index lock is held by another process"
		result.Details = fmt.Sprintf("Waited %s for a shared lock in %s", lockProbeTimeout, baseDir)
		return result
	}
	release()

	result.Status = StatusPass
	result.Message = "lock file acquirable"
	return result
}
