package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/lock"
)

func TestChecker_CheckIndexState_NoIndex(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), ".corpusmcp")

	checker := New()
	result := checker.CheckIndexState(dataDir)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "index_state", result.Name)
	assert.Contains(t, result.Message, "no index yet")
}

func TestChecker_CheckIndexState_Clean(t *testing.T) {
	dataDir := t.TempDir()

	checker := New()
	result := checker.CheckIndexState(dataDir)

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "index data present")
}

func TestChecker_CheckIndexState_InterruptedBuild(t *testing.T) {
	dataDir := t.TempDir()
	// The marker a crashed background build leaves behind.
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "build.marker"), []byte(time.Now().Format(time.RFC3339)), 0o644))

	checker := New()
	result := checker.CheckIndexState(dataDir)

	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "interrupted")
	assert.Contains(t, result.Details, "build --force")
}

func TestChecker_CheckLockContention_ProcessMode(t *testing.T) {
	cfg := config.NewConfig()

	checker := New()
	result := checker.CheckLockContention(context.Background(), cfg, t.TempDir())

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "lock", result.Name)
	assert.Contains(t, result.Message, "in-process")
}

func TestChecker_CheckLockContention_FileModeNoIndex(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.LockMode = "file"

	checker := New()
	result := checker.CheckLockContention(context.Background(), cfg, t.TempDir())

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "not applicable")
}

func TestChecker_CheckLockContention_FileModeFree(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.LockMode = "file"

	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(index.BaseDirFor(dataDir), 0o755))

	checker := New()
	result := checker.CheckLockContention(context.Background(), cfg, dataDir)

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "acquirable")
}

func TestChecker_CheckLockContention_FileModeHeld(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.LockMode = "file"

	dataDir := t.TempDir()
	baseDir := index.BaseDirFor(dataDir)
	require.NoError(t, os.MkdirAll(baseDir, 0o755))

	holder := lock.NewManager(index.LockNamespace, lock.WithFileLock(baseDir))
	release, err := holder.Exclusive(context.Background())
	require.NoError(t, err)
	defer release()

	checker := New()
	result := checker.CheckLockContention(context.Background(), cfg, dataDir)

	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "held by another process")
}
