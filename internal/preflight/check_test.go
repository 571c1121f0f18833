package preflight

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{
			name:     "required pass is not critical",
			result:   CheckResult{Status: StatusPass, Required: true},
			expected: false,
		},
		{
			name:     "required fail is critical",
			result:   CheckResult{Status: StatusFail, Required: true},
			expected: true,
		},
		{
			name:     "optional fail is not critical",
			result:   CheckResult{Status: StatusFail, Required: false},
			expected: false,
		},
		{
			name:     "required warn is not critical",
			result:   CheckResult{Status: StatusWarn, Required: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_New(t *testing.T) {
	checker := New()

	assert.NotNil(t, checker)
	assert.False(t, checker.offline)
	assert.False(t, checker.verbose)
}

func TestChecker_NewWithOptions(t *testing.T) {
	buf := &bytes.Buffer{}
	checker := New(
		WithOffline(true),
		WithVerbose(true),
		WithOutput(buf),
	)

	assert.True(t, checker.offline)
	assert.True(t, checker.verbose)
	assert.Equal(t, buf, checker.output)
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{
			name:     "no results",
			results:  []CheckResult{},
			expected: false,
		},
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusPass, Required: true},
			},
			expected: false,
		},
		{
			name: "warning only",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusWarn, Required: false},
			},
			expected: false,
		},
		{
			name: "optional failure",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: false},
			},
			expected: false,
		},
		{
			name: "required failure",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: true},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_CheckWritePermissions_Writable(t *testing.T) {
	tmpDir := t.TempDir()

	checker := New()
	result := checker.CheckWritePermissions(tmpDir)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "write_permissions", result.Name)
	assert.True(t, result.Required)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Skipping read-only test when running as root")
	}

	tmpDir := t.TempDir()
	readOnlyDir := filepath.Join(tmpDir, "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0o555))
	defer func() { _ = os.Chmod(readOnlyDir, 0o755) }()

	checker := New()
	result := checker.CheckWritePermissions(readOnlyDir)

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "permission denied")
}

func TestChecker_CheckConfig_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir()) // isolate from user config
	tmpDir := t.TempDir()

	checker := New()
	cfg, result := checker.CheckConfig(tmpDir)

	require.NotNil(t, cfg)
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "config", result.Name)
	assert.True(t, result.Required)
	assert.Contains(t, result.Message, "single repository")
}

func TestChecker_CheckConfig_Partitioned(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	yaml := `version: 1
index:
  partitions:
    backend:
      path: services/api
    docs:
      path: documentation
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".corpusmcp.yaml"), []byte(yaml), 0o644))

	checker := New()
	cfg, result := checker.CheckConfig(tmpDir)

	require.NotNil(t, cfg)
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "2 partitions")
}

func TestChecker_CheckConfig_Invalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	yaml := `search:
  bm25_weight: 0.9
  semantic_weight: 0.9
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".corpusmcp.yaml"), []byte(yaml), 0o644))

	checker := New()
	cfg, result := checker.CheckConfig(tmpDir)

	assert.Nil(t, cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "bm25_weight")
}

func TestChecker_CheckParser(t *testing.T) {
	checker := New()
	result := checker.CheckParser(context.Background())

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "parser", result.Name)
	assert.True(t, result.Required)
	assert.Contains(t, result.Message, "go")
	assert.Contains(t, result.Message, "python")
}

func TestChecker_RunAll_ReturnsAllChecks(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	checker := New(WithOffline(true))

	ctx := context.Background()
	results := checker.RunAll(ctx, tmpDir)

	assert.NotEmpty(t, results)

	checkNames := make(map[string]bool)
	for _, r := range results {
		checkNames[r.Name] = true
	}

	for _, name := range []string{
		"disk_space",
		"memory",
		"write_permissions",
		"file_descriptors",
		"config",
		"parser",
		"embedder",
		"index_state",
		"lock",
	} {
		assert.True(t, checkNames[name], "%s check missing", name)
	}
}

func TestChecker_RunAll_InvalidConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	yaml := `embeddings:
  provider: carrier-pigeon
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".corpusmcp.yaml"), []byte(yaml), 0o644))

	checker := New(WithOffline(true))
	results := checker.RunAll(context.Background(), tmpDir)

	byName := make(map[string]CheckResult)
	for _, r := range results {
		byName[r.Name] = r
	}

	assert.Equal(t, StatusFail, byName["config"].Status)
	// Dependent checks still run against defaults.
	assert.Equal(t, StatusPass, byName["embedder"].Status)
	assert.Equal(t, StatusPass, byName["index_state"].Status)
}

func TestChecker_PrintResults(t *testing.T) {
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "embedder", Status: StatusWarn, Message: "Ollama unreachable"},
		{Name: "memory", Status: StatusFail, Message: "Insufficient", Required: true},
	}

	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf))

	checker.PrintResults(results)

	output := buf.String()
	assert.Contains(t, output, "corpusmcp doctor")
	assert.Contains(t, output, "[PASS]")
	assert.Contains(t, output, "[WARN]")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "disk_space")
	assert.Contains(t, output, "Status: FAILED")
}

func TestChecker_PrintResults_VerboseShowsDetails(t *testing.T) {
	results := []CheckResult{
		{Name: "index_state", Status: StatusWarn, Message: "previous build was interrupted", Details: "Run 'corpusmcp build --force' to rebuild from scratch"},
	}

	buf := &bytes.Buffer{}
	New(WithOutput(buf), WithVerbose(true)).PrintResults(results)
	assert.Contains(t, buf.String(), "build --force")

	buf.Reset()
	New(WithOutput(buf)).PrintResults(results)
	assert.NotContains(t, buf.String(), "build --force")
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusPass},
			},
			expected: "ready",
		},
		{
			name: "with warnings",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusWarn},
			},
			expected: "ready_with_warnings",
		},
		{
			name: "with critical failure",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusFail, Required: true},
			},
			expected: "failed",
		},
		{
			name: "with optional failure",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusFail, Required: false},
			},
			expected: "ready_with_warnings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
		})
	}
}
