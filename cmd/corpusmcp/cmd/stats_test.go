package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusmcp/corpusmcp/internal/index"
)

func TestStatsCmd_NoIndex_Errors(t *testing.T) {
	setupProject(t)

	cmd := newStatsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index")
}

func TestStatsCmd_JSONOutput(t *testing.T) {
	root := setupProject(t)
	writeProjectFile(t, root, "auth.go", sampleGoFile)
	buildIndex(t)

	cmd := newStatsCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	err := cmd.Execute()

	require.NoError(t, err)
	var report index.StatsReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, index.ModeSingle, report.Mode)
	assert.Equal(t, 1, report.PartitionCount)
	assert.Equal(t, 1, report.TotalFiles)
	assert.Positive(t, report.TotalSymbols)
}

func TestStatsCmd_FormattedOutput(t *testing.T) {
	root := setupProject(t)
	writeProjectFile(t, root, "auth.go", sampleGoFile)
	buildIndex(t)

	cmd := newStatsCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Index Statistics")
	assert.Contains(t, out, "Files:   1")
	assert.Contains(t, out, "Symbols:")
}
