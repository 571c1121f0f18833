package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGoFile = `package auth

// Login authenticates a user session.
func Login() error {
	return Validate()
}

// Validate checks the stored credentials.
func Validate() error {
	return nil
}
`

// writeProjectFile creates rel under root.
func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// buildIndex runs the build command against the current project.
func buildIndex(t *testing.T) {
	t.Helper()
	cmd := newBuildCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-tui"})
	require.NoError(t, cmd.Execute())
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	cmd := newSearchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	require.Error(t, err)
}

func TestSearchCmd_NoIndex_Errors(t *testing.T) {
	setupProject(t)

	cmd := newSearchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"anything"})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index")
}

func TestSearchCmd_WithIndex_ReturnsResults(t *testing.T) {
	root := setupProject(t)
	writeProjectFile(t, root, "auth.go", sampleGoFile)
	buildIndex(t)

	cmd := newSearchCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"Login"})

	err := cmd.Execute()

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "auth.go")
	assert.Contains(t, out, "score")
}

func TestSearchCmd_FormatJSON_ValidJSON(t *testing.T) {
	root := setupProject(t)
	writeProjectFile(t, root, "auth.go", sampleGoFile)
	buildIndex(t)

	cmd := newSearchCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"Login", "--format", "json"})

	err := cmd.Execute()

	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.NotEmpty(t, rows)
	assert.Equal(t, "auth.go", rows[0]["file_path"])
	assert.Contains(t, rows[0], "score")
}

func TestSearchCmd_NoResults_ShowsMessage(t *testing.T) {
	root := setupProject(t)
	writeProjectFile(t, root, "auth.go", sampleGoFile)
	buildIndex(t)

	// A scope that matches no indexed path filters everything out.
	cmd := newSearchCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"Login", "--scope", "nonexistent/"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No results")
}

func TestSearchCmd_LimitFlag(t *testing.T) {
	cmd := newSearchCmd()
	flag := cmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "10", flag.DefValue)
}
