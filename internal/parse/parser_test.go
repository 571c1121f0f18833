package parse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseGoSource_ReturnsTree(t *testing.T) {
	// Given: valid Go source with two functions
	source := []byte(`package main

func hello() {
	fmt.Println("hello")
}

func goodbye() {
	fmt.Println("bye")
}
`)

	// When: parsing as Go
	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "go")

	// Then: tree contains both function declarations
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "go", tree.Language)

	funcs := tree.Root.FindAllByType("function_declaration")
	assert.Len(t, funcs, 2)
}

func TestParser_ParsePython_ReturnsTree(t *testing.T) {
	// Given: Python source with a class and a function
	source := []byte(`class Greeter:
    def greet(self):
        return "hi"

def main():
    Greeter().greet()
`)

	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "python")

	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "python", tree.Language)

	classes := tree.Root.FindAllByType("class_definition")
	funcs := tree.Root.FindAllByType("function_definition")
	assert.Len(t, classes, 1)
	assert.Len(t, funcs, 2, "method plus top-level function")
}

func TestParser_UnsupportedLanguage_ReturnsError(t *testing.T) {
	parser := NewParser()
	defer parser.Close()

	_, err := parser.Parse(context.Background(), []byte("body {}"), "css")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestParser_ParseFile_DetectsLanguageByExtension(t *testing.T) {
	// Given: a Go file on disk
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644))

	parser := NewParser()
	defer parser.Close()

	// When: parsing by path
	parsed, err := parser.ParseFile(context.Background(), path)

	// Then: language is detected and source retained
	require.NoError(t, err)
	assert.Equal(t, "go", parsed.Language)
	assert.Equal(t, path, parsed.Path)
	assert.Contains(t, string(parsed.Source), "package main")
	require.NotNil(t, parsed.Tree)
	assert.False(t, parsed.ParsedAt.IsZero())
}

func TestParser_ParseFile_UnknownExtension_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	parser := NewParser()
	defer parser.Close()

	_, err := parser.ParseFile(context.Background(), path)

	require.Error(t, err)
}

func TestParser_ParseFile_MissingFile_ReturnsError(t *testing.T) {
	parser := NewParser()
	defer parser.Close()

	_, err := parser.ParseFile(context.Background(), filepath.Join(t.TempDir(), "absent.go"))

	require.Error(t, err)
}

func TestLanguageRegistry_LanguageForPath(t *testing.T) {
	registry := DefaultRegistry()

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"cmd/main.go", "go", true},
		{"src/app.ts", "typescript", true},
		{"src/app.tsx", "tsx", true},
		{"web/index.js", "javascript", true},
		{"scripts/run.py", "python", true},
		{"README.md", "", false},
		{"Makefile", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			lang, ok := registry.LanguageForPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, lang)
			}
		})
	}
}

func TestLanguageRegistry_Languages(t *testing.T) {
	langs := DefaultRegistry().Languages()

	assert.Equal(t, []string{"go", "javascript", "jsx", "python", "tsx", "typescript"}, langs)
}

func TestNode_GetContent(t *testing.T) {
	source := []byte(`package main

func answer() int { return 42 }
`)

	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "go")
	require.NoError(t, err)

	fn := tree.Root.FindChildByType("function_declaration")
	require.NotNil(t, fn)
	assert.Contains(t, fn.GetContent(source), "func answer()")
}
