package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusmcp/corpusmcp/internal/parse"
)

// parseSource builds a FileInput with a pre-parsed tree, the way the
// indexing pipeline hands files to the chunker.
func parseSource(t *testing.T, path, language string, source []byte) *FileInput {
	t.Helper()
	parser := parse.NewParser()
	t.Cleanup(parser.Close)

	tree, err := parser.Parse(context.Background(), source, language)
	require.NoError(t, err)

	return &FileInput{Path: path, Content: source, Language: language, Tree: tree}
}

func TestCodeChunker_GoFile_OneChunkPerSymbol(t *testing.T) {
	// Given: a Go file with two functions and a type
	source := []byte(`package server

import "fmt"

// Greet prints a greeting.
func Greet(name string) {
	fmt.Println("hello", name)
}

type Handler struct {
	Name string
}

func (h *Handler) Serve() {
	Greet(h.Name)
}
`)
	file := parseSource(t, "internal/server/server.go", "go", source)

	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), file)

	// Then: each symbol becomes a chunk with context attached
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	names := make(map[string]bool)
	for _, ch := range chunks {
		assert.Equal(t, ContentTypeCode, ch.ContentType)
		assert.Equal(t, "go", ch.Language)
		assert.NotEmpty(t, ch.ID)
		assert.Contains(t, ch.Context, "// File: internal/server/server.go")
		assert.Contains(t, ch.Context, "package server")
		for _, sym := range ch.Symbols {
			names[sym.Name] = true
		}
	}
	assert.True(t, names["Greet"])
	assert.True(t, names["Handler"])
	assert.True(t, names["Serve"])
}

func TestCodeChunker_DocComment_IncludedInChunk(t *testing.T) {
	source := []byte(`package mathx

// Add returns the sum of two ints.
// It never overflows in practice.
func Add(a, b int) int {
	return a + b
}
`)
	file := parseSource(t, "mathx/add.go", "go", source)

	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), file)
	require.NoError(t, err)

	var addChunk *Chunk
	for _, ch := range chunks {
		for _, sym := range ch.Symbols {
			if sym.Name == "Add" {
				addChunk = ch
			}
		}
	}
	require.NotNil(t, addChunk)
	assert.Contains(t, addChunk.RawContent, "// Add returns the sum")
	require.NotEmpty(t, addChunk.Symbols)
	assert.Contains(t, addChunk.Symbols[0].DocComment, "Add returns the sum")
}

func TestCodeChunker_NoTree_FallsBackToLines(t *testing.T) {
	// Given: a supported language but no parse tree
	file := &FileInput{
		Path:     "scripts/tool.go",
		Content:  []byte("package tool\n\nfunc main() {}\n"),
		Language: "go",
	}

	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), file)

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, ContentTypeText, chunks[0].ContentType)
}

func TestCodeChunker_UnsupportedLanguage_FallsBackToLines(t *testing.T) {
	file := &FileInput{
		Path:     "config/setup.rb",
		Content:  []byte("def setup\n  puts 'hi'\nend\n"),
		Language: "ruby",
	}

	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), file)

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, ContentTypeText, chunks[0].ContentType)
}

func TestCodeChunker_EmptyFile_NoChunks(t *testing.T) {
	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), &FileInput{Path: "empty.go", Language: "go"})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCodeChunker_LargeFunction_SplitsWithParentSymbol(t *testing.T) {
	// Given: a function far over the chunk budget
	var body strings.Builder
	body.WriteString("package big\n\nfunc Enormous() {\n")
	for i := 0; i < 400; i++ {
		body.WriteString("\tfmt.Println(\"this line pads the function body to force splitting\")\n")
	}
	body.WriteString("}\n")

	file := parseSource(t, "big/big.go", "go", []byte(body.String()))

	chunker := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: 256, OverlapTokens: 32})
	chunks, err := chunker.Chunk(context.Background(), file)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "oversized symbol splits into parts")

	// First part also carries the parent symbol for name lookup.
	var names []string
	for _, sym := range chunks[0].Symbols {
		names = append(names, sym.Name)
	}
	assert.Contains(t, names, "Enormous_part1")
	assert.Contains(t, names, "Enormous")
}

func TestCodeChunker_TypeScriptArrowFunction_TypedAsFunction(t *testing.T) {
	source := []byte(`const add = (a: number, b: number): number => a + b;

function sub(a: number, b: number): number {
	return a - b;
}
`)
	file := parseSource(t, "src/math.ts", "typescript", source)

	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), file)
	require.NoError(t, err)

	byName := make(map[string]SymbolType)
	for _, ch := range chunks {
		for _, sym := range ch.Symbols {
			byName[sym.Name] = sym.Type
		}
	}
	assert.Equal(t, SymbolTypeFunction, byName["add"], "arrow function is a function, not a constant")
	assert.Equal(t, SymbolTypeFunction, byName["sub"])
}

func TestChunkID_StableAndFileScoped(t *testing.T) {
	a := chunkID("pkg/a.go", "func A() {}")
	again := chunkID("pkg/a.go", "func A() {}")
	other := chunkID("pkg/b.go", "func A() {}")
	changed := chunkID("pkg/a.go", "func A() { return }")

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, other, "same content in another file gets its own ID")
	assert.NotEqual(t, a, changed)
	assert.Len(t, a, 16)
}

func TestSymbolExtractor_GoSymbols(t *testing.T) {
	source := []byte(`package store

const maxRetries = 3

var ErrClosed = errors.New("closed")

type Store interface {
	Get(key string) (string, bool)
}

type memStore struct{}

func (s *memStore) Get(key string) (string, bool) { return "", false }

func NewStore() Store { return &memStore{} }
`)
	parser := parse.NewParser()
	defer parser.Close()
	tree, err := parser.Parse(context.Background(), source, "go")
	require.NoError(t, err)

	symbols := NewSymbolExtractor().Extract(tree, source)

	byName := make(map[string]SymbolType)
	for _, sym := range symbols {
		byName[sym.Name] = sym.Type
	}
	assert.Equal(t, SymbolTypeConstant, byName["maxRetries"])
	assert.Equal(t, SymbolTypeVariable, byName["ErrClosed"])
	assert.Equal(t, SymbolTypeMethod, byName["Get"])
	assert.Equal(t, SymbolTypeFunction, byName["NewStore"])
	assert.Contains(t, byName, "Store")
	assert.Contains(t, byName, "memStore")
}

func TestSymbolExtractor_Signature(t *testing.T) {
	source := []byte(`package api

func Fetch(ctx context.Context, url string) (*Response, error) {
	return nil, nil
}
`)
	parser := parse.NewParser()
	defer parser.Close()
	tree, err := parser.Parse(context.Background(), source, "go")
	require.NoError(t, err)

	symbols := NewSymbolExtractor().Extract(tree, source)
	require.NotEmpty(t, symbols)

	var fetch *Symbol
	for _, sym := range symbols {
		if sym.Name == "Fetch" {
			fetch = sym
		}
	}
	require.NotNil(t, fetch)
	assert.Equal(t, "func Fetch(ctx context.Context, url string) (*Response, error)", fetch.Signature)
}
