package chunk

import (
	"context"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/parse"
)

// Chunk size defaults, in estimated tokens.
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64
	MinChunkTokens        = 100
	TokensPerChar         = 4
)

// ContentType classifies what a chunk holds.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is a retrievable unit of content.
type Chunk struct {
	ID          string // SHA256(path + content hash)[:16]
	FilePath    string // relative to the partition root
	Content     string // context + raw content, what gets embedded
	RawContent  string // the symbol or section body alone
	Context     string // package clause, imports, heading path
	ContentType ContentType
	Language    string
	StartLine   int // 1-indexed
	EndLine     int // inclusive
	Symbols     []*Symbol
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInput is one file handed to a chunker. Tree carries a pre-parsed AST
// when the caller already parsed the file; code chunking falls back to line
// windows when it is nil.
type FileInput struct {
	Path     string
	Content  []byte
	Language string
	Tree     *parse.Tree
}

// Chunker splits one file into retrievable chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns the file extensions this chunker handles.
	SupportedExtensions() []string
}

// SymbolType is the kind of code symbol a chunk covers.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a named declaration extracted from a parse tree.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}
