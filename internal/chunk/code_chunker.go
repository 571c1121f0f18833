package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/parse"
)

// CodeChunkerOptions configures chunk sizing.
type CodeChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

var _ Chunker = (*CodeChunker)(nil)

// CodeChunker produces symbol-aligned chunks from pre-parsed source trees.
// It never parses on its own: callers supply FileInput.Tree, and files
// without a tree fall back to line windows.
type CodeChunker struct {
	extractor *SymbolExtractor
	registry  *parse.LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a code chunker with custom sizing.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := parse.DefaultRegistry()
	return &CodeChunker{
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// SupportedExtensions returns the extensions with tree-sitter grammars.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into symbol-aligned chunks. Requires file.Tree for
// the AST path; without one (unsupported language, parse failure upstream)
// it degrades to plain line windows.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	_, supported := c.registry.GetByName(file.Language)
	if !supported || file.Tree == nil {
		return c.chunkByLines(file), nil
	}

	fileContext := c.fileContext(file.Tree, file.Content, file.Language)
	fileContext = prependPathMarker(file.Path, file.Language, fileContext)

	symbolNodes := c.findSymbolNodes(file.Tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	chunks := make([]*Chunk, 0, len(symbolNodes))
	now := time.Now()
	for _, info := range symbolNodes {
		chunks = append(chunks, c.chunksFromNode(info, file.Tree, file, fileContext, now)...)
	}
	return chunks, nil
}

// symbolNodeInfo pairs a tree node with its extracted symbol.
type symbolNodeInfo struct {
	node   *parse.Node
	symbol *Symbol
}

func (c *CodeChunker) findSymbolNodes(tree *parse.Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return nil
	}

	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	var nodes []*symbolNodeInfo
	tree.Root.Walk(func(n *parse.Node) bool {
		// JS/TS const declarations holding arrow functions are functions,
		// not constants; check before the generic type map.
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				nodes = append(nodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			if sym := c.symbolFromNode(n, tree, symType, language); sym != nil {
				nodes = append(nodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})
	return nodes
}

func (c *CodeChunker) symbolFromNode(n *parse.Node, tree *parse.Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  c.extractor.extractSignature(n, tree.Source, symType, language),
		DocComment: c.extractor.extractDocComment(n, tree.Source, language),
	}
}

func (c *CodeChunker) chunksFromNode(info *symbolNodeInfo, tree *parse.Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])
	if info.symbol.DocComment != "" {
		rawContent = contentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	if estimateTokens(rawContent) <= c.options.MaxChunkTokens {
		return []*Chunk{c.newChunk(file, rawContent, fileContext, info.symbol, now)}
	}

	startLine := int(node.StartPoint.Row) + 1
	return c.splitSymbol(rawContent, info.symbol, file, fileContext, now, startLine)
}

// contentWithDocComment widens the node's byte range to include its
// preceding comment lines.
func contentWithDocComment(n *parse.Node, source []byte, docComment string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// splitSymbol breaks an oversized symbol into overlapping line windows.
// The first window also carries the parent symbol so a search for the
// symbol name still finds the split parts.
func (c *CodeChunker) splitSymbol(content string, symbol *Symbol, file *FileInput, fileContext string, now time.Time, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	maxLines := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlap := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlap < 2 {
		overlap = 2
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}

		body := strings.Join(lines[i:end], "\n")
		part := &Symbol{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: startLine + i,
			EndLine:   startLine + end - 1,
		}
		symbols := []*Symbol{part}
		if len(chunks) == 0 {
			symbols = append(symbols, &Symbol{
				Name:      symbol.Name,
				Type:      symbol.Type,
				StartLine: symbol.StartLine,
				EndLine:   symbol.EndLine,
			})
		}

		chunks = append(chunks, &Chunk{
			ID:          chunkID(file.Path, body),
			FilePath:    file.Path,
			Content:     joinContext(fileContext, body),
			RawContent:  body,
			Context:     fileContext,
			ContentType: ContentTypeCode,
			Language:    file.Language,
			StartLine:   part.StartLine,
			EndLine:     part.EndLine,
			Symbols:     symbols,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlap
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks
}

func (c *CodeChunker) newChunk(file *FileInput, rawContent, fileContext string, symbol *Symbol, now time.Time) *Chunk {
	return &Chunk{
		ID:          chunkID(file.Path, rawContent),
		FilePath:    file.Path,
		Content:     joinContext(fileContext, rawContent),
		RawContent:  rawContent,
		Context:     fileContext,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   symbol.StartLine,
		EndLine:     symbol.EndLine,
		Symbols:     []*Symbol{symbol},
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// fileContext collects the declarations a reader needs to place a chunk:
// package clause and imports.
func (c *CodeChunker) fileContext(tree *parse.Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		for _, node := range tree.Root.Children {
			if node.Type == "package_clause" {
				parts = append(parts, node.GetContent(source))
				break
			}
		}
		for _, node := range tree.Root.Children {
			if node.Type == "import_declaration" {
				parts = append(parts, node.GetContent(source))
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" {
				parts = append(parts, node.GetContent(source))
			}
		}
	case "python":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" || node.Type == "import_from_statement" {
				parts = append(parts, node.GetContent(source))
			}
		}
	}

	return strings.Join(parts, "\n\n")
}

// chunkByLines is the no-tree fallback.
func (c *CodeChunker) chunkByLines(file *FileInput) []*Chunk {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	maxLines := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlap := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlap < 2 {
		overlap = 2
	}

	var chunks []*Chunk
	now := time.Now()
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}

		body := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			ID:          chunkID(file.Path, body),
			FilePath:    file.Path,
			Content:     body,
			RawContent:  body,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   i + 1,
			EndLine:     end,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlap
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks
}

// chunkID derives a content-addressed ID. Same content in the same file
// keeps its ID across line shifts; moving content between files changes it.
func chunkID(filePath, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%s", filePath, hex.EncodeToString(contentHash[:])[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

func joinContext(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// prependPathMarker adds a file path comment so embeddings capture where
// the chunk lives.
func prependPathMarker(filePath, language, existing string) string {
	if filePath == "" {
		return existing
	}

	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existing == "" {
		return marker
	}
	return marker + "\n" + existing
}
