package chunk

import (
	"strings"

	"github.com/corpusmcp/corpusmcp/internal/parse"
)

// SymbolExtractor pulls named declarations out of parse trees.
type SymbolExtractor struct {
	registry *parse.LanguageRegistry
}

// NewSymbolExtractor creates an extractor over the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return NewSymbolExtractorWithRegistry(parse.DefaultRegistry())
}

// NewSymbolExtractorWithRegistry creates an extractor over a custom registry.
func NewSymbolExtractorWithRegistry(registry *parse.LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// Extract returns every symbol declared in the tree.
func (e *SymbolExtractor) Extract(tree *parse.Tree, source []byte) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	var symbols []*Symbol
	tree.Root.Walk(func(n *parse.Node) bool {
		if symbol := e.symbolAt(n, source, config, tree.Language); symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true
	})
	return symbols
}

func (e *SymbolExtractor) symbolAt(n *parse.Node, source []byte, config *parse.LanguageConfig, language string) *Symbol {
	symType, found := classifyNode(n.Type, config)
	if !found {
		return e.extractSpecialSymbol(n, source, language)
	}

	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  e.extractSignature(n, source, symType, language),
		DocComment: e.extractDocComment(n, source, language),
	}
}

func classifyNode(nodeType string, config *parse.LanguageConfig) (SymbolType, bool) {
	for _, t := range config.FunctionTypes {
		if nodeType == t {
			return SymbolTypeFunction, true
		}
	}
	for _, t := range config.MethodTypes {
		if nodeType == t {
			return SymbolTypeMethod, true
		}
	}
	for _, t := range config.ClassTypes {
		if nodeType == t {
			return SymbolTypeClass, true
		}
	}
	for _, t := range config.InterfaceTypes {
		if nodeType == t {
			return SymbolTypeInterface, true
		}
	}
	for _, t := range config.TypeDefTypes {
		if nodeType == t {
			return SymbolTypeType, true
		}
	}
	for _, t := range config.ConstantTypes {
		if nodeType == t {
			return SymbolTypeConstant, true
		}
	}
	for _, t := range config.VariableTypes {
		if nodeType == t {
			return SymbolTypeVariable, true
		}
	}
	return "", false
}

// extractName finds the declared identifier for a symbol node.
func (e *SymbolExtractor) extractName(n *parse.Node, source []byte, config *parse.LanguageConfig, language string) string {
	switch language {
	case "go":
		return extractGoName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return extractJSName(n, source)
	case "python":
		return firstChildContent(n, source, "identifier")
	default:
		return firstChildContent(n, source, "identifier")
	}
}

func extractGoName(n *parse.Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return firstChildContent(n, source, "identifier")
	case "method_declaration":
		// Method names are field_identifier nodes.
		return firstChildContent(n, source, "field_identifier")
	case "type_declaration":
		for _, child := range n.Children {
			if child.Type == "type_spec" {
				return firstChildContent(child, source, "type_identifier")
			}
		}
	case "const_declaration":
		for _, child := range n.Children {
			if child.Type == "const_spec" {
				return firstChildContent(child, source, "identifier")
			}
		}
	case "var_declaration":
		for _, child := range n.Children {
			if child.Type == "var_spec" {
				return firstChildContent(child, source, "identifier")
			}
		}
	}
	return ""
}

func extractJSName(n *parse.Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				return firstChildContent(child, source, "identifier")
			}
		}
	}

	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func firstChildContent(n *parse.Node, source []byte, nodeType string) string {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child.GetContent(source)
		}
	}
	return ""
}

// extractSpecialSymbol handles JS/TS const arrow functions and function
// expressions, which parse as variable declarations.
func (e *SymbolExtractor) extractSpecialSymbol(n *parse.Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
	default:
		return nil
	}
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return nil
	}

	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}

		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.GetContent(source)
			case "arrow_function", "function", "function_expression":
				hasFunction = true
			}
		}

		if name != "" && hasFunction {
			return &Symbol{
				Name:      name,
				Type:      SymbolTypeFunction,
				StartLine: int(n.StartPoint.Row) + 1,
				EndLine:   int(n.EndPoint.Row) + 1,
				Signature: signatureFirstLine(n.GetContent(source), "javascript"),
			}
		}
	}
	return nil
}

// extractDocComment collects the run of comment lines directly above a
// declaration.
func (e *SymbolExtractor) extractDocComment(n *parse.Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var prefix string
	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx":
		prefix = "//"
	case "python":
		// Python documents with docstrings inside the body, not comments above.
		prefix = "#"
	default:
		return ""
	}

	var commentLines []string
	pos := lineStart - 1
	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if strings.HasPrefix(prevLine, prefix) {
			commentLines = append([]string{strings.TrimPrefix(prevLine, prefix)}, commentLines...)
			continue
		}
		if prevLine != "" {
			break
		}
	}

	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// extractSignature returns the declaration's first line, trimmed at the
// opening brace where the language has one.
func (e *SymbolExtractor) extractSignature(n *parse.Node, source []byte, symType SymbolType, language string) string {
	content := n.GetContent(source)
	if content == "" {
		return ""
	}

	switch symType {
	case SymbolTypeFunction, SymbolTypeMethod, SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return signatureFirstLine(content, language)
	}
	return ""
}

func signatureFirstLine(content, language string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])

	switch language {
	case "python":
		// def name(params): and class Name(Base): keep the colon.
		return firstLine
	default:
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
		return firstLine
	}
}
