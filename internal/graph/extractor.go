package graph

import (
	"fmt"
	"strings"

	"github.com/corpusmcp/corpusmcp/internal/parse"
)

// Extractor pulls symbol definitions and the calls they contain out of
// parse trees.
type Extractor struct {
	registry *parse.LanguageRegistry
}

// NewExtractor creates an extractor over the default registry.
func NewExtractor() *Extractor {
	return NewExtractorWithRegistry(parse.DefaultRegistry())
}

// NewExtractorWithRegistry creates an extractor over a custom registry.
func NewExtractorWithRegistry(registry *parse.LanguageRegistry) *Extractor {
	return &Extractor{registry: registry}
}

// Extract returns the definitions in the tree and the call references made
// from inside them. Calls are attributed to the innermost enclosing
// definition; calls at the top level of a file have no caller and are not
// recorded.
func (e *Extractor) Extract(tree *parse.Tree, filePath string) ([]*Symbol, []*Edge) {
	if tree == nil || tree.Root == nil {
		return nil, nil
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return nil, nil
	}

	w := &walker{
		source:   tree.Source,
		config:   config,
		language: tree.Language,
		filePath: filePath,
	}
	w.walk(tree.Root, nil)
	return w.symbols, w.edges
}

type walker struct {
	source   []byte
	config   *parse.LanguageConfig
	language string
	filePath string
	symbols  []*Symbol
	edges    []*Edge
}

func (w *walker) walk(n *parse.Node, container *Symbol) {
	if defs := w.definitionsAt(n, container); len(defs) > 0 {
		w.symbols = append(w.symbols, defs...)
		for _, child := range n.Children {
			w.walk(child, defs[0])
		}
		return
	}

	if w.isCall(n.Type) && container != nil {
		if callee := calleeName(n, w.source, w.language); callee != "" {
			w.edges = append(w.edges, &Edge{
				CallerID: container.ID,
				Callee:   callee,
				FilePath: w.filePath,
				Line:     int(n.StartPoint.Row) + 1,
			})
		}
		// Arguments can hold nested calls; keep walking.
	}

	for _, child := range n.Children {
		w.walk(child, container)
	}
}

func (w *walker) isCall(nodeType string) bool {
	for _, t := range w.config.CallTypes {
		if nodeType == t {
			return true
		}
	}
	return false
}

// definitionsAt returns the symbols a node declares. Most nodes declare
// none or one; a grouped Go type declaration yields one per spec.
func (w *walker) definitionsAt(n *parse.Node, container *Symbol) []*Symbol {
	for _, t := range w.config.FunctionTypes {
		if n.Type != t {
			continue
		}
		kind := KindFunction
		// A def nested in a Python class body is a method.
		if w.language == "python" && container != nil && container.Kind == KindClass {
			kind = KindMethod
		}
		return w.single(n, w.declaredName(n), kind, container)
	}
	for _, t := range w.config.MethodTypes {
		if n.Type == t {
			sym := w.single(n, w.declaredName(n), KindMethod, container)
			if len(sym) > 0 && w.language == "go" {
				sym[0].Container = goReceiverType(n, w.source)
			}
			return sym
		}
	}
	for _, t := range w.config.ClassTypes {
		if n.Type == t {
			return w.single(n, w.declaredName(n), KindClass, container)
		}
	}
	for _, t := range w.config.InterfaceTypes {
		if n.Type == t {
			return w.single(n, w.declaredName(n), KindInterface, container)
		}
	}
	for _, t := range w.config.TypeDefTypes {
		if n.Type != t {
			continue
		}
		if w.language == "go" {
			return w.goTypeSpecs(n)
		}
		return w.single(n, w.declaredName(n), KindType, container)
	}
	return w.functionVariable(n, container)
}

// single builds a one-element symbol slice, or nil when no name was found.
func (w *walker) single(n *parse.Node, name, kind string, container *Symbol) []*Symbol {
	if name == "" {
		return nil
	}
	sym := w.newSymbol(name, kind, n)
	if sym.Container == "" && container != nil && container.Kind == KindClass {
		sym.Container = container.Name
	}
	return []*Symbol{sym}
}

func (w *walker) newSymbol(name, kind string, n *parse.Node) *Symbol {
	startLine := int(n.StartPoint.Row) + 1
	return &Symbol{
		ID:        fmt.Sprintf("%s:%d:%s", w.filePath, startLine, name),
		Name:      name,
		Kind:      kind,
		FilePath:  w.filePath,
		StartLine: startLine,
		EndLine:   int(n.EndPoint.Row) + 1,
		Signature: signatureLine(n.GetContent(w.source), w.language),
		Language:  w.language,
	}
}

// goTypeSpecs expands a type declaration into one symbol per spec, so
// grouped declarations index every named type.
func (w *walker) goTypeSpecs(n *parse.Node) []*Symbol {
	var out []*Symbol
	for _, spec := range n.FindChildrenByType("type_spec") {
		name := firstChildText(spec, w.source, "type_identifier")
		if name == "" {
			continue
		}
		kind := KindType
		if spec.FindChildByType("struct_type") != nil {
			kind = KindClass
		} else if spec.FindChildByType("interface_type") != nil {
			kind = KindInterface
		}
		out = append(out, w.newSymbol(name, kind, spec))
	}
	return out
}

// functionVariable handles JS/TS const arrow functions and function
// expressions, which parse as variable declarations but define callables.
func (w *walker) functionVariable(n *parse.Node, container *Symbol) []*Symbol {
	switch w.language {
	case "typescript", "tsx", "javascript", "jsx":
	default:
		return nil
	}
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return nil
	}

	for _, child := range n.FindChildrenByType("variable_declarator") {
		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.GetContent(w.source)
			case "arrow_function", "function", "function_expression":
				hasFunction = true
			}
		}
		if name != "" && hasFunction {
			return w.single(n, name, KindFunction, container)
		}
	}
	return nil
}

// declaredName finds the identifier a definition node declares.
func (w *walker) declaredName(n *parse.Node) string {
	switch w.language {
	case "go":
		switch n.Type {
		case "function_declaration":
			return firstChildText(n, w.source, "identifier")
		case "method_declaration":
			return firstChildText(n, w.source, "field_identifier")
		}
		return ""
	case "python":
		return firstChildText(n, w.source, "identifier")
	default:
		// JS names class members with property identifiers; TS names
		// classes, interfaces, and aliases with type identifiers.
		for _, child := range n.Children {
			switch child.Type {
			case "identifier", "type_identifier", "property_identifier":
				return child.GetContent(w.source)
			}
		}
		return ""
	}
}

// goReceiverType returns the receiver type of a Go method declaration.
// The receiver is the first parameter list, before the method name.
func goReceiverType(n *parse.Node, source []byte) string {
	params := n.FindChildByType("parameter_list")
	if params == nil {
		return ""
	}
	decl := params.FindChildByType("parameter_declaration")
	if decl == nil {
		return ""
	}
	types := decl.FindAllByType("type_identifier")
	if len(types) == 0 {
		return ""
	}
	return types[0].GetContent(source)
}

// calleeName resolves the called name from a call node: the identifier for
// plain calls, the trailing name for selector, member, and attribute calls.
// Receivers and package qualifiers are dropped; resolution is by name.
func calleeName(n *parse.Node, source []byte, language string) string {
	if len(n.Children) == 0 {
		return ""
	}
	fn := n.Children[0]

	switch language {
	case "go":
		return goCalleeName(fn, source)
	case "python":
		switch fn.Type {
		case "identifier":
			return fn.GetContent(source)
		case "attribute":
			return lastChildText(fn, source, "identifier")
		}
	default:
		switch fn.Type {
		case "identifier":
			return fn.GetContent(source)
		case "member_expression":
			return firstChildText(fn, source, "property_identifier")
		}
	}
	return ""
}

func goCalleeName(fn *parse.Node, source []byte) string {
	switch fn.Type {
	case "identifier":
		return fn.GetContent(source)
	case "selector_expression":
		return firstChildText(fn, source, "field_identifier")
	case "index_expression", "parenthesized_expression":
		// Generic instantiations and parenthesized callees wrap the name.
		if len(fn.Children) > 0 {
			return goCalleeName(fn.Children[0], source)
		}
	}
	return ""
}

func firstChildText(n *parse.Node, source []byte, nodeType string) string {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child.GetContent(source)
		}
	}
	return ""
}

func lastChildText(n *parse.Node, source []byte, nodeType string) string {
	var text string
	for _, child := range n.Children {
		if child.Type == nodeType {
			text = child.GetContent(source)
		}
	}
	return text
}

// signatureLine returns a declaration's first line, trimmed at the opening
// brace where the language has one.
func signatureLine(content, language string) string {
	line, _, _ := strings.Cut(content, "\n")
	line = strings.TrimSpace(line)
	if language == "python" {
		return line
	}
	if idx := strings.Index(line, "{"); idx != -1 {
		return strings.TrimSpace(line[:idx])
	}
	return line
}
