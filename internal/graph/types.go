// Package graph is the structural index for one partition: symbol
// definitions and call references extracted from parse trees, stored in
// SQLite, and queried through pattern search and bounded traversals.
package graph

import "time"

// Symbol kinds stored in the index.
const (
	KindFunction  = "function"
	KindMethod    = "method"
	KindClass     = "class"
	KindInterface = "interface"
	KindType      = "type"
)

// Traversal bounds. Depth counts edges from the origin symbol.
const (
	DefaultTraversalDepth = 3
	MaxTraversalDepth     = 10
)

// Result caps for pattern search and traversals.
const (
	DefaultASTResults   = 20
	MaxASTResults       = 100
	maxTraversalResults = 200
	maxCallPaths        = 10
	maxPathExpansions   = 4096
)

// Symbol is one definition in the index. Resolution is by name: callers
// and dependencies match on Name, so receivers and import paths are not
// tracked.
type Symbol struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Signature string `json:"signature,omitempty"`
	Container string `json:"container,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Edge is one call site: the defining symbol that contains the call, and
// the called name. The callee side stays unresolved until query time so a
// name defined after its callers still links up.
type Edge struct {
	CallerID string `json:"caller_id"`
	Callee   string `json:"callee"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
}

// FileRecord tracks one indexed file for hash-skip and stale removal.
type FileRecord struct {
	Path        string
	ContentHash string
	Language    string
	IndexedAt   time.Time
}

// FileGraph bundles one file's records for a single-transaction replace.
type FileGraph struct {
	File    *FileRecord
	Symbols []*Symbol
	Edges   []*Edge
}

// Node is one structural search hit.
type Node struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Signature string `json:"signature,omitempty"`
	Container string `json:"container,omitempty"`
	Partition string `json:"partition,omitempty"`
}

// TraversalNode is one symbol reached by a caller or dependency walk,
// annotated with the shortest depth at which it was reached.
type TraversalNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	Depth     int    `json:"depth"`
	Partition string `json:"partition,omitempty"`
}

// FilterOptions narrows pattern search results.
type FilterOptions struct {
	// Language keeps only symbols from files of this language.
	Language string

	// Scopes keeps only symbols under any of these partition-relative
	// path prefixes. Prefixes match at path boundaries.
	Scopes []string
}

// SymbolQuery is the store-level shape of a pattern search.
type SymbolQuery struct {
	// Kind restricts to one symbol kind; empty matches all kinds.
	Kind string

	// Name is the name expression. With Glob set it is a glob pattern
	// (case-sensitive); otherwise a substring match.
	Name string
	Glob bool

	Language string
	Scopes   []string
	Limit    int
}

// Stats summarizes one partition's structural index.
type Stats struct {
	Partition string    `json:"partition"`
	Files     int       `json:"files"`
	Symbols   int       `json:"symbols"`
	Edges     int       `json:"edges"`
	BuiltAt   time.Time `json:"built_at,omitempty"`
}

// BuildResult summarizes one build pass.
type BuildResult struct {
	Files   int
	Symbols int
	Edges   int
	Skipped int
	Removed int
	Failed  int
	Elapsed time.Duration
}

// UpdateResult summarizes one incremental update.
type UpdateResult struct {
	Indexed int
	Removed int
	Skipped int
	Failed  int
}
