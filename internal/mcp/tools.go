package mcp

import (
	"github.com/corpusmcp/corpusmcp/internal/async"
	"github.com/corpusmcp/corpusmcp/internal/index"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 50"`
	Filter     string   `json:"filter,omitempty" jsonschema:"filter by content type: all, code, or docs"`
	Language   string   `json:"language,omitempty" jsonschema:"filter by programming language (go, typescript, python)"`
	SymbolType string   `json:"symbol_type,omitempty" jsonschema:"filter by symbol type: function, class, interface, type, method, or any"`
	Scope      []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
	Partition  string   `json:"partition,omitempty" jsonschema:"restrict the query to one named partition"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

// SearchResultOutput is one search hit with the context an AI client needs
// to judge relevance without a second round trip.
type SearchResultOutput struct {
	FilePath     string   `json:"file_path"`
	Partition    string   `json:"partition,omitempty"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	Language     string   `json:"language,omitempty"`
	Symbol       string   `json:"symbol,omitempty"`
	SymbolKind   string   `json:"symbol_kind,omitempty"`
	Signature    string   `json:"signature,omitempty"`
	MatchReason  string   `json:"match_reason,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	InBoth       bool     `json:"in_both,omitempty"`
}

// SearchASTInput defines the input schema for the search_ast tool.
type SearchASTInput struct {
	Pattern   string   `json:"pattern" jsonschema:"symbol pattern in kind:name form with glob support, e.g. func:Test* or method:Close; bare names match as substrings"`
	Language  string   `json:"language,omitempty" jsonschema:"filter by programming language (go, typescript, python)"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of matches, default 20, max 100"`
	Scope     []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
	Partition string   `json:"partition,omitempty" jsonschema:"restrict the query to one named partition"`
}

// SearchASTOutput defines the output schema for the search_ast tool.
type SearchASTOutput struct {
	Matches []SymbolMatch `json:"matches"`
}

// SymbolMatch is one structural hit from the code graph.
type SymbolMatch struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Signature string `json:"signature,omitempty"`
	Container string `json:"container,omitempty"`
	Partition string `json:"partition,omitempty"`
}

// FindCallersInput defines the input schema for the find_callers tool.
type FindCallersInput struct {
	Symbol    string `json:"symbol" jsonschema:"symbol name to find callers of"`
	Depth     int    `json:"depth,omitempty" jsonschema:"maximum traversal depth, default 3, max 10"`
	Partition string `json:"partition,omitempty" jsonschema:"partition to traverse; required when the index is partitioned, traversals never span partitions"`
}

// FindDependenciesInput defines the input schema for the find_dependencies tool.
type FindDependenciesInput struct {
	Symbol    string `json:"symbol" jsonschema:"symbol name to find dependencies of"`
	Depth     int    `json:"depth,omitempty" jsonschema:"maximum traversal depth, default 3, max 10"`
	Partition string `json:"partition,omitempty" jsonschema:"partition to traverse; required when the index is partitioned, traversals never span partitions"`
}

// TraversalOutput defines the output schema for the find_callers and
// find_dependencies tools.
type TraversalOutput struct {
	Symbol string         `json:"symbol"`
	Nodes  []TraversalHit `json:"nodes"`
}

// TraversalHit is one symbol reached by a call graph walk, annotated with
// its distance from the origin.
type TraversalHit struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	Depth     int    `json:"depth"`
	Partition string `json:"partition,omitempty"`
}

// FindCallPathsInput defines the input schema for the find_call_paths tool.
type FindCallPathsInput struct {
	From      string `json:"from" jsonschema:"symbol the call chains start from"`
	To        string `json:"to" jsonschema:"symbol the call chains must reach"`
	MaxDepth  int    `json:"max_depth,omitempty" jsonschema:"maximum chain length, default 3, max 10"`
	Partition string `json:"partition,omitempty" jsonschema:"partition to traverse; required when the index is partitioned"`
}

// CallPathsOutput defines the output schema for the find_call_paths tool.
// Each path is a sequence of symbol names from From to To, shortest first.
type CallPathsOutput struct {
	From  string     `json:"from"`
	To    string     `json:"to"`
	Paths [][]string `json:"paths"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
// Stats is nil while a background build holds the exclusive lock; the
// Indexing snapshot covers that window.
type IndexStatusOutput struct {
	Project    ProjectInfo        `json:"project"`
	Health     HealthOutput       `json:"health"`
	Stats      *index.StatsReport `json:"stats,omitempty"`
	Embeddings EmbeddingInfo      `json:"embeddings"`
	Indexing   *async.Snapshot    `json:"indexing,omitempty"`
}

// HealthOutput mirrors the orchestrator's health report with string
// statuses: healthy, degraded, or unhealthy, aggregated worst-of.
type HealthOutput struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Components []HealthOutput `json:"components,omitempty"`
}

// EmbeddingInfo reports the configured and actual embedding provider.
// Runtime state lets AI clients adjust search strategy: hash embeddings
// rank keyword matches reliably but carry little semantic signal.
type EmbeddingInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	ActualProvider  string `json:"actual_provider"`  // "hash", "ollama", or "none"
	ActualModel     string `json:"actual_model"`
	Dimensions      int    `json:"dimensions"`
	SemanticQuality string `json:"semantic_quality"` // "high" (ollama), "low" (hash), or "none"
	Status          string `json:"status"`           // "ready" or "unavailable"
}
