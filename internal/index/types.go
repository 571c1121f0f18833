// Package index is the orchestration layer over per-partition semantic and
// graph backends. The Orchestrator decides single-repository vs partitioned
// mode at construction, owns the lock manager and the parse-cache
// coordinator, and exposes build, update, search, traversal, health, and
// stats as lock-guarded operations with per-partition failure isolation.
package index

import (
	"context"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/health"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
)

// Backend is the lifecycle surface shared by both index backends.
type Backend interface {
	HealthCheck(ctx context.Context) *health.Report
	Close() error
}

// SemanticBackend is the contract the orchestrator consumes from a
// partition's text index.
type SemanticBackend interface {
	Backend
	Build(ctx context.Context, sourcePaths []string, force bool) (*semantic.BuildResult, error)
	Update(ctx context.Context, paths []string) (*semantic.UpdateResult, error)
	Search(ctx context.Context, query string, opts semantic.SearchOptions) ([]*semantic.Result, error)
	Stats(ctx context.Context) (*semantic.Stats, error)
	Verify(ctx context.Context, repair bool) (*semantic.VerifyResult, error)
	InvalidateScanCache()
}

// GraphBackend is the contract the orchestrator consumes from a partition's
// structural index.
type GraphBackend interface {
	Backend
	Build(ctx context.Context, sourcePaths []string, force bool) (*graph.BuildResult, error)
	Update(ctx context.Context, paths []string) (*graph.UpdateResult, error)
	SearchAST(ctx context.Context, pattern string, limit int, filters *graph.FilterOptions) ([]*graph.Node, error)
	FindCallers(ctx context.Context, symbol string, maxDepth int) ([]*graph.TraversalNode, error)
	FindDependencies(ctx context.Context, symbol string, maxDepth int) ([]*graph.TraversalNode, error)
	FindCallPaths(ctx context.Context, from, to string, maxDepth int) ([][]string, error)
	Stats(ctx context.Context) (*graph.Stats, error)
}

// SearchFilters narrows a search or pattern query. Partition selects one
// partition instead of fanning out; the remaining fields pass through to
// the backends.
type SearchFilters struct {
	// Partition restricts the query to one named partition. Empty fans out
	// across all partitions in partitioned mode.
	Partition string

	// Filter restricts results by content type: "all", "code", "docs".
	Filter string

	// Language filters results by programming language (e.g., "go").
	Language string

	// SymbolType filters results by symbol type (e.g., "function").
	SymbolType string

	// Scopes restricts results to files under these path prefixes.
	Scopes []string
}

// BuildSummary aggregates one Build call across partitions.
type BuildSummary struct {
	// Partitions is the number of partitions the build attempted.
	Partitions int

	// Failed names partitions whose build failed and was skipped.
	Failed []string

	Files   int
	Chunks  int
	Symbols int
	Edges   int
	Skipped int
	Removed int
	Elapsed time.Duration

	// Errors counts individual files that failed to index.
	Errors int
}

// UpdateTotals counts one backend's outcomes across an update call.
type UpdateTotals struct {
	Indexed int
	Removed int
	Skipped int
	Failed  int
}

// UpdateSummary aggregates one Update call. Semantic and graph totals are
// reported separately: the two backends accept different file sets (the
// graph ignores prose, and either side can fail independently).
type UpdateSummary struct {
	// Files is the number of changed files routed to a partition.
	Files int

	// Dropped counts files outside every partition root.
	Dropped int

	// Parsed counts files parsed once into the shared cache window.
	Parsed int

	Semantic UpdateTotals
	Graph    UpdateTotals
}

// PartitionStats reports one partition's location and backend counts.
type PartitionStats struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Domains  []string        `json:"domains,omitempty"`
	Semantic *semantic.Stats `json:"semantic,omitempty"`
	Graph    *graph.Stats    `json:"graph,omitempty"`
}

// StatsReport aggregates index counts across every partition.
type StatsReport struct {
	Mode           string            `json:"mode"`
	PartitionCount int               `json:"partition_count"`
	Partitions     []*PartitionStats `json:"partitions"`
	TotalFiles     int               `json:"total_files"`
	TotalChunks    int               `json:"total_chunks"`
	TotalSymbols   int               `json:"total_symbols"`
	TotalEdges     int               `json:"total_edges"`
}

// VerifyReport pairs a partition with its store-consistency outcome. Err
// is set when the partition's check itself failed.
type VerifyReport struct {
	Partition string                 `json:"partition"`
	Result    *semantic.VerifyResult `json:"result,omitempty"`
	Err       error                  `json:"-"`
}

// Orchestrator modes.
const (
	ModeSingle      = "single"
	ModePartitioned = "partitioned"
)
