package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/corpusmcp/corpusmcp/internal/async"
	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/health"
	"github.com/corpusmcp/corpusmcp/internal/index"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
	"github.com/corpusmcp/corpusmcp/pkg/version"
)

// serverName is the implementation name reported in the MCP handshake.
const serverName = "corpusmcp"

// Limit bounds for the search tool. Structural and traversal tools take
// their bounds from the graph package.
const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Index is the orchestrator surface exposed over MCP.
// *index.Orchestrator satisfies it; tests substitute a double.
type Index interface {
	Search(ctx context.Context, query string, limit int, filters *index.SearchFilters) ([]*semantic.Result, error)
	SearchAST(ctx context.Context, pattern string, limit int, filters *index.SearchFilters) ([]*graph.Node, error)
	FindCallers(ctx context.Context, symbol string, maxDepth int, partition string) ([]*graph.TraversalNode, error)
	FindDependencies(ctx context.Context, symbol string, maxDepth int, partition string) ([]*graph.TraversalNode, error)
	FindCallPaths(ctx context.Context, from, to string, maxDepth int, partition string) ([][]string, error)
	HealthCheck(ctx context.Context) *health.Report
	Stats(ctx context.Context) (*index.StatsReport, error)
	Mode() string
	PartitionNames() []string
}

var _ Index = (*index.Orchestrator)(nil)

// Server is the MCP server for corpusmcp. It bridges AI clients (Claude
// Code, Cursor) with the index orchestrator: tools mirror the read
// operations, resources expose stats and health documents.
type Server struct {
	mcp      *mcp.Server
	idx      Index
	embedder embed.Embedder // nil disables capability signaling
	cfg      *config.Config
	root     string
	logger   *slog.Logger

	mu      sync.RWMutex
	tracker *async.Tracker // non-nil once a background build has been attached
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// toolDefs is the single source of tool names and descriptions, shared by
// registration and ListTools.
var toolDefs = []ToolInfo{
	{
		Name:        "search",
		Description: "Hybrid keyword and semantic search over the indexed codebase. Finds code and documentation by meaning, not just text matching. Supports content-type, language, symbol-type, path-scope, and partition filters.",
	},
	{
		Name:        "search_ast",
		Description: "Structural symbol search over the parsed code graph. Matches functions, methods, classes, interfaces, and types by kind:name patterns with glob support, e.g. func:Test*.",
	},
	{
		Name:        "find_callers",
		Description: "Walk the call graph upward from a symbol to list everything that calls it, directly or transitively, up to a depth bound.",
	},
	{
		Name:        "find_dependencies",
		Description: "Walk the call graph downward from a symbol to list everything it calls, directly or transitively, up to a depth bound.",
	},
	{
		Name:        "find_call_paths",
		Description: "Enumerate call chains connecting two symbols, shortest first. Useful for tracing how one function reaches another.",
	},
	{
		Name:        "index_status",
		Description: "Report index health, per-partition statistics, the active embedding provider, and background build progress. Use before searching to verify the index is ready.",
	},
}

// NewServer wires an orchestrator into an MCP server and registers all
// tools and resources. root is the project root, used for project
// detection in index_status.
func NewServer(idx Index, embedder embed.Embedder, cfg *config.Config, root string, logger *slog.Logger) (*Server, error) {
	if idx == nil {
		return nil, errors.New("index orchestrator is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		idx:      idx,
		embedder: embedder,
		cfg:      cfg,
		root:     root,
		logger:   logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: serverName, Version: version.Version},
		nil,
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// SetTracker attaches background build progress. While the tracker
// reports building, query tools answer with a progress notice instead of
// blocking on the orchestrator's exclusive lock.
func (s *Server) SetTracker(t *async.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = t
}

// building returns the current snapshot while a background build runs.
func (s *Server) building() (async.Snapshot, bool) {
	s.mu.RLock()
	t := s.tracker
	s.mu.RUnlock()

	if t == nil || !t.Building() {
		return async.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Info returns the implementation name and version reported to clients.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(toolDefs))
	copy(out, toolDefs)
	return out
}

// registerTools registers the typed tool handlers with the SDK server.
func (s *Server) registerTools() {
	defs := make(map[string]*mcp.Tool, len(toolDefs))
	for _, t := range toolDefs {
		defs[t.Name] = &mcp.Tool{Name: t.Name, Description: t.Description}
	}

	mcp.AddTool(s.mcp, defs["search"], s.mcpSearchHandler)
	mcp.AddTool(s.mcp, defs["search_ast"], s.mcpSearchASTHandler)
	mcp.AddTool(s.mcp, defs["find_callers"], s.mcpFindCallersHandler)
	mcp.AddTool(s.mcp, defs["find_dependencies"], s.mcpFindDependenciesHandler)
	mcp.AddTool(s.mcp, defs["find_call_paths"], s.mcpFindCallPathsHandler)
	mcp.AddTool(s.mcp, defs["index_status"], s.mcpIndexStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(toolDefs)))
}

// CallTool invokes a tool by name with raw arguments. The CLI and tests
// use this transport-free path; query tools return rendered markdown,
// index_status returns its structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		return s.handleSearch(ctx, args)
	case "search_ast":
		return s.handleSearchAST(ctx, args)
	case "find_callers":
		return s.handleTraversal(ctx, args, "Callers", s.idx.FindCallers)
	case "find_dependencies":
		return s.handleTraversal(ctx, args, "Dependencies", s.idx.FindDependencies)
	case "find_call_paths":
		return s.handleFindCallPaths(ctx, args)
	case "index_status":
		return s.handleIndexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearch runs the search tool and renders markdown.
func (s *Server) handleSearch(ctx context.Context, args map[string]any) (string, error) {
	if snap, ok := s.building(); ok {
		return buildingNotice(snap), nil
	}

	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	limit := clampLimit(intArg(args, "limit"), defaultSearchLimit, 1, maxSearchLimit)
	filters := &index.SearchFilters{
		Partition:  stringArg(args, "partition"),
		Filter:     stringArg(args, "filter"),
		Language:   stringArg(args, "language"),
		SymbolType: stringArg(args, "symbol_type"),
		Scopes:     stringsArg(args, "scope"),
	}

	requestID := newRequestID()
	start := time.Now()
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	results, err := s.idx.Search(ctx, query, limit, filters)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("results", len(results)))

	return FormatSearchResults(query, results), nil
}

// handleSearchAST runs the search_ast tool and renders markdown.
func (s *Server) handleSearchAST(ctx context.Context, args map[string]any) (string, error) {
	if snap, ok := s.building(); ok {
		return buildingNotice(snap), nil
	}

	pattern := strings.TrimSpace(stringArg(args, "pattern"))
	if pattern == "" {
		return "", NewInvalidParamsError("pattern parameter is required and must be a non-empty string")
	}

	limit := clampLimit(intArg(args, "limit"), graph.DefaultASTResults, 1, graph.MaxASTResults)
	filters := &index.SearchFilters{
		Partition: stringArg(args, "partition"),
		Language:  stringArg(args, "language"),
		Scopes:    stringsArg(args, "scope"),
	}

	requestID := newRequestID()
	start := time.Now()
	s.logger.Info("search_ast started",
		slog.String("request_id", requestID),
		slog.String("pattern", pattern),
		slog.Int("limit", limit))

	nodes, err := s.idx.SearchAST(ctx, pattern, limit, filters)
	if err != nil {
		s.logger.Error("search_ast failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_ast completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("matches", len(nodes)))

	return FormatSymbolMatches(pattern, nodes), nil
}

// handleTraversal is the shared body of find_callers and
// find_dependencies: same arguments and depth bounds, opposite walk
// direction. relation is the heading word for the rendered markdown.
func (s *Server) handleTraversal(ctx context.Context, args map[string]any, relation string,
	walk func(context.Context, string, int, string) ([]*graph.TraversalNode, error),
) (string, error) {
	if snap, ok := s.building(); ok {
		return buildingNotice(snap), nil
	}

	symbol := strings.TrimSpace(stringArg(args, "symbol"))
	if symbol == "" {
		return "", NewInvalidParamsError("symbol parameter is required and must be a non-empty string")
	}

	depth := clampLimit(intArg(args, "depth"), graph.DefaultTraversalDepth, 1, graph.MaxTraversalDepth)
	partition := stringArg(args, "partition")

	requestID := newRequestID()
	start := time.Now()
	s.logger.Info("traversal started",
		slog.String("request_id", requestID),
		slog.String("relation", strings.ToLower(relation)),
		slog.String("symbol", symbol),
		slog.Int("depth", depth))

	nodes, err := walk(ctx, symbol, depth, partition)
	if err != nil {
		s.logger.Error("traversal failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("traversal completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("symbols", len(nodes)))

	return FormatTraversal(relation, symbol, nodes), nil
}

// handleFindCallPaths runs the find_call_paths tool and renders markdown.
func (s *Server) handleFindCallPaths(ctx context.Context, args map[string]any) (string, error) {
	if snap, ok := s.building(); ok {
		return buildingNotice(snap), nil
	}

	from := strings.TrimSpace(stringArg(args, "from"))
	to := strings.TrimSpace(stringArg(args, "to"))
	if from == "" || to == "" {
		return "", NewInvalidParamsError("from and to parameters are required and must be non-empty strings")
	}

	depth := clampLimit(intArg(args, "max_depth"), graph.DefaultTraversalDepth, 1, graph.MaxTraversalDepth)
	partition := stringArg(args, "partition")

	requestID := newRequestID()
	start := time.Now()
	s.logger.Info("find_call_paths started",
		slog.String("request_id", requestID),
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("max_depth", depth))

	paths, err := s.idx.FindCallPaths(ctx, from, to, depth, partition)
	if err != nil {
		s.logger.Error("find_call_paths failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("find_call_paths completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("paths", len(paths)))

	return FormatCallPaths(from, to, paths), nil
}

// handleIndexStatus assembles project, health, stats, embedder, and build
// progress into one document. Unlike the query tools it never blocks:
// health checks skip the lock by design, and stats are omitted while a
// build holds it.
func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	out := &IndexStatusOutput{
		Project:    *NewProjectDetector(s.root, s.logger).Detect(),
		Health:     toHealthOutput(s.idx.HealthCheck(ctx)),
		Embeddings: s.embeddingInfo(ctx),
	}

	s.mu.RLock()
	t := s.tracker
	s.mu.RUnlock()

	building := false
	if t != nil {
		snap := t.Snapshot()
		out.Indexing = &snap
		building = t.Building()
	}

	if !building {
		stats, err := s.idx.Stats(ctx)
		if err != nil {
			s.logger.Warn("stats unavailable", slog.String("error", err.Error()))
		} else {
			out.Stats = stats
		}
	}

	return out, nil
}

// toHealthOutput flattens a health report into string statuses.
func toHealthOutput(r *health.Report) HealthOutput {
	if r == nil {
		return HealthOutput{Status: health.StatusUnhealthy.String(), Message: "no health report"}
	}

	out := HealthOutput{
		Name:    r.Name,
		Status:  r.Status.String(),
		Message: r.Message,
	}
	for _, c := range r.Components {
		out.Components = append(out.Components, toHealthOutput(c))
	}
	return out
}

// embeddingInfo reports the active provider so clients can weigh semantic
// scores.
func (s *Server) embeddingInfo(ctx context.Context) EmbeddingInfo {
	info := EmbeddingInfo{
		Provider: s.cfg.Embeddings.Provider,
		Model:    s.cfg.Embeddings.Model,
	}

	if s.embedder == nil {
		info.ActualProvider = "none"
		info.ActualModel = "none"
		info.SemanticQuality = "none"
		info.Status = "unavailable"
		return info
	}

	actual := embed.GetInfo(ctx, s.embedder)
	info.ActualProvider = actual.Provider.String()
	info.ActualModel = actual.Model
	info.Dimensions = actual.Dimensions

	if actual.Provider == embed.ProviderOllama {
		info.SemanticQuality = "high"
	} else {
		info.SemanticQuality = "low"
	}
	if actual.Available {
		info.Status = "ready"
	} else {
		info.Status = "unavailable"
	}
	return info
}

// buildingNotice renders the markdown returned by query tools while the
// initial build holds the exclusive lock.
func buildingNotice(snap async.Snapshot) string {
	return fmt.Sprintf("## Index Build in Progress\n\n"+
		"**Stage:** %s\n"+
		"**Progress:** %.1f%% (%d/%d)\n\n"+
		"Results are unavailable until the build completes. Retry shortly, or call index_status for live progress.",
		snap.Stage, snap.ProgressPct, snap.Current, snap.Total)
}

// mcpSearchHandler is the SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if snap, ok := s.building(); ok {
		return nil, SearchOutput{}, NewIndexBuildingError(snap)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	limit := clampLimit(in.Limit, defaultSearchLimit, 1, maxSearchLimit)
	filters := &index.SearchFilters{
		Partition:  in.Partition,
		Filter:     in.Filter,
		Language:   in.Language,
		SymbolType: in.SymbolType,
		Scopes:     in.Scope,
	}

	results, err := s.idx.Search(ctx, in.Query, limit, filters)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		if r != nil && r.Chunk != nil {
			out.Results = append(out.Results, ToSearchResultOutput(r))
		}
	}
	return nil, out, nil
}

// mcpSearchASTHandler is the SDK handler for the search_ast tool.
func (s *Server) mcpSearchASTHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchASTInput) (*mcp.CallToolResult, SearchASTOutput, error) {
	if snap, ok := s.building(); ok {
		return nil, SearchASTOutput{}, NewIndexBuildingError(snap)
	}
	if strings.TrimSpace(in.Pattern) == "" {
		return nil, SearchASTOutput{}, NewInvalidParamsError("pattern parameter is required and must be a non-empty string")
	}

	limit := clampLimit(in.Limit, graph.DefaultASTResults, 1, graph.MaxASTResults)
	filters := &index.SearchFilters{
		Partition: in.Partition,
		Language:  in.Language,
		Scopes:    in.Scope,
	}

	nodes, err := s.idx.SearchAST(ctx, in.Pattern, limit, filters)
	if err != nil {
		return nil, SearchASTOutput{}, MapError(err)
	}

	out := SearchASTOutput{Matches: make([]SymbolMatch, 0, len(nodes))}
	for _, n := range nodes {
		out.Matches = append(out.Matches, toSymbolMatch(n))
	}
	return nil, out, nil
}

// mcpFindCallersHandler is the SDK handler for the find_callers tool.
func (s *Server) mcpFindCallersHandler(ctx context.Context, _ *mcp.CallToolRequest, in FindCallersInput) (*mcp.CallToolResult, TraversalOutput, error) {
	out, err := s.traverse(ctx, in.Symbol, in.Depth, in.Partition, s.idx.FindCallers)
	return nil, out, err
}

// mcpFindDependenciesHandler is the SDK handler for the find_dependencies tool.
func (s *Server) mcpFindDependenciesHandler(ctx context.Context, _ *mcp.CallToolRequest, in FindDependenciesInput) (*mcp.CallToolResult, TraversalOutput, error) {
	out, err := s.traverse(ctx, in.Symbol, in.Depth, in.Partition, s.idx.FindDependencies)
	return nil, out, err
}

// traverse is the shared body of the SDK traversal handlers.
func (s *Server) traverse(ctx context.Context, symbol string, depth int, partition string,
	walk func(context.Context, string, int, string) ([]*graph.TraversalNode, error),
) (TraversalOutput, error) {
	if snap, ok := s.building(); ok {
		return TraversalOutput{}, NewIndexBuildingError(snap)
	}

	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return TraversalOutput{}, NewInvalidParamsError("symbol parameter is required and must be a non-empty string")
	}

	depth = clampLimit(depth, graph.DefaultTraversalDepth, 1, graph.MaxTraversalDepth)
	nodes, err := walk(ctx, symbol, depth, partition)
	if err != nil {
		return TraversalOutput{}, MapError(err)
	}

	out := TraversalOutput{Symbol: symbol, Nodes: make([]TraversalHit, 0, len(nodes))}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, toTraversalHit(n))
	}
	return out, nil
}

// mcpFindCallPathsHandler is the SDK handler for the find_call_paths tool.
func (s *Server) mcpFindCallPathsHandler(ctx context.Context, _ *mcp.CallToolRequest, in FindCallPathsInput) (*mcp.CallToolResult, CallPathsOutput, error) {
	if snap, ok := s.building(); ok {
		return nil, CallPathsOutput{}, NewIndexBuildingError(snap)
	}

	from := strings.TrimSpace(in.From)
	to := strings.TrimSpace(in.To)
	if from == "" || to == "" {
		return nil, CallPathsOutput{}, NewInvalidParamsError("from and to parameters are required and must be non-empty strings")
	}

	depth := clampLimit(in.MaxDepth, graph.DefaultTraversalDepth, 1, graph.MaxTraversalDepth)
	paths, err := s.idx.FindCallPaths(ctx, from, to, depth, in.Partition)
	if err != nil {
		return nil, CallPathsOutput{}, MapError(err)
	}

	return nil, CallPathsOutput{From: from, To: to, Paths: paths}, nil
}

// mcpIndexStatusHandler is the SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, IndexStatusOutput, error) {
	out, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	return nil, *out, nil
}

// Serve runs the server over the given transport until ctx is canceled.
// Only stdio is implemented; MCP clients spawn the process and own its
// stdin/stdout pair.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("version", version.Version))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The SDK server stops with its context;
// the orchestrator is owned by the caller.
func (s *Server) Close() error {
	s.logger.Debug("MCP server closed")
	return nil
}

// newRequestID generates a short hex ID for request correlation in logs.
func newRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// Argument extraction for the transport-free CallTool path. JSON numbers
// arrive as float64, arrays as []any.

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
