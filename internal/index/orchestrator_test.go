package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/health"
	"github.com/corpusmcp/corpusmcp/internal/lock"
	"github.com/corpusmcp/corpusmcp/internal/parse"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSemantic is a scriptable SemanticBackend that records its calls.
type fakeSemantic struct {
	mu sync.Mutex

	built    [][]string
	forced   []bool
	buildRes *semantic.BuildResult
	buildErr error

	updated   [][]string
	updateRes *semantic.UpdateResult
	updateErr error

	queries   []string
	opts      []semantic.SearchOptions
	results   []*semantic.Result
	searchErr error

	// started receives once when Search begins; block, when set, parks
	// Search until closed. Used by the lock-discipline tests.
	started chan struct{}
	block   chan struct{}

	stats    *semantic.Stats
	statsErr error

	verifyRepairs []bool
	verifyRes     *semantic.VerifyResult
	verifyErr     error

	invalidations int

	healthy bool
	closed  bool
}

func newFakeSemantic() *fakeSemantic {
	return &fakeSemantic{
		buildRes:  &semantic.BuildResult{},
		updateRes: &semantic.UpdateResult{},
		stats:     &semantic.Stats{},
		verifyRes: &semantic.VerifyResult{},
		healthy:   true,
	}
}

func (f *fakeSemantic) Build(_ context.Context, sourcePaths []string, force bool) (*semantic.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, append([]string(nil), sourcePaths...))
	f.forced = append(f.forced, force)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.buildRes, nil
}

func (f *fakeSemantic) Update(_ context.Context, paths []string) (*semantic.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, append([]string(nil), paths...))
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.updateRes, nil
}

func (f *fakeSemantic) Search(_ context.Context, query string, opts semantic.SearchOptions) ([]*semantic.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.opts = append(f.opts, opts)
	block := f.block
	started := f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeSemantic) Stats(_ context.Context) (*semantic.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeSemantic) Verify(_ context.Context, repair bool) (*semantic.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyRepairs = append(f.verifyRepairs, repair)
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyRes, nil
}

func (f *fakeSemantic) InvalidateScanCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
}

func (f *fakeSemantic) HealthCheck(_ context.Context) *health.Report {
	status := health.StatusHealthy
	if !f.healthy {
		status = health.StatusUnhealthy
	}
	return &health.Report{Name: "semantic", Status: status}
}

func (f *fakeSemantic) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSemantic) updateCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated
}

// fakeGraph is a scriptable GraphBackend that records its calls.
type fakeGraph struct {
	mu sync.Mutex

	built    [][]string
	buildRes *graph.BuildResult
	buildErr error

	updated   [][]string
	updateRes *graph.UpdateResult
	updateErr error

	patterns []string
	nodes    []*graph.Node
	astErr   error

	travSymbols []string
	travDepths  []int
	travNodes   []*graph.TraversalNode
	travErr     error

	paths    [][]string
	pathsErr error

	stats    *graph.Stats
	statsErr error

	healthy bool
	closed  bool
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		buildRes:  &graph.BuildResult{},
		updateRes: &graph.UpdateResult{},
		stats:     &graph.Stats{},
		healthy:   true,
	}
}

func (f *fakeGraph) Build(_ context.Context, sourcePaths []string, force bool) (*graph.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, append([]string(nil), sourcePaths...))
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.buildRes, nil
}

func (f *fakeGraph) Update(_ context.Context, paths []string) (*graph.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, append([]string(nil), paths...))
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.updateRes, nil
}

func (f *fakeGraph) SearchAST(_ context.Context, pattern string, _ int, _ *graph.FilterOptions) ([]*graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	if f.astErr != nil {
		return nil, f.astErr
	}
	return f.nodes, nil
}

func (f *fakeGraph) FindCallers(_ context.Context, symbol string, maxDepth int) ([]*graph.TraversalNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.travSymbols = append(f.travSymbols, symbol)
	f.travDepths = append(f.travDepths, maxDepth)
	if f.travErr != nil {
		return nil, f.travErr
	}
	return f.travNodes, nil
}

func (f *fakeGraph) FindDependencies(_ context.Context, symbol string, maxDepth int) ([]*graph.TraversalNode, error) {
	return f.FindCallers(nil, symbol, maxDepth)
}

func (f *fakeGraph) FindCallPaths(_ context.Context, from, to string, _ int) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.travSymbols = append(f.travSymbols, from, to)
	if f.pathsErr != nil {
		return nil, f.pathsErr
	}
	return f.paths, nil
}

func (f *fakeGraph) Stats(_ context.Context) (*graph.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeGraph) HealthCheck(_ context.Context) *health.Report {
	status := health.StatusHealthy
	if !f.healthy {
		status = health.StatusUnhealthy
	}
	return &health.Report{Name: "graph", Status: status}
}

func (f *fakeGraph) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeGraph) updateCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated
}

func newFakePartition(name, root string) (*Partition, *fakeSemantic, *fakeGraph) {
	sem := newFakeSemantic()
	gr := newFakeGraph()
	return &Partition{Name: name, Root: root, Semantic: sem, Graph: gr}, sem, gr
}

// newDoubleOrchestrator wires fake partitions into a real orchestrator
// shell: real locks, real parse coordinator, real registry.
func newDoubleOrchestrator(t *testing.T, root string, multi bool, parts ...*Partition) *Orchestrator {
	t.Helper()

	coordinator, err := parse.NewCoordinator(16, testLogger())
	require.NoError(t, err)
	t.Cleanup(coordinator.Close)

	o := &Orchestrator{
		cfg:         config.NewConfig(),
		root:        root,
		baseDir:     t.TempDir(),
		multi:       multi,
		partitions:  make(map[string]*Partition),
		locks:       lock.NewManager(LockNamespace),
		coordinator: coordinator,
		registry:    &Registry{},
		logger:      testLogger(),
	}
	for _, p := range parts {
		o.partitions[p.Name] = p
		o.order = append(o.order, p.Name)
		if multi {
			o.registry.Add(partitionDescriptor(p, infraDeps()))
		} else {
			o.registry.Add(semanticDescriptor("semantic", p.Semantic, infraDeps()))
			o.registry.Add(graphDescriptor("graph", p.Graph, infraDeps()))
		}
	}
	return o
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func scoredResult(partition string, score float64) *semantic.Result {
	return &semantic.Result{Partition: partition, Score: score}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Options{Root: "/tmp", BaseDir: "/tmp/idx"})
	require.Error(t, err)

	_, err = New(ctx, Options{Config: config.NewConfig(), BaseDir: "/tmp/idx"})
	require.Error(t, err)

	_, err = New(ctx, Options{Config: config.NewConfig(), Root: "/tmp"})
	require.Error(t, err)
}

func TestNew_PartitionedSkipsUnavailableRoots(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeRepoFile(t, root, "good/main.go", "package main\n\nfunc main() {}\n")

	cfg := config.NewConfig()
	cfg.Index.Partitions = map[string]config.PartitionConfig{
		"good": {Path: "good"},
		"gone": {Path: "does/not/exist"},
	}

	o, err := New(ctx, Options{
		Config:   cfg,
		Root:     root,
		BaseDir:  filepath.Join(root, ".corpusmcp", "index"),
		Embedder: embed.NewHashEmbedder(64),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	assert.Equal(t, []string{"good"}, o.PartitionNames())
}

func TestNew_NoUsablePartitions(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	cfg := config.NewConfig()
	cfg.Index.Partitions = map[string]config.PartitionConfig{
		"gone": {Path: "does/not/exist"},
	}

	_, err := New(ctx, Options{
		Config:   cfg,
		Root:     root,
		BaseDir:  filepath.Join(root, ".corpusmcp", "index"),
		Embedder: embed.NewHashEmbedder(64),
		Logger:   testLogger(),
	})
	require.Error(t, err)

	var ce *corpuserr.CorpusError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corpuserr.ErrCodeNoPartitions, ce.Code)
}

func TestOrchestrator_SingleModeEndToEnd(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeRepoFile(t, root, "main.go",
		"package main\n\nfunc Login() error {\n\tValidate()\n\treturn nil\n}\n\nfunc Validate() error {\n\treturn nil\n}\n")

	baseDir := filepath.Join(root, ".corpusmcp", "index")
	o, err := New(ctx, Options{
		Config:   config.NewConfig(),
		Root:     root,
		BaseDir:  baseDir,
		Embedder: embed.NewHashEmbedder(64),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	assert.Equal(t, ModeSingle, o.Mode())
	assert.False(t, o.Multi())

	summary, err := o.Build(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Partitions)
	assert.Equal(t, 1, summary.Files)
	assert.Positive(t, summary.Chunks)
	assert.Positive(t, summary.Symbols)

	// Single mode stores directly under the base directory.
	assert.FileExists(t, filepath.Join(baseDir, "meta.db"))
	assert.FileExists(t, filepath.Join(baseDir, "graph.db"))

	report := o.HealthCheck(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "semantic", report.Components[0].Name)
	assert.Equal(t, "graph", report.Components[1].Name)

	results, err := o.Search(ctx, "Login", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Traversals ignore the partition argument in single mode.
	callers, err := o.FindCallers(ctx, "Validate", 2, "anything")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "Login", callers[0].Name)

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, stats.Mode)
	assert.Equal(t, 1, stats.PartitionCount)
	assert.Equal(t, 1, stats.TotalFiles)
}

func TestOrchestrator_PartitionedEndToEnd(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeRepoFile(t, root, "services/auth/main.go",
		"package main\n\nfunc Login() error {\n\tValidate()\n\treturn nil\n}\n\nfunc Validate() error {\n\treturn nil\n}\n")
	writeRepoFile(t, root, "services/billing/invoice.go",
		"package billing\n\nfunc Charge() int {\n\treturn Total()\n}\n\nfunc Total() int {\n\treturn 42\n}\n")

	cfg := config.NewConfig()
	cfg.Index.Partitions = map[string]config.PartitionConfig{
		"auth":    {Path: "services/auth"},
		"billing": {Path: "services/billing"},
	}

	baseDir := filepath.Join(root, ".corpusmcp", "index")
	o, err := New(ctx, Options{
		Config:   cfg,
		Root:     root,
		BaseDir:  baseDir,
		Embedder: embed.NewHashEmbedder(64),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	assert.Equal(t, ModePartitioned, o.Mode())
	assert.Equal(t, []string{"auth", "billing"}, o.PartitionNames())

	summary, err := o.Build(ctx, nil, false)
	require.NoError(t, err)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, 2, summary.Partitions)
	assert.Equal(t, 2, summary.Files)
	assert.Positive(t, summary.Symbols)

	// Each partition owns a private storage subtree.
	assert.FileExists(t, filepath.Join(baseDir, "auth", "meta.db"))
	assert.FileExists(t, filepath.Join(baseDir, "auth", "graph.db"))
	assert.FileExists(t, filepath.Join(baseDir, "billing", "meta.db"))
	assert.FileExists(t, filepath.Join(baseDir, "billing", "graph.db"))

	report := o.HealthCheck(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "partition:auth", report.Components[0].Name)
	assert.Equal(t, "partition:billing", report.Components[1].Name)

	// Fan-out search reaches both partitions; results carry their origin.
	results, err := o.Search(ctx, "Charge Total invoice", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.Partition] = true
	}
	assert.True(t, seen["billing"])

	// A partition filter confines the query.
	results, err = o.Search(ctx, "Login Validate", 10, &SearchFilters{Partition: "auth"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "auth", r.Partition)
	}

	// Traversals demand an explicit partition and name the valid ones.
	_, err = o.FindCallers(ctx, "Validate", 2, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth, billing")

	callers, err := o.FindCallers(ctx, "Validate", 2, "auth")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "Login", callers[0].Name)

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PartitionCount)
	require.Len(t, stats.Partitions, 2)
	assert.Equal(t, "auth", stats.Partitions[0].Name)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Positive(t, stats.TotalSymbols)

	// Updates route by path prefix; strays are dropped, the parse cache
	// drains with the window.
	writeRepoFile(t, root, "services/auth/token.go",
		"package main\n\nfunc Token() string {\n\treturn \"t\"\n}\n")
	up, err := o.Update(ctx, []string{
		"services/auth/token.go",
		filepath.Join(root, "outside.go"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, up.Files)
	assert.Equal(t, 1, up.Dropped)
	assert.Equal(t, 1, up.Parsed)
	assert.Equal(t, 1, up.Semantic.Indexed)
	assert.Equal(t, 1, up.Graph.Indexed)
	assert.False(t, o.coordinator.WindowActive())
	assert.Zero(t, o.coordinator.CacheLen())
}

func TestBuild_PartitionFailureSkipped(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, alphaGraph := newFakePartition("alpha", "/repo/alpha")
	beta, betaSem, betaGraph := newFakePartition("beta", "/repo/beta")
	alphaSem.buildRes = &semantic.BuildResult{Files: 3, Chunks: 9}
	alphaGraph.buildRes = &graph.BuildResult{Symbols: 12, Edges: 7}
	betaSem.buildErr = fmt.Errorf("embedder unreachable")

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	summary, err := o.Build(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, summary.Failed)
	assert.Equal(t, 2, summary.Partitions)
	assert.Equal(t, 3, summary.Files)
	assert.Equal(t, 9, summary.Chunks)
	assert.Equal(t, 12, summary.Symbols)
	assert.Equal(t, 7, summary.Edges)

	// The failed partition's graph build never ran.
	assert.Empty(t, betaGraph.built)
	assert.Len(t, alphaGraph.built, 1)
}

func TestBuild_DomainPathsIgnoreCallerArgument(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/alpha")
	alpha.Domains = map[string][]string{
		"api":  {"cmd", "internal/api"},
		"docs": {"docs"},
	}

	o := newDoubleOrchestrator(t, "/repo", true, alpha)

	_, err := o.Build(ctx, []string{"/somewhere/else"}, false)
	require.NoError(t, err)

	// Includes resolve against the partition root, domains in name order.
	require.Len(t, alphaSem.built, 1)
	assert.Equal(t, []string{
		filepath.Join("/repo/alpha", "cmd"),
		filepath.Join("/repo/alpha", "internal/api"),
		filepath.Join("/repo/alpha", "docs"),
	}, alphaSem.built[0])
}

func TestBuild_CorruptionPropagates(t *testing.T) {
	ctx := context.Background()
	alpha, _, alphaGraph := newFakePartition("alpha", "/repo/alpha")
	alphaGraph.buildErr = corpuserr.CorruptionError("symbol table truncated", nil)

	o := newDoubleOrchestrator(t, "/repo", true, alpha)

	_, err := o.Build(ctx, nil, false)
	require.Error(t, err)
	assert.True(t, corpuserr.IsCorruption(err))
}

func TestBuild_SingleModeUsesCallerPathsAndPropagates(t *testing.T) {
	ctx := context.Background()
	p, sem, _ := newFakePartition(singlePartition, "/repo")
	o := newDoubleOrchestrator(t, "/repo", false, p)

	_, err := o.Build(ctx, []string{"/repo/src"}, true)
	require.NoError(t, err)
	require.Len(t, sem.built, 1)
	assert.Equal(t, []string{"/repo/src"}, sem.built[0])
	assert.Equal(t, []bool{true}, sem.forced)

	sem.buildErr = fmt.Errorf("disk full")
	_, err = o.Build(ctx, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestUpdate_RoutesByRootPrefix(t *testing.T) {
	ctx := context.Background()
	// "ab" shares a string prefix with "a"; only true path containment
	// may route.
	alpha, alphaSem, alphaGraph := newFakePartition("alpha", "/repo/a")
	beta, betaSem, betaGraph := newFakePartition("beta", "/repo/ab")
	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	summary, err := o.Update(ctx, []string{
		"/repo/a/main.go",
		"/repo/ab/web.go",
		"a/nested/util.go",  // relative to the project root
		"/elsewhere/out.go", // outside every partition
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Files)
	assert.Equal(t, 1, summary.Dropped)

	require.Len(t, alphaSem.updateCalls(), 1)
	assert.Equal(t, []string{"main.go", filepath.Join("nested", "util.go")}, alphaSem.updateCalls()[0])
	require.Len(t, betaSem.updateCalls(), 1)
	assert.Equal(t, []string{"web.go"}, betaSem.updateCalls()[0])
	assert.Len(t, alphaGraph.updateCalls(), 1)
	assert.Len(t, betaGraph.updateCalls(), 1)
}

func TestUpdate_BackendFailureIsolated(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, alphaGraph := newFakePartition("alpha", "/repo/a")
	beta, betaSem, betaGraph := newFakePartition("beta", "/repo/b")
	alphaSem.updateErr = fmt.Errorf("bm25 write failed")
	alphaGraph.updateRes = &graph.UpdateResult{Indexed: 1}
	betaSem.updateRes = &semantic.UpdateResult{Indexed: 1}
	betaGraph.updateRes = &graph.UpdateResult{Indexed: 1}

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	summary, err := o.Update(ctx, []string{"/repo/a/x.go", "/repo/b/y.go"})
	require.NoError(t, err)

	// alpha's graph update still ran despite its semantic failure.
	assert.Len(t, alphaGraph.updateCalls(), 1)
	assert.Len(t, betaSem.updateCalls(), 1)
	assert.Len(t, betaGraph.updateCalls(), 1)

	assert.Equal(t, 1, summary.Semantic.Failed)
	assert.Equal(t, 1, summary.Semantic.Indexed)
	assert.Equal(t, 2, summary.Graph.Indexed)
}

func TestUpdate_CorruptionAborts(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	alphaSem.updateErr = corpuserr.CorruptionError("meta store corrupt", nil)

	o := newDoubleOrchestrator(t, "/repo", true, alpha)

	_, err := o.Update(ctx, []string{"/repo/a/x.go"})
	require.Error(t, err)
	assert.True(t, corpuserr.IsCorruption(err))
	assert.False(t, o.coordinator.WindowActive())
}

func TestUpdate_CacheClearedWhenBackendsFail(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	p, sem, gr := newFakePartition("alpha", root)
	sem.updateErr = fmt.Errorf("semantic down")
	gr.updateErr = fmt.Errorf("graph down")

	o := newDoubleOrchestrator(t, root, true, p)

	summary, err := o.Update(ctx, []string{filepath.Join(root, "main.go")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Parsed)
	assert.Equal(t, 1, summary.Semantic.Failed)
	assert.Equal(t, 1, summary.Graph.Failed)

	assert.False(t, o.coordinator.WindowActive())
	assert.Zero(t, o.coordinator.CacheLen())
}

func TestSearch_MergesSortsAndTruncates(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	beta, betaSem, _ := newFakePartition("beta", "/repo/b")
	alphaSem.results = []*semantic.Result{
		scoredResult("alpha", 0.91),
		scoredResult("alpha", 0.40),
	}
	betaSem.results = []*semantic.Result{
		scoredResult("beta", 0.72),
		scoredResult("beta", 0.15),
	}

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	results, err := o.Search(ctx, "handler", 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []float64{0.91, 0.72, 0.40},
		[]float64{results[0].Score, results[1].Score, results[2].Score})
	assert.Equal(t, "beta", results[1].Partition)
}

func TestSearch_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	p, sem, _ := newFakePartition(singlePartition, "/repo")
	o := newDoubleOrchestrator(t, "/repo", false, p)

	_, err := o.Search(ctx, "q", 0, nil)
	require.NoError(t, err)
	require.Len(t, sem.opts, 1)
	assert.Equal(t, semantic.DefaultEngineConfig().DefaultLimit, sem.opts[0].Limit)
}

func TestSearch_PartitionFilter(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	beta, betaSem, _ := newFakePartition("beta", "/repo/b")
	alphaSem.results = []*semantic.Result{scoredResult("alpha", 0.5)}

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	results, err := o.Search(ctx, "q", 5, &SearchFilters{Partition: "alpha"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, alphaSem.queries, 1)
	assert.Empty(t, betaSem.queries)

	_, err = o.Search(ctx, "q", 5, &SearchFilters{Partition: "ghost"})
	require.Error(t, err)

	var ce *corpuserr.CorpusError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corpuserr.ErrCodeUnknownPartition, ce.Code)
	assert.Contains(t, err.Error(), "alpha, beta")
}

func TestSearch_PartitionFailureLoggedNotRaised(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	beta, betaSem, _ := newFakePartition("beta", "/repo/b")
	alphaSem.results = []*semantic.Result{scoredResult("alpha", 0.8)}
	betaSem.searchErr = fmt.Errorf("index busy")

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	results, err := o.Search(ctx, "q", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Partition)

	betaSem.searchErr = corpuserr.CorruptionError("vector file truncated", nil)
	_, err = o.Search(ctx, "q", 5, nil)
	require.Error(t, err)
	assert.True(t, corpuserr.IsCorruption(err))
}

func TestSearchAST_ConcatsInPartitionOrder(t *testing.T) {
	ctx := context.Background()
	alpha, _, alphaGraph := newFakePartition("alpha", "/repo/a")
	beta, _, betaGraph := newFakePartition("beta", "/repo/b")
	alphaGraph.nodes = []*graph.Node{
		{Name: "LoadConfig", Partition: "alpha"},
		{Name: "LoadEnv", Partition: "alpha"},
	}
	betaGraph.nodes = []*graph.Node{
		{Name: "LoadFixture", Partition: "beta"},
	}

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	nodes, err := o.SearchAST(ctx, "func:Load*", 2, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "LoadConfig", nodes[0].Name)
	assert.Equal(t, "LoadEnv", nodes[1].Name)

	nodes, err = o.SearchAST(ctx, "func:Load*", 10, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "LoadFixture", nodes[2].Name)

	betaGraph.astErr = corpuserr.CorruptionError("graph db corrupt", nil)
	_, err = o.SearchAST(ctx, "func:Load*", 10, nil)
	require.Error(t, err)
	assert.True(t, corpuserr.IsCorruption(err))
}

func TestTraversals_PartitionDiscipline(t *testing.T) {
	ctx := context.Background()
	alpha, _, alphaGraph := newFakePartition("alpha", "/repo/a")
	beta, _, betaGraph := newFakePartition("beta", "/repo/b")
	alphaGraph.travNodes = []*graph.TraversalNode{{Name: "Run", Depth: 1, Partition: "alpha"}}
	alphaGraph.paths = [][]string{{"main", "Run"}}

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	_, err := o.FindCallers(ctx, "Run", 2, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha, beta")

	_, err = o.FindDependencies(ctx, "Run", 2, "ghost")
	require.Error(t, err)
	var ce *corpuserr.CorpusError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corpuserr.ErrCodeUnknownPartition, ce.Code)

	nodes, err := o.FindCallers(ctx, "Run", 2, "alpha")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Run", nodes[0].Name)
	assert.Equal(t, []string{"Run"}, alphaGraph.travSymbols)
	assert.Equal(t, []int{2}, alphaGraph.travDepths)
	assert.Empty(t, betaGraph.travSymbols)

	paths, err := o.FindCallPaths(ctx, "main", "Run", 4, "alpha")
	require.NoError(t, err)
	require.Len(t, paths, 1)
}

func TestSharedLockBlocksUpdate(t *testing.T) {
	ctx := context.Background()
	p, sem, _ := newFakePartition(singlePartition, "/repo")
	sem.started = make(chan struct{}, 1)
	sem.block = make(chan struct{})

	o := newDoubleOrchestrator(t, "/repo", false, p)

	searchDone := make(chan error, 1)
	go func() {
		_, err := o.Search(ctx, "q", 5, nil)
		searchDone <- err
	}()

	// The reader now holds the shared lock inside its backend call.
	<-sem.started

	updateDone := make(chan struct{})
	go func() {
		_, _ = o.Update(ctx, nil)
		close(updateDone)
	}()

	select {
	case <-updateDone:
		t.Fatal("update acquired the exclusive lock while a search was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sem.block)
	require.NoError(t, <-searchDone)

	select {
	case <-updateDone:
	case <-time.After(2 * time.Second):
		t.Fatal("update never ran after the search released")
	}

	state := o.LockState()
	assert.Zero(t, state.Readers)
	assert.False(t, state.WriterActive)
}

func TestHealthCheck_TakesNoLock(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	beta, _, betaGraph := newFakePartition("beta", "/repo/b")
	alphaSem.healthy = false
	betaGraph.healthy = true

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	// Health must answer while a writer holds the lock.
	release, err := o.locks.Exclusive(ctx)
	require.NoError(t, err)
	defer release()

	done := make(chan *health.Report, 1)
	go func() { done <- o.HealthCheck(ctx) }()

	select {
	case report := <-done:
		assert.Equal(t, health.StatusUnhealthy, report.Status)
		require.Len(t, report.Components, 2)
		assert.Equal(t, "partition:alpha", report.Components[0].Name)
		assert.Equal(t, health.StatusUnhealthy, report.Components[0].Status)
		assert.Equal(t, "partition:beta", report.Components[1].Name)
		assert.Equal(t, health.StatusHealthy, report.Components[1].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("health check blocked on the index lock")
	}
}

func TestStats_ToleratesBackendFailure(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, alphaGraph := newFakePartition("alpha", "/repo/a")
	beta, betaSem, betaGraph := newFakePartition("beta", "/repo/b")
	alpha.Domains = map[string][]string{"api": {"cmd"}}
	alphaSem.stats = &semantic.Stats{Partition: "alpha", Files: 4, Chunks: 20}
	alphaGraph.stats = &graph.Stats{Partition: "alpha", Symbols: 30, Edges: 11}
	betaSem.statsErr = fmt.Errorf("meta store busy")
	betaGraph.stats = &graph.Stats{Partition: "beta", Symbols: 5, Edges: 2}

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	report, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModePartitioned, report.Mode)
	assert.Equal(t, 2, report.PartitionCount)
	require.Len(t, report.Partitions, 2)

	assert.Equal(t, []string{"api"}, report.Partitions[0].Domains)
	assert.Nil(t, report.Partitions[1].Semantic)
	assert.NotNil(t, report.Partitions[1].Graph)

	assert.Equal(t, 4, report.TotalFiles)
	assert.Equal(t, 20, report.TotalChunks)
	assert.Equal(t, 35, report.TotalSymbols)
	assert.Equal(t, 13, report.TotalEdges)
}

func TestVerify_ForwardsRepairAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	beta, betaSem, _ := newFakePartition("beta", "/repo/b")
	alphaSem.verifyRes = &semantic.VerifyResult{Checked: 12}
	betaSem.verifyErr = fmt.Errorf("meta store busy")

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	reports, err := o.Verify(ctx, true)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "alpha", reports[0].Partition)
	assert.Equal(t, 12, reports[0].Result.Checked)
	require.NoError(t, reports[0].Err)
	assert.Equal(t, []bool{true}, alphaSem.verifyRepairs)

	assert.Equal(t, "beta", reports[1].Partition)
	require.Error(t, reports[1].Err)
}

func TestInvalidateScanCaches_ReachesEveryPartition(t *testing.T) {
	alpha, alphaSem, _ := newFakePartition("alpha", "/repo/a")
	beta, betaSem, _ := newFakePartition("beta", "/repo/b")

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	o.InvalidateScanCaches()

	assert.Equal(t, 1, alphaSem.invalidations)
	assert.Equal(t, 1, betaSem.invalidations)
}

func TestClose_ClosesEverything(t *testing.T) {
	alpha, alphaSem, alphaGraph := newFakePartition("alpha", "/repo/a")
	beta, betaSem, betaGraph := newFakePartition("beta", "/repo/b")

	o := newDoubleOrchestrator(t, "/repo", true, alpha, beta)

	require.NoError(t, o.Close())
	assert.True(t, alphaSem.closed)
	assert.True(t, alphaGraph.closed)
	assert.True(t, betaSem.closed)
	assert.True(t, betaGraph.closed)
}

func TestClose_ReportsBackendErrors(t *testing.T) {
	p, _, _ := newFakePartition("alpha", "/repo/a")
	p.Graph = &failingCloseGraph{fakeGraph: newFakeGraph()}

	o := newDoubleOrchestrator(t, "/repo", true, p)

	err := o.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close partition alpha")
}

type failingCloseGraph struct {
	*fakeGraph
}

func (f *failingCloseGraph) Close() error {
	return errors.New("flush failed")
}
