package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/health"
	"github.com/corpusmcp/corpusmcp/internal/lock"
	"github.com/corpusmcp/corpusmcp/internal/parse"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
	"github.com/corpusmcp/corpusmcp/internal/ui"
)

// LockNamespace is the single logical namespace every partition shares. A
// build anywhere blocks reads and writes everywhere in this orchestrator;
// finer per-partition locking is deliberately not attempted. In file lock
// mode the lock file is <base dir>/<LockNamespace>.lock.
const LockNamespace = "code"

// singlePartition names the implicit partition in single-repository mode.
const singlePartition = "default"

// BaseDirFor returns the index storage root under a data directory.
func BaseDirFor(dataDir string) string {
	return filepath.Join(dataDir, "index")
}

// Options configure New.
type Options struct {
	// Config supplies partitions, storage, and search settings.
	Config *config.Config

	// Root is the repository root. In single-repository mode it is the
	// indexed tree; in partitioned mode relative partition paths resolve
	// against it.
	Root string

	// BaseDir is the index storage root (e.g. <root>/.corpusmcp/index).
	BaseDir string

	// Embedder overrides the provider built from config. Optional.
	Embedder embed.Embedder

	// Renderer receives build progress events. Optional; its lifecycle
	// stays with the caller.
	Renderer ui.Renderer

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Orchestrator is the single entry point for build, update, search,
// traversal, health, and stats across one or many partitions. It owns the
// lock manager and the parse-cache coordinator; the partition map is
// read-only after construction.
type Orchestrator struct {
	cfg     *config.Config
	root    string
	baseDir string
	multi   bool

	partitions map[string]*Partition
	order      []string

	locks       *lock.Manager
	coordinator *parse.Coordinator
	registry    *Registry
	embedder    embed.Embedder
	logger      *slog.Logger
}

// New constructs the orchestrator. A config with partitions selects
// partitioned mode, anything else indexes opts.Root as one repository;
// the mode is fixed for the orchestrator's lifetime.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, corpuserr.ValidationError("config is required", nil)
	}
	if opts.Root == "" || opts.BaseDir == "" {
		return nil, corpuserr.ValidationError("root and storage directory are required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, corpuserr.IOError("create index storage", err)
	}

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		embedder, err = embed.NewEmbedder(ctx, embed.Options{
			Provider:   opts.Config.Embeddings.Provider,
			Model:      opts.Config.Embeddings.Model,
			Host:       opts.Config.Embeddings.OllamaHost,
			Dimensions: opts.Config.Embeddings.Dimensions,
			BatchSize:  opts.Config.Embeddings.BatchSize,
			CacheSize:  opts.Config.Embeddings.CacheSize,
		})
		if err != nil {
			return nil, err
		}
	}

	coordinator, err := parse.NewCoordinator(opts.Config.Parser.CacheCapacity, logger)
	if err != nil {
		return nil, corpuserr.InternalError("create parse coordinator", err)
	}

	var lockOpts []lock.Option
	if opts.Config.Storage.LockMode == "file" {
		lockOpts = append(lockOpts, lock.WithFileLock(opts.BaseDir))
	}

	o := &Orchestrator{
		cfg:         opts.Config,
		root:        opts.Root,
		baseDir:     opts.BaseDir,
		partitions:  make(map[string]*Partition),
		locks:       lock.NewManager(LockNamespace, lockOpts...),
		coordinator: coordinator,
		registry:    &Registry{},
		embedder:    embedder,
		logger:      logger,
	}

	popts := partitionOptions{
		cfg:         opts.Config,
		embedder:    embedder,
		coordinator: coordinator,
		renderer:    opts.Renderer,
		logger:      logger,
	}

	if len(opts.Config.Index.Partitions) > 0 {
		err = o.initPartitioned(popts)
	} else {
		err = o.initSingle(popts)
	}
	if err != nil {
		coordinator.Close()
		return nil, err
	}

	return o, nil
}

// infraDeps names the shared infrastructure every descriptor depends on.
func infraDeps() []string {
	return []string{"lock:" + LockNamespace, "parse-cache"}
}

// initPartitioned reconciles storage and opens backends for every
// configured partition whose root resolves. Initialization is
// best-effort per partition; zero usable partitions is a hard failure.
func (o *Orchestrator) initPartitioned(popts partitionOptions) error {
	o.multi = true

	names := make([]string, 0, len(o.cfg.Index.Partitions))
	for name := range o.cfg.Index.Partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	result := NewReconciler(o.baseDir, names, o.logger).Reconcile()
	for _, err := range result.Errors {
		o.logger.Warn("partition storage reconciliation error",
			slog.String("error", err.Error()))
	}
	if result.Created > 0 || result.Deleted > 0 {
		o.logger.Info("partition storage reconciled",
			slog.Int("created", result.Created),
			slog.Int("deleted", result.Deleted))
	}

	for _, name := range names {
		pcfg := o.cfg.Index.Partitions[name]
		root, err := resolveRoot(pcfg.Path, o.root)
		if err != nil {
			o.logger.Warn("partition root unavailable, skipping partition",
				slog.String("partition", name),
				slog.String("path", pcfg.Path),
				slog.String("error", err.Error()))
			continue
		}

		p, err := newPartition(name, root, pcfg.Domains, filepath.Join(o.baseDir, name), popts)
		if err != nil {
			o.logger.Warn("partition backends failed to open, skipping partition",
				slog.String("partition", name),
				slog.String("error", err.Error()))
			continue
		}

		o.partitions[name] = p
		o.order = append(o.order, name)
		o.registry.Add(partitionDescriptor(p, infraDeps()))
	}

	if len(o.partitions) == 0 {
		return corpuserr.New(corpuserr.ErrCodeNoPartitions,
			"no configured partition could be initialized", nil).
			WithSuggestion("check index.partitions paths in .corpusmcp.yaml")
	}

	o.logger.Info("orchestrator ready",
		slog.String("mode", ModePartitioned),
		slog.Int("partitions", len(o.partitions)))
	return nil
}

// initSingle opens one backend pair directly against the storage base.
func (o *Orchestrator) initSingle(popts partitionOptions) error {
	p, err := newPartition(singlePartition, o.root, nil, o.baseDir, popts)
	if err != nil {
		return err
	}
	o.partitions[singlePartition] = p
	o.order = []string{singlePartition}

	o.registry.Add(semanticDescriptor("semantic", p.Semantic, infraDeps()))
	o.registry.Add(graphDescriptor("graph", p.Graph, infraDeps()))

	o.logger.Info("orchestrator ready",
		slog.String("mode", ModeSingle),
		slog.String("root", o.root))
	return nil
}

// Mode reports ModeSingle or ModePartitioned.
func (o *Orchestrator) Mode() string {
	if o.multi {
		return ModePartitioned
	}
	return ModeSingle
}

// Multi reports whether the orchestrator runs in partitioned mode.
func (o *Orchestrator) Multi() bool { return o.multi }

// PartitionNames returns the initialized partitions in sorted order.
func (o *Orchestrator) PartitionNames() []string {
	return append([]string(nil), o.order...)
}

// PartitionRoots maps each initialized partition to its resolved root
// directory. Callers watching the filesystem use this to cover every
// indexed tree.
func (o *Orchestrator) PartitionRoots() map[string]string {
	roots := make(map[string]string, len(o.partitions))
	for name, p := range o.partitions {
		roots[name] = p.Root
	}
	return roots
}

// LockState reports current lock occupancy for diagnostics.
func (o *Orchestrator) LockState() lock.State {
	return o.locks.Snapshot()
}

// Build indexes every partition, holding the exclusive lock for the whole
// call. Partitioned mode derives each partition's source paths from its
// domains (the caller's argument is ignored) and a failing partition is
// logged and skipped; single-repository mode uses the caller's paths and
// the first failure propagates. Corruption always propagates.
func (o *Orchestrator) Build(ctx context.Context, sourcePaths []string, force bool) (*BuildSummary, error) {
	release, err := o.locks.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	summary := &BuildSummary{Partitions: len(o.order)}

	if o.multi {
		for _, name := range o.order {
			p := o.partitions[name]
			err := o.buildPartition(ctx, p, p.sourcePaths(), force, summary)
			if err == nil {
				continue
			}
			if corpuserr.IsCorruption(err) {
				return nil, err
			}
			summary.Failed = append(summary.Failed, name)
			o.logger.Warn("partition build failed, skipping partition",
				slog.String("partition", name),
				slog.String("operation", "build"),
				slog.String("error", err.Error()))
		}
	} else {
		p := o.partitions[singlePartition]
		if err := o.buildPartition(ctx, p, sourcePaths, force, summary); err != nil {
			return nil, err
		}
	}

	summary.Elapsed = time.Since(start)
	o.logger.Info("index build complete",
		slog.Int("partitions", summary.Partitions),
		slog.Int("failed_partitions", len(summary.Failed)),
		slog.Int("files", summary.Files),
		slog.Int("chunks", summary.Chunks),
		slog.Int("symbols", summary.Symbols),
		slog.Int("edges", summary.Edges),
		slog.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// buildPartition runs one partition's semantic build then graph build,
// accumulating into summary only if the stage succeeded.
func (o *Orchestrator) buildPartition(ctx context.Context, p *Partition, sources []string, force bool, summary *BuildSummary) error {
	semRes, err := p.Semantic.Build(ctx, sources, force)
	if err != nil {
		return fmt.Errorf("semantic build: %w", err)
	}
	summary.Files += semRes.Files
	summary.Chunks += semRes.Chunks
	summary.Skipped += semRes.Skipped
	summary.Removed += semRes.Removed
	summary.Errors += semRes.Failed

	graphRes, err := p.Graph.Build(ctx, sources, force)
	if err != nil {
		return fmt.Errorf("graph build: %w", err)
	}
	summary.Symbols += graphRes.Symbols
	summary.Edges += graphRes.Edges
	summary.Errors += graphRes.Failed

	return nil
}

// Update routes changed files to their partitions and runs each affected
// partition's parse-once protocol under the exclusive lock: one parse
// batch, then semantic and graph updates independently. Backend failures
// are isolated and logged; only lock failure or corruption returns an
// error. Files outside every partition root are dropped with a warning.
func (o *Orchestrator) Update(ctx context.Context, changedFiles []string) (*UpdateSummary, error) {
	release, err := o.locks.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	summary := &UpdateSummary{}

	routed := make(map[string][]string)
	for _, file := range changedFiles {
		abs := file
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(o.root, abs)
		}
		abs = filepath.Clean(abs)

		p := o.route(abs)
		if p == nil {
			summary.Dropped++
			o.logger.Warn("changed file outside every partition root, dropped",
				slog.String("path", file))
			continue
		}
		routed[p.Name] = append(routed[p.Name], abs)
	}

	for _, name := range o.order {
		files := routed[name]
		if len(files) == 0 {
			continue
		}
		summary.Files += len(files)
		if err := o.updatePartition(ctx, o.partitions[name], files, summary); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// route returns the first partition whose root contains abs, in sorted
// partition order. Config validation rejects overlapping roots, so at
// most one partition can match.
func (o *Orchestrator) route(abs string) *Partition {
	for _, name := range o.order {
		if p := o.partitions[name]; p.contains(abs) {
			return p
		}
	}
	return nil
}

// updatePartition runs the parse-cache protocol and both backend updates
// for one partition. The cache window is released on every exit path,
// success, backend failure, or panic. A non-corruption failure in one
// backend does not stop the other.
func (o *Orchestrator) updatePartition(ctx context.Context, p *Partition, absFiles []string, summary *UpdateSummary) error {
	window, stats, err := o.coordinator.Prepare(ctx, absFiles, p.Name, "")
	if err != nil {
		// No window opened; backends parse for themselves.
		o.logger.Warn("parse batch failed, backends will parse directly",
			slog.String("partition", p.Name),
			slog.String("error", err.Error()))
	} else {
		defer window.Release()
		summary.Parsed += stats.FilesProcessed
	}

	rels := make([]string, 0, len(absFiles))
	for _, abs := range absFiles {
		rel, err := p.rel(abs)
		if err != nil {
			o.logger.Warn("cannot relativize changed file",
				slog.String("partition", p.Name),
				slog.String("path", abs),
				slog.String("error", err.Error()))
			continue
		}
		rels = append(rels, rel)
	}

	if res, err := p.Semantic.Update(ctx, rels); err != nil {
		if corpuserr.IsCorruption(err) {
			return err
		}
		summary.Semantic.Failed += len(rels)
		o.logger.Warn("semantic update failed",
			slog.String("partition", p.Name),
			slog.String("operation", "update"),
			slog.String("error", err.Error()))
	} else {
		summary.Semantic.Indexed += res.Indexed
		summary.Semantic.Removed += res.Removed
		summary.Semantic.Skipped += res.Skipped
		summary.Semantic.Failed += res.Failed
	}

	if res, err := p.Graph.Update(ctx, rels); err != nil {
		if corpuserr.IsCorruption(err) {
			return err
		}
		summary.Graph.Failed += len(rels)
		o.logger.Warn("graph update failed",
			slog.String("partition", p.Name),
			slog.String("operation", "update"),
			slog.String("error", err.Error()))
	} else {
		summary.Graph.Indexed += res.Indexed
		summary.Graph.Removed += res.Removed
		summary.Graph.Skipped += res.Skipped
		summary.Graph.Failed += res.Failed
	}

	return nil
}

// Search runs a hybrid query under the shared lock. Single-repository
// mode delegates; partitioned mode targets one partition when the filter
// names it, otherwise fans out to all partitions, merges by score, and
// truncates to limit. A partition failure is logged and skipped unless it
// is corruption, which propagates.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int, filters *SearchFilters) ([]*semantic.Result, error) {
	release, err := o.locks.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = semantic.DefaultEngineConfig().DefaultLimit
	}
	opts := searchOptions(limit, filters)

	if !o.multi {
		return o.partitions[singlePartition].Semantic.Search(ctx, query, opts)
	}

	if filters != nil && filters.Partition != "" {
		p, err := o.partition(filters.Partition)
		if err != nil {
			return nil, err
		}
		return p.Semantic.Search(ctx, query, opts)
	}

	merged := make([][]*semantic.Result, len(o.order))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range o.order {
		p := o.partitions[name]
		g.Go(func() error {
			results, err := p.Semantic.Search(gctx, query, opts)
			if err != nil {
				if corpuserr.IsCorruption(err) {
					return err
				}
				o.logger.Warn("partition search failed",
					slog.String("partition", p.Name),
					slog.String("operation", "search"),
					slog.String("error", err.Error()))
				return nil
			}
			merged[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeResults(merged, limit), nil
}

// SearchAST matches a structural pattern with the same lock and fan-out
// discipline as Search, against the graph backends. Fan-out results
// concatenate in partition order (pattern hits carry no score).
func (o *Orchestrator) SearchAST(ctx context.Context, pattern string, limit int, filters *SearchFilters) ([]*graph.Node, error) {
	release, err := o.locks.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = graph.DefaultASTResults
	}
	gf := graphFilters(filters)

	if !o.multi {
		return o.partitions[singlePartition].Graph.SearchAST(ctx, pattern, limit, gf)
	}

	if filters != nil && filters.Partition != "" {
		p, err := o.partition(filters.Partition)
		if err != nil {
			return nil, err
		}
		return p.Graph.SearchAST(ctx, pattern, limit, gf)
	}

	merged := make([][]*graph.Node, len(o.order))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range o.order {
		p := o.partitions[name]
		g.Go(func() error {
			nodes, err := p.Graph.SearchAST(gctx, pattern, limit, gf)
			if err != nil {
				if corpuserr.IsCorruption(err) {
					return err
				}
				o.logger.Warn("partition pattern search failed",
					slog.String("partition", p.Name),
					slog.String("operation", "search_ast"),
					slog.String("error", err.Error()))
				return nil
			}
			merged[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*graph.Node
	for _, nodes := range merged {
		out = append(out, nodes...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindCallers walks up the call graph from symbol. Partitioned mode
// requires an explicit partition; traversals never merge across
// partitions.
func (o *Orchestrator) FindCallers(ctx context.Context, symbol string, maxDepth int, partition string) ([]*graph.TraversalNode, error) {
	release, err := o.locks.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := o.traversalPartition(partition)
	if err != nil {
		return nil, err
	}
	return p.Graph.FindCallers(ctx, symbol, maxDepth)
}

// FindDependencies walks down the call graph from symbol. Same partition
// discipline as FindCallers.
func (o *Orchestrator) FindDependencies(ctx context.Context, symbol string, maxDepth int, partition string) ([]*graph.TraversalNode, error) {
	release, err := o.locks.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := o.traversalPartition(partition)
	if err != nil {
		return nil, err
	}
	return p.Graph.FindDependencies(ctx, symbol, maxDepth)
}

// FindCallPaths enumerates call chains from one symbol to another. Same
// partition discipline as FindCallers.
func (o *Orchestrator) FindCallPaths(ctx context.Context, from, to string, maxDepth int, partition string) ([][]string, error) {
	release, err := o.locks.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := o.traversalPartition(partition)
	if err != nil {
		return nil, err
	}
	return p.Graph.FindCallPaths(ctx, from, to, maxDepth)
}

// HealthCheck probes every registered component without taking the lock,
// so health stays observable during long builds.
func (o *Orchestrator) HealthCheck(ctx context.Context) *health.Report {
	return o.registry.HealthCheck(ctx)
}

// Stats aggregates backend counts under the shared lock. Partitioned mode
// reports per-partition path and domains plus summed totals.
func (o *Orchestrator) Stats(ctx context.Context) (*StatsReport, error) {
	release, err := o.locks.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &StatsReport{Mode: o.Mode(), PartitionCount: len(o.order)}
	for _, name := range o.order {
		p := o.partitions[name]
		ps := &PartitionStats{Name: name, Path: p.Root, Domains: p.domainNames()}

		semStats, err := p.Semantic.Stats(ctx)
		if err != nil {
			o.logger.Warn("semantic stats failed",
				slog.String("partition", name),
				slog.String("error", err.Error()))
		} else {
			ps.Semantic = semStats
			report.TotalFiles += semStats.Files
			report.TotalChunks += semStats.Chunks
		}

		graphStats, err := p.Graph.Stats(ctx)
		if err != nil {
			o.logger.Warn("graph stats failed",
				slog.String("partition", name),
				slog.String("error", err.Error()))
		} else {
			ps.Graph = graphStats
			report.TotalSymbols += graphStats.Symbols
			report.TotalEdges += graphStats.Edges
		}

		report.Partitions = append(report.Partitions, ps)
	}
	return report, nil
}

// Verify cross-checks every partition's semantic stores for drift.
// Repair deletes orphans, so it runs under the exclusive lock; a plain
// check shares. Per-partition failures are reported, not raised.
func (o *Orchestrator) Verify(ctx context.Context, repair bool) ([]*VerifyReport, error) {
	var release lock.Release
	var err error
	if repair {
		release, err = o.locks.Exclusive(ctx)
	} else {
		release, err = o.locks.Shared(ctx)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	reports := make([]*VerifyReport, 0, len(o.order))
	for _, name := range o.order {
		report := &VerifyReport{Partition: name}
		report.Result, report.Err = o.partitions[name].Semantic.Verify(ctx, repair)
		if report.Err != nil {
			o.logger.Warn("partition verify failed",
				slog.String("partition", name),
				slog.String("error", report.Err.Error()))
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// InvalidateScanCaches drops cached ignore rules in every partition so
// the next build re-reads .gitignore files from disk. The watcher
// triggers this when a .gitignore changes.
func (o *Orchestrator) InvalidateScanCaches() {
	for _, name := range o.order {
		o.partitions[name].Semantic.InvalidateScanCache()
	}
}

// Close releases every partition's backends and the parse coordinator.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, name := range o.order {
		if err := o.partitions[name].close(); err != nil {
			errs = append(errs, fmt.Errorf("close partition %s: %w", name, err))
		}
	}
	o.coordinator.Close()
	return errors.Join(errs...)
}

// partition resolves a named partition or fails listing valid names.
func (o *Orchestrator) partition(name string) (*Partition, error) {
	if p, ok := o.partitions[name]; ok {
		return p, nil
	}
	return nil, corpuserr.New(corpuserr.ErrCodeUnknownPartition,
		fmt.Sprintf("unknown partition %q (valid: %s)", name, strings.Join(o.order, ", ")), nil).
		WithSuggestion("pass one of the configured partition names")
}

// traversalPartition resolves the partition a traversal runs against.
// Single-repository mode ignores the argument.
func (o *Orchestrator) traversalPartition(name string) (*Partition, error) {
	if !o.multi {
		return o.partitions[singlePartition], nil
	}
	if name == "" {
		return nil, corpuserr.New(corpuserr.ErrCodeUnknownPartition,
			fmt.Sprintf("partition is required for graph traversal (valid: %s)", strings.Join(o.order, ", ")), nil).
			WithSuggestion("pass one of the configured partition names")
	}
	return o.partition(name)
}

// searchOptions converts orchestrator filters to backend search options.
func searchOptions(limit int, filters *SearchFilters) semantic.SearchOptions {
	opts := semantic.SearchOptions{Limit: limit}
	if filters != nil {
		opts.Filter = filters.Filter
		opts.Language = filters.Language
		opts.SymbolType = filters.SymbolType
		opts.Scopes = filters.Scopes
	}
	return opts
}

// graphFilters converts orchestrator filters to graph filter options.
func graphFilters(filters *SearchFilters) *graph.FilterOptions {
	if filters == nil || (filters.Language == "" && len(filters.Scopes) == 0) {
		return nil
	}
	return &graph.FilterOptions{Language: filters.Language, Scopes: filters.Scopes}
}

// mergeResults flattens per-partition result sets, sorts by score
// descending, and truncates. The stable sort keeps partition order for
// equal scores, so merged output is deterministic.
func mergeResults(perPartition [][]*semantic.Result, limit int) []*semantic.Result {
	var out []*semantic.Result
	for _, results := range perPartition {
		out = append(out, results...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
