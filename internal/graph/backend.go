package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/config"
	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
	"github.com/corpusmcp/corpusmcp/internal/health"
	"github.com/corpusmcp/corpusmcp/internal/parse"
	"github.com/corpusmcp/corpusmcp/internal/scanner"
	"github.com/corpusmcp/corpusmcp/internal/ui"
)

// graphDBFile is the store's filename inside the backend's data directory.
const graphDBFile = "graph.db"

// graphFlushThreshold is the file count at which pending build output is
// committed to the store.
const graphFlushThreshold = 64

const stateKeyBuiltAt = "built_at"

// BackendOptions configures a partition's graph backend.
type BackendOptions struct {
	// Partition names the partition this backend serves.
	Partition string

	// Root is the absolute partition root on disk.
	Root string

	// Dir is the backend's private data directory.
	Dir string

	// Config supplies scan settings.
	Config *config.Config

	// Coordinator is the shared parse-cache coordinator. Updates consult
	// its window so one parse pass serves every backend in the partition.
	Coordinator *parse.Coordinator

	// Renderer receives progress and error events during builds. Optional;
	// its lifecycle (Start/Complete/Stop) stays with the caller.
	Renderer ui.Renderer

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Backend is the structural index for one partition. It owns the
// partition's graph store and exposes build, update, pattern search, and
// call-graph traversal over it.
type Backend struct {
	partition   string
	root        string
	dir         string
	cfg         *config.Config
	store       *Store
	extractor   *Extractor
	registry    *parse.LanguageRegistry
	coordinator *parse.Coordinator
	parser      *parse.Parser
	scan        *scanner.Scanner
	renderer    ui.Renderer
	logger      *slog.Logger
}

// New opens (or creates) a partition's graph backend.
func New(opts BackendOptions) (*Backend, error) {
	if opts.Partition == "" {
		return nil, corpuserr.ValidationError("partition name is required", nil)
	}
	if opts.Root == "" || opts.Dir == "" {
		return nil, corpuserr.ValidationError("partition root and data directory are required", nil)
	}
	if opts.Config == nil {
		return nil, corpuserr.ValidationError("config is required", nil)
	}
	if opts.Coordinator == nil {
		return nil, corpuserr.ValidationError("parse coordinator is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, corpuserr.IOError(fmt.Sprintf("create data directory %s", opts.Dir), err)
	}

	st, err := NewStore(filepath.Join(opts.Dir, graphDBFile))
	if err != nil {
		return nil, wrapOpenError("graph store", err)
	}

	scan, err := scanner.New()
	if err != nil {
		_ = st.Close()
		return nil, corpuserr.InternalError("create scanner", err)
	}

	registry := opts.Coordinator.Languages()
	return &Backend{
		partition:   opts.Partition,
		root:        opts.Root,
		dir:         opts.Dir,
		cfg:         opts.Config,
		store:       st,
		extractor:   NewExtractorWithRegistry(registry),
		registry:    registry,
		coordinator: opts.Coordinator,
		parser:      parse.NewParser(),
		scan:        scan,
		renderer:    opts.Renderer,
		logger:      logger,
	}, nil
}

// wrapOpenError classifies store-open failures: corruption markers re-raise
// as a rebuild requirement, everything else is a storage error.
func wrapOpenError(what string, err error) error {
	if corpuserr.IsCorruption(err) {
		return corpuserr.CorruptionError(what+" unreadable", err)
	}
	return corpuserr.IOError("open "+what, err)
}

// Partition returns the partition name this backend serves.
func (b *Backend) Partition() string { return b.partition }

// Build extracts symbols and call references from the given source
// directories. With force, existing graph data is dropped first. Without
// force, files with unchanged content hashes are skipped, and files that
// disappeared from the sources are removed. Files in unsupported languages
// are skipped; per-file read and parse failures are logged and counted,
// not fatal. A changed file's old rows go out in the same transaction its
// new rows come in, so no pre-delete pass is needed.
func (b *Backend) Build(ctx context.Context, sourcePaths []string, force bool) (*BuildResult, error) {
	start := time.Now()

	if force {
		if err := b.store.Clear(ctx); err != nil {
			return nil, corpuserr.New(corpuserr.ErrCodeIndexFailed, "purge before rebuild failed", err)
		}
	}

	if len(sourcePaths) == 0 {
		sourcePaths = []string{b.root}
	}

	files, err := b.scanSources(ctx, sourcePaths)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{}
	scanned := make(map[string]bool, len(files))

	var pending []*FileGraph
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := b.store.ReplaceFiles(ctx, pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, err := filepath.Rel(b.root, f.AbsPath)
		if err != nil {
			rel = f.Path
		}

		lang, ok := b.registry.LanguageForPath(rel)
		if !ok {
			result.Skipped++
			continue
		}
		scanned[rel] = true

		b.progress(ui.StageGraph, i+1, len(files), rel)

		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			result.Failed++
			b.fileWarn(rel, err)
			continue
		}
		hash := hashFileContent(content)

		if !force {
			existing, err := b.store.GetFileByPath(ctx, rel)
			if err != nil {
				return nil, corpuserr.IOError("read file record", err)
			}
			if existing != nil && existing.ContentHash == hash {
				result.Skipped++
				continue
			}
		}

		fg, err := b.extractFile(ctx, rel, lang, content, hash)
		if err != nil {
			result.Failed++
			b.fileWarn(rel, err)
			continue
		}

		pending = append(pending, fg)
		result.Files++
		result.Symbols += len(fg.Symbols)
		result.Edges += len(fg.Edges)

		if len(pending) >= graphFlushThreshold {
			if err := flush(); err != nil {
				return nil, corpuserr.New(corpuserr.ErrCodeIndexFailed, "graph batch failed", err)
			}
		}
	}

	if err := flush(); err != nil {
		return nil, corpuserr.New(corpuserr.ErrCodeIndexFailed, "graph batch failed", err)
	}

	// Files indexed before but absent from this scan no longer exist (or
	// are newly excluded); drop them.
	stored, err := b.store.ListFiles(ctx)
	if err != nil {
		return nil, corpuserr.IOError("list indexed files", err)
	}
	for _, sf := range stored {
		if scanned[sf.Path] {
			continue
		}
		if err := b.store.DeleteFile(ctx, sf.Path); err != nil {
			result.Failed++
			b.fileWarn(sf.Path, err)
			continue
		}
		result.Removed++
	}

	if err := b.store.SetState(ctx, stateKeyBuiltAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		b.logger.Warn("record build time", slog.String("error", err.Error()))
	}

	result.Elapsed = time.Since(start)
	b.logger.Info("graph build complete",
		slog.String("partition", b.partition),
		slog.Int("files", result.Files),
		slog.Int("symbols", result.Symbols),
		slog.Int("edges", result.Edges),
		slog.Int("skipped", result.Skipped),
		slog.Int("removed", result.Removed),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// Update applies an incremental change set of partition-relative paths.
// Deleted and newly excluded files are removed from the graph, unchanged
// files are skipped by content hash, and everything else is re-extracted.
// Parse results come from the coordinator's window when one is open.
// Per-file failures are logged and counted; the update continues.
func (b *Backend) Update(ctx context.Context, paths []string) (*UpdateResult, error) {
	result := &UpdateResult{}

	scanOpts := b.scanOptions(b.root)
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		abs := filepath.Join(b.root, rel)
		info, err := os.Stat(abs)
		switch {
		case os.IsNotExist(err):
			removed, rerr := b.removeFile(ctx, rel)
			if rerr != nil {
				result.Failed++
				b.logger.Warn("graph unindex failed",
					slog.String("path", rel), slog.String("error", rerr.Error()))
			} else if removed {
				result.Removed++
			} else {
				result.Skipped++
			}

		case err != nil:
			result.Failed++
			b.logger.Warn("stat failed",
				slog.String("path", rel), slog.String("error", err.Error()))

		case info.IsDir():
			result.Skipped++

		case b.scan.Excluded(rel, b.root, scanOpts):
			// A previously indexed file can become excluded (new ignore
			// rule); keep the graph consistent with the scan rules.
			removed, rerr := b.removeFile(ctx, rel)
			if rerr != nil {
				result.Failed++
			} else if removed {
				result.Removed++
			} else {
				result.Skipped++
			}

		default:
			indexed, ierr := b.indexOne(ctx, rel, abs, info)
			if ierr != nil {
				result.Failed++
				b.logger.Warn("graph reindex failed",
					slog.String("path", rel), slog.String("error", ierr.Error()))
			} else if indexed {
				result.Indexed++
			} else {
				result.Skipped++
			}
		}
	}

	if result.Indexed > 0 || result.Removed > 0 {
		if err := b.store.SetState(ctx, stateKeyBuiltAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
			b.logger.Warn("record build time", slog.String("error", err.Error()))
		}
	}

	b.logger.Debug("graph update complete",
		slog.String("partition", b.partition),
		slog.Int("indexed", result.Indexed),
		slog.Int("removed", result.Removed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

// SearchAST finds symbols matching pattern and stamps the partition name
// on each hit. Patterns take the form kind:name (for example
// "func:Handle*") or a bare name. Glob characters make the name a
// case-sensitive glob; otherwise it matches as a substring.
func (b *Backend) SearchAST(ctx context.Context, pattern string, limit int, filters *FilterOptions) ([]*Node, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultASTResults
	}
	if limit > MaxASTResults {
		limit = MaxASTResults
	}

	kind, name := parsePattern(pattern)
	q := SymbolQuery{
		Kind:  kind,
		Name:  name,
		Glob:  strings.ContainsAny(name, "*?["),
		Limit: limit,
	}
	if filters != nil {
		q.Language = filters.Language
		q.Scopes = filters.Scopes
	}

	symbols, err := b.store.QuerySymbols(ctx, q)
	if err != nil {
		return nil, wrapQueryError("pattern search failed", err)
	}

	nodes := make([]*Node, len(symbols))
	for i, sym := range symbols {
		nodes[i] = &Node{
			ID:        sym.ID,
			Name:      sym.Name,
			Kind:      sym.Kind,
			FilePath:  sym.FilePath,
			StartLine: sym.StartLine,
			EndLine:   sym.EndLine,
			Signature: sym.Signature,
			Container: sym.Container,
			Partition: b.partition,
		}
	}
	return nodes, nil
}

// kindAliases maps pattern prefixes onto symbol kinds.
var kindAliases = map[string]string{
	"func":      KindFunction,
	"function":  KindFunction,
	"method":    KindMethod,
	"class":     KindClass,
	"struct":    KindClass,
	"interface": KindInterface,
	"iface":     KindInterface,
	"type":      KindType,
}

// parsePattern splits a kind:name pattern. An unknown prefix leaves the
// whole pattern as the name, so text like "init:config" still searches.
func parsePattern(pattern string) (kind, name string) {
	prefix, rest, ok := strings.Cut(pattern, ":")
	if !ok {
		return "", pattern
	}
	k, known := kindAliases[strings.ToLower(strings.TrimSpace(prefix))]
	if !known {
		return "", pattern
	}
	return k, strings.TrimSpace(rest)
}

// FindCallers walks the call graph upward from symbol: everything that
// calls it, directly or through intermediaries, annotated with distance.
// maxDepth outside [1, MaxTraversalDepth] selects the default depth.
func (b *Backend) FindCallers(ctx context.Context, symbol string, maxDepth int) ([]*TraversalNode, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, corpuserr.ValidationError("symbol name is required", nil)
	}

	nodes, err := b.store.Callers(ctx, symbol, clampDepth(maxDepth), maxTraversalResults)
	if err != nil {
		return nil, wrapQueryError("caller traversal failed", err)
	}
	for _, n := range nodes {
		n.Partition = b.partition
	}
	return nodes, nil
}

// FindDependencies walks the call graph downward from symbol: everything
// it calls, directly or through intermediaries, annotated with distance.
// Only callees defined in the partition appear.
func (b *Backend) FindDependencies(ctx context.Context, symbol string, maxDepth int) ([]*TraversalNode, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, corpuserr.ValidationError("symbol name is required", nil)
	}

	nodes, err := b.store.Dependencies(ctx, symbol, clampDepth(maxDepth), maxTraversalResults)
	if err != nil {
		return nil, wrapQueryError("dependency traversal failed", err)
	}
	for _, n := range nodes {
		n.Partition = b.partition
	}
	return nodes, nil
}

// FindCallPaths enumerates call chains from one symbol name to another,
// shortest first, as sequences of names starting at from and ending at to.
func (b *Backend) FindCallPaths(ctx context.Context, from, to string, maxDepth int) ([][]string, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, corpuserr.ValidationError("from and to symbol names are required", nil)
	}

	paths, err := b.store.CallPaths(ctx, from, to, clampDepth(maxDepth), maxCallPaths)
	if err != nil {
		return nil, wrapQueryError("call path search failed", err)
	}
	return paths, nil
}

func clampDepth(d int) int {
	if d <= 0 {
		return DefaultTraversalDepth
	}
	if d > MaxTraversalDepth {
		return MaxTraversalDepth
	}
	return d
}

// wrapQueryError re-raises corruption so callers know a rebuild is due;
// anything else reports as a search failure.
func wrapQueryError(what string, err error) error {
	if corpuserr.IsCorruption(err) {
		return corpuserr.CorruptionError(what, err)
	}
	return corpuserr.New(corpuserr.ErrCodeSearchFailed, what, err)
}

// Stats reports graph sizes and the last build time.
func (b *Backend) Stats(ctx context.Context) (*Stats, error) {
	ss, err := b.store.Stats(ctx)
	if err != nil {
		return nil, corpuserr.IOError("read graph stats", err)
	}

	s := &Stats{
		Partition: b.partition,
		Files:     ss.FileCount,
		Symbols:   ss.SymbolCount,
		Edges:     ss.EdgeCount,
	}
	if builtAt, err := b.store.GetState(ctx, stateKeyBuiltAt); err == nil && builtAt != "" {
		if t, err := time.Parse(time.RFC3339, builtAt); err == nil {
			s.BuiltAt = t
		}
	}
	return s, nil
}

// HealthCheck probes the store and aggregates worst-of. The graph has no
// degraded middle state: it either answers or it does not.
func (b *Backend) HealthCheck(ctx context.Context) *health.Report {
	report := &health.Report{Name: "graph", Status: health.StatusHealthy}

	storage := &health.Report{Name: "storage", Status: health.StatusHealthy}
	if _, err := b.store.Stats(ctx); err != nil {
		storage.Status = health.StatusUnhealthy
		storage.Message = err.Error()
		if corpuserr.IsCorruption(err) {
			storage.Message = "graph store corrupt, rebuild required"
		}
	}

	symbols := &health.Report{Name: "symbols", Status: health.StatusHealthy}
	if _, err := b.store.QuerySymbols(ctx, SymbolQuery{Name: "health", Limit: 1}); err != nil {
		symbols.Status = health.StatusUnhealthy
		symbols.Message = err.Error()
	}

	report.Components = []*health.Report{storage, symbols}
	report.Aggregate()
	return report
}

// Close releases the parser and the store.
func (b *Backend) Close() error {
	b.parser.Close()
	return b.store.Close()
}

// scanOptions builds scanner options from the index configuration.
func (b *Backend) scanOptions(root string) *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  b.cfg.Index.Include,
		ExcludePatterns:  b.cfg.Index.Exclude,
		RespectGitignore: true,
		MaxFileSize:      int64(b.cfg.Index.MaxFileSizeKB) * 1024,
	}
}

// scanSources walks every source directory and collects candidate files,
// deduplicated by absolute path.
func (b *Backend) scanSources(ctx context.Context, sourcePaths []string) ([]*scanner.FileInfo, error) {
	var files []*scanner.FileInfo
	seen := make(map[string]bool)

	for _, src := range sourcePaths {
		results, err := b.scan.Scan(ctx, b.scanOptions(src))
		if err != nil {
			return nil, corpuserr.New(corpuserr.ErrCodeInvalidPath,
				fmt.Sprintf("cannot scan %s", src), err)
		}
		for r := range results {
			if r.Error != nil {
				return nil, corpuserr.IOError(fmt.Sprintf("scan %s", src), r.Error)
			}
			if seen[r.File.AbsPath] {
				continue
			}
			seen[r.File.AbsPath] = true
			files = append(files, r.File)
		}
	}

	if max := b.cfg.Index.MaxFiles; max > 0 && len(files) > max {
		b.logger.Warn("file limit reached, truncating scan",
			slog.Int("scanned", len(files)),
			slog.Int("limit", max))
		files = files[:max]
	}
	return files, nil
}

// extractFile parses content and extracts one file's graph rows.
func (b *Backend) extractFile(ctx context.Context, rel, lang string, content []byte, hash string) (*FileGraph, error) {
	tree, err := b.parser.Parse(ctx, content, lang)
	if err != nil {
		return nil, corpuserr.New(corpuserr.ErrCodeParseFailed,
			fmt.Sprintf("parse %s", rel), err)
	}

	symbols, edges := b.extractor.Extract(tree, rel)
	return &FileGraph{
		File: &FileRecord{
			Path:        rel,
			ContentHash: hash,
			Language:    lang,
			IndexedAt:   time.Now().UTC(),
		},
		Symbols: symbols,
		Edges:   edges,
	}, nil
}

// indexOne re-extracts a single changed file. Returns false when the file
// is skipped (unchanged, unsupported, binary, or over the size limit).
func (b *Backend) indexOne(ctx context.Context, rel, abs string, info os.FileInfo) (bool, error) {
	lang, ok := b.registry.LanguageForPath(rel)
	if !ok {
		_, err := b.removeFile(ctx, rel)
		return false, err
	}

	maxSize := int64(b.cfg.Index.MaxFileSizeKB) * 1024
	if maxSize <= 0 {
		maxSize = scanner.DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		// A file that grew past the limit must not keep stale symbols.
		_, err := b.removeFile(ctx, rel)
		return false, err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return false, corpuserr.IOError(fmt.Sprintf("read %s", rel), err)
	}
	if scanner.IsBinaryContent(content) {
		_, err := b.removeFile(ctx, rel)
		return false, err
	}

	hash := hashFileContent(content)
	existing, err := b.store.GetFileByPath(ctx, rel)
	if err != nil {
		return false, corpuserr.IOError("read file record", err)
	}
	if existing != nil && existing.ContentHash == hash {
		return false, nil
	}

	// The coordinator window carries parses keyed by absolute path; on a
	// miss it parses directly.
	parsed, err := b.coordinator.ParseOrCached(ctx, b.partition, abs)
	if err != nil {
		return false, corpuserr.New(corpuserr.ErrCodeParseFailed,
			fmt.Sprintf("parse %s", rel), err)
	}

	symbols, edges := b.extractor.Extract(parsed.Tree, rel)
	fg := &FileGraph{
		File: &FileRecord{
			Path:        rel,
			ContentHash: hash,
			Language:    lang,
			IndexedAt:   time.Now().UTC(),
		},
		Symbols: symbols,
		Edges:   edges,
	}
	if err := b.store.ReplaceFiles(ctx, []*FileGraph{fg}); err != nil {
		return false, corpuserr.IOError(fmt.Sprintf("save graph rows %s", rel), err)
	}
	return true, nil
}

// removeFile drops one file from the graph. Returns false when the file
// was not indexed.
func (b *Backend) removeFile(ctx context.Context, rel string) (bool, error) {
	existing, err := b.store.GetFileByPath(ctx, rel)
	if err != nil {
		return false, corpuserr.IOError("read file record", err)
	}
	if existing == nil {
		return false, nil
	}
	if err := b.store.DeleteFile(ctx, rel); err != nil {
		return false, corpuserr.IOError(fmt.Sprintf("delete graph rows %s", rel), err)
	}
	return true, nil
}

func (b *Backend) progress(stage ui.Stage, current, total int, file string) {
	if b.renderer == nil {
		return
	}
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       stage,
		Current:     current,
		Total:       total,
		CurrentFile: file,
	})
}

func (b *Backend) fileWarn(path string, err error) {
	b.logger.Warn("file skipped",
		slog.String("path", path),
		slog.String("error", err.Error()))
	if b.renderer != nil {
		b.renderer.AddError(ui.ErrorEvent{File: path, Err: err, IsWarn: true})
	}
}

func hashFileContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
