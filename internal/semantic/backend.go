package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/chunk"
	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
	"github.com/corpusmcp/corpusmcp/internal/health"
	"github.com/corpusmcp/corpusmcp/internal/parse"
	"github.com/corpusmcp/corpusmcp/internal/scanner"
	"github.com/corpusmcp/corpusmcp/internal/store"
	"github.com/corpusmcp/corpusmcp/internal/ui"
)

// On-disk layout inside the backend's data directory.
const (
	metaDBFile   = "meta.db"
	vectorsFile  = "vectors.hnsw"
	bm25BaseName = "bm25"
)

// indexFlushThreshold is the chunk count at which pending build output is
// flushed to the stores.
const indexFlushThreshold = 256

// BackendOptions configures a partition's semantic backend.
type BackendOptions struct {
	// Partition names the partition this backend serves.
	Partition string

	// Root is the absolute partition root on disk.
	Root string

	// Dir is the backend's private data directory.
	Dir string

	// Config supplies scan, chunking, and search settings.
	Config *config.Config

	// Embedder generates vectors for chunks and queries.
	Embedder embed.Embedder

	// Coordinator is the shared parse-cache coordinator. Updates consult
	// its window so one parse pass serves every backend in the partition.
	Coordinator *parse.Coordinator

	// Renderer receives progress and error events during builds. Optional;
	// its lifecycle (Start/Complete/Stop) stays with the caller.
	Renderer ui.Renderer

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Backend is the hybrid text index for one partition. It owns the
// partition's metadata store, keyword index, and vector store, and exposes
// the build, update, and search operations over them.
type Backend struct {
	partition   string
	root        string
	dir         string
	cfg         *config.Config
	meta        store.MetaStore
	bm25        store.BM25Index
	vector      store.VectorStore
	engine      *Engine
	embedder    embed.Embedder
	coordinator *parse.Coordinator
	parser      *parse.Parser
	scan        *scanner.Scanner
	chunkers    map[scanner.ContentType]chunk.Chunker
	renderer    ui.Renderer
	logger      *slog.Logger
	bm25Base    string
	vectorPath  string
}

// New opens (or creates) a partition's semantic backend. An existing index
// is opened with the BM25 backend and vector dimensions it was built with;
// identity mismatches surface later as degraded search, not open failures.
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
	if opts.Embedder == nil {
		return nil, corpuserr.ValidationError("embedder is required", nil)
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

	meta, err := store.NewSQLiteMetaStore(filepath.Join(opts.Dir, metaDBFile))
	if err != nil {
		return nil, wrapOpenError("metadata store", err)
	}

	bm25Base := filepath.Join(opts.Dir, bm25BaseName)
	bm25Backend := string(store.DetectBM25Backend(bm25Base))
	if bm25Backend == "" {
		bm25Backend = opts.Config.Search.BM25Backend
	}
	bm25, err := store.NewBM25Index(bm25Base, store.DefaultBM25Config(), bm25Backend)
	if err != nil {
		_ = meta.Close()
		return nil, wrapOpenError("keyword index", err)
	}

	vectorPath := filepath.Join(opts.Dir, vectorsFile)
	dims := opts.Embedder.Dimensions()
	if stored, err := store.ReadHNSWDimensions(vectorPath); err == nil && stored > 0 {
		dims = stored
	}
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = bm25.Close()
		_ = meta.Close()
		return nil, wrapOpenError("vector store", err)
	}
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vector.Load(vectorPath); err != nil {
			_ = vector.Close()
			_ = bm25.Close()
			_ = meta.Close()
			return nil, corpuserr.CorruptionError(
				fmt.Sprintf("vector index unreadable at %s", vectorPath), err)
		}
	}

	engine, err := NewEngine(bm25, vector, opts.Embedder, meta, engineConfig(opts.Config),
		WithQueryExpander(NewQueryExpander()))
	if err != nil {
		_ = vector.Close()
		_ = bm25.Close()
		_ = meta.Close()
		return nil, err
	}

	scan, err := scanner.New()
	if err != nil {
		_ = engine.Close()
		return nil, corpuserr.InternalError("create scanner", err)
	}

	chunkOpts := chunk.CodeChunkerOptions{
		MaxChunkTokens: opts.Config.Search.ChunkSize,
		OverlapTokens:  opts.Config.Search.ChunkOverlap,
	}
	chunkers := map[scanner.ContentType]chunk.Chunker{
		scanner.ContentTypeCode: chunk.NewCodeChunkerWithOptions(chunkOpts),
		scanner.ContentTypeMarkdown: chunk.NewMarkdownChunkerWithOptions(chunk.MarkdownChunkerOptions{
			MaxChunkTokens: chunkOpts.MaxChunkTokens,
			OverlapTokens:  chunkOpts.OverlapTokens,
		}),
		scanner.ContentTypeText:   chunk.NewTextChunker(),
		scanner.ContentTypeConfig: chunk.NewTextChunker(),
	}

	return &Backend{
		partition:   opts.Partition,
		root:        opts.Root,
		dir:         opts.Dir,
		cfg:         opts.Config,
		meta:        meta,
		bm25:        bm25,
		vector:      vector,
		engine:      engine,
		embedder:    opts.Embedder,
		coordinator: opts.Coordinator,
		parser:      parse.NewParser(),
		scan:        scan,
		chunkers:    chunkers,
		renderer:    opts.Renderer,
		logger:      logger,
		bm25Base:    bm25Base,
		vectorPath:  vectorPath,
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

// engineConfig derives engine settings from the loaded configuration,
// falling back to defaults for unset values.
func engineConfig(cfg *config.Config) EngineConfig {
	ec := DefaultEngineConfig()
	if cfg.Search.RRFConstant > 0 {
		ec.RRFConstant = cfg.Search.RRFConstant
	}
	if cfg.Search.MaxResults > 0 {
		ec.MaxLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		ec.DefaultWeights = Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		}
	}
	return ec
}

// Partition returns the partition name this backend serves.
func (b *Backend) Partition() string { return b.partition }

// InvalidateScanCache drops cached gitignore matchers so the next scan
// re-reads ignore rules from disk. Called when a .gitignore under the
// root changes.
func (b *Backend) InvalidateScanCache() { b.scan.InvalidateGitignoreCache() }

// Build indexes the given source directories. With force, all existing
// index data is dropped first and the vector store is recreated at the
// live embedder's dimensions. Without force, files whose content hash is
// unchanged are skipped, and files that disappeared from the sources are
// removed. Per-file chunking failures are logged and counted, not fatal;
// store and embedder failures abort the build.
func (b *Backend) Build(ctx context.Context, sourcePaths []string, force bool) (*BuildResult, error) {
	start := time.Now()

	if force {
		if err := b.purge(ctx); err != nil {
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

	var (
		pendingChunks  []*store.Chunk
		pendingRecords []*store.File
	)
	flush := func() error {
		if len(pendingChunks) == 0 && len(pendingRecords) == 0 {
			return nil
		}
		if err := b.engine.Index(ctx, pendingChunks); err != nil {
			return err
		}
		if err := b.meta.SaveFiles(ctx, pendingRecords); err != nil {
			return fmt.Errorf("save file records: %w", err)
		}
		pendingChunks = pendingChunks[:0]
		pendingRecords = pendingRecords[:0]
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
		scanned[rel] = true

		b.progress(ui.StageChunking, i+1, len(files), rel)

		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			result.Failed++
			b.fileWarn(rel, err)
			continue
		}
		hash := hashContent(content)

		if !force {
			existing, err := b.meta.GetFileByPath(ctx, rel)
			if err != nil {
				return nil, corpuserr.IOError("read file record", err)
			}
			if existing != nil && existing.ContentHash == hash {
				result.Skipped++
				continue
			}
			if existing != nil {
				if _, err := b.removeFile(ctx, rel); err != nil {
					result.Failed++
					b.fileWarn(rel, err)
					continue
				}
			}
		}

		record, chunks, err := b.prepareFile(ctx, f, rel, content, hash)
		if err != nil {
			result.Failed++
			b.fileWarn(rel, err)
			continue
		}

		pendingRecords = append(pendingRecords, record)
		pendingChunks = append(pendingChunks, chunks...)
		result.Files++
		result.Chunks += len(chunks)

		if len(pendingChunks) >= indexFlushThreshold {
			b.progress(ui.StageIndexing, result.Chunks, 0, "")
			if err := flush(); err != nil {
				return nil, corpuserr.New(corpuserr.ErrCodeIndexFailed, "index batch failed", err)
			}
		}
	}

	b.progress(ui.StageIndexing, result.Chunks, result.Chunks, "")
	if err := flush(); err != nil {
		return nil, corpuserr.New(corpuserr.ErrCodeIndexFailed, "index batch failed", err)
	}

	// Files indexed before but absent from this scan no longer exist (or
	// are newly excluded); drop them.
	stored, err := b.meta.ListFiles(ctx)
	if err != nil {
		return nil, corpuserr.IOError("list indexed files", err)
	}
	for _, sf := range stored {
		if scanned[sf.Path] {
			continue
		}
		if _, err := b.removeFile(ctx, sf.Path); err != nil {
			result.Failed++
			b.fileWarn(sf.Path, err)
			continue
		}
		result.Removed++
	}

	if err := b.persist(ctx); err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	b.logger.Info("semantic build complete",
		slog.String("partition", b.partition),
		slog.Int("files", result.Files),
		slog.Int("chunks", result.Chunks),
		slog.Int("skipped", result.Skipped),
		slog.Int("removed", result.Removed),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// Update applies an incremental change set of partition-relative paths.
// Deleted files are unindexed, unchanged files are skipped by content hash,
// and everything else is reindexed. Parse results come from the
// coordinator's window when one is open. Per-file failures are logged and
// counted; the update continues.
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
				b.logger.Warn("unindex failed",
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
			// rule); keep the index consistent with the scan rules.
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
				b.logger.Warn("reindex failed",
					slog.String("path", rel), slog.String("error", ierr.Error()))
			} else if indexed {
				result.Indexed++
			} else {
				result.Skipped++
			}
		}
	}

	if result.Indexed > 0 || result.Removed > 0 {
		if err := b.persist(ctx); err != nil {
			return result, err
		}
	}

	b.logger.Debug("semantic update complete",
		slog.String("partition", b.partition),
		slog.Int("indexed", result.Indexed),
		slog.Int("removed", result.Removed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

// Search runs a hybrid query over this partition and stamps the partition
// name on each hit.
func (b *Backend) Search(ctx context.Context, query string, opts SearchOptions) ([]*Result, error) {
	results, err := b.engine.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.Partition = b.partition
	}
	return results, nil
}

// Stats reports index sizes and build identity.
func (b *Backend) Stats(ctx context.Context) (*Stats, error) {
	ms, err := b.meta.Stats(ctx)
	if err != nil {
		return nil, corpuserr.IOError("read metadata stats", err)
	}
	es := b.engine.Stats()

	s := &Stats{
		Partition:     b.partition,
		Files:         ms.FileCount,
		Chunks:        ms.ChunkCount,
		Symbols:       ms.SymbolCount,
		BM25Documents: es.BM25Documents,
		Vectors:       es.Vectors,
	}
	if model, err := b.meta.GetState(ctx, store.StateKeyEmbedModel); err == nil {
		s.EmbedModel = model
	}
	if dims, err := b.meta.GetState(ctx, store.StateKeyEmbedDimensions); err == nil && dims != "" {
		if n, err := strconv.Atoi(dims); err == nil {
			s.EmbedDimensions = n
		}
	}
	if builtAt, err := b.meta.GetState(ctx, store.StateKeyBuiltAt); err == nil && builtAt != "" {
		if t, err := time.Parse(time.RFC3339, builtAt); err == nil {
			s.BuiltAt = t
		}
	}
	return s, nil
}

// HealthCheck probes each component and aggregates worst-of. A dead
// embedder or a stale embedding identity degrades (keyword search still
// answers); unreadable stores are unhealthy.
func (b *Backend) HealthCheck(ctx context.Context) *health.Report {
	report := &health.Report{Name: "semantic", Status: health.StatusHealthy}

	meta := &health.Report{Name: "metadata", Status: health.StatusHealthy}
	if _, err := b.meta.Stats(ctx); err != nil {
		meta.Status = health.StatusUnhealthy
		meta.Message = err.Error()
		if corpuserr.IsCorruption(err) {
			meta.Message = "metadata store corrupt, rebuild required"
		}
	}

	keyword := &health.Report{Name: "keyword", Status: health.StatusHealthy}
	if _, err := b.bm25.Search(ctx, "health", 1); err != nil {
		keyword.Status = health.StatusUnhealthy
		keyword.Message = err.Error()
		if corpuserr.IsCorruption(err) {
			keyword.Message = "keyword index corrupt, rebuild required"
		}
	}

	vector := &health.Report{Name: "vector", Status: health.StatusHealthy}
	if err := b.engine.validateDimensions(ctx); err != nil {
		vector.Status = health.StatusDegraded
		vector.Message = "embedding dimensions differ from index, keyword-only search"
	}

	embedder := &health.Report{Name: "embedder", Status: health.StatusHealthy}
	if !b.embedder.Available(ctx) {
		embedder.Status = health.StatusDegraded
		embedder.Message = "embedding service unavailable"
	}

	report.Components = []*health.Report{meta, keyword, vector, embedder}
	report.Aggregate()
	return report
}

// Close releases the parser and all stores.
func (b *Backend) Close() error {
	b.parser.Close()
	return b.engine.Close()
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
			b.progress(ui.StageScanning, len(files), 0, r.File.Path)
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

// prepareFile parses and chunks one file, returning its record and store
// chunks ready for indexing.
func (b *Backend) prepareFile(ctx context.Context, f *scanner.FileInfo, rel string, content []byte, hash string) (*store.File, []*store.Chunk, error) {
	var tree *parse.Tree
	if lang, ok := b.coordinator.Languages().LanguageForPath(f.AbsPath); ok {
		parsed, err := b.parser.Parse(ctx, content, lang)
		if err != nil {
			// Chunking falls back to line windows without a tree.
			b.logger.Debug("parse failed, chunking without tree",
				slog.String("path", rel), slog.String("error", err.Error()))
		} else {
			tree = parsed
		}
	}

	chunker, ok := b.chunkers[f.ContentType]
	if !ok {
		chunker = b.chunkers[scanner.ContentTypeText]
	}
	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{
		Path:     rel,
		Content:  content,
		Language: f.Language,
		Tree:     tree,
	})
	if err != nil {
		return nil, nil, corpuserr.New(corpuserr.ErrCodeParseFailed,
			fmt.Sprintf("chunk %s", rel), err)
	}

	id := fileID(b.partition, rel)
	record := &store.File{
		ID:          id,
		Path:        rel,
		Size:        f.Size,
		ModTime:     f.ModTime,
		ContentHash: hash,
		Language:    f.Language,
		ContentType: storeContentType(f.ContentType),
		IndexedAt:   time.Now().UTC(),
	}

	stored := make([]*store.Chunk, len(chunks))
	for i, c := range chunks {
		stored[i] = convertChunk(c, id, f.IsGenerated)
	}
	return record, stored, nil
}

// indexOne reindexes a single changed file. Returns false when the file is
// skipped (unchanged, binary, or over the size limit).
func (b *Backend) indexOne(ctx context.Context, rel, abs string, info os.FileInfo) (bool, error) {
	maxSize := int64(b.cfg.Index.MaxFileSizeKB) * 1024
	if maxSize <= 0 {
		maxSize = scanner.DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		// A file that grew past the limit must not keep stale chunks.
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

	hash := hashContent(content)
	existing, err := b.meta.GetFileByPath(ctx, rel)
	if err != nil {
		return false, corpuserr.IOError("read file record", err)
	}
	if existing != nil && existing.ContentHash == hash {
		return false, nil
	}

	language := scanner.DetectLanguage(rel)
	contentType := scanner.DetectContentType(language)

	var tree *parse.Tree
	if _, ok := b.coordinator.Languages().LanguageForPath(abs); ok {
		// The coordinator window carries parses keyed by absolute path;
		// on a miss it parses directly.
		parsed, perr := b.coordinator.ParseOrCached(ctx, b.partition, abs)
		if perr != nil {
			b.logger.Debug("parse failed, chunking without tree",
				slog.String("path", rel), slog.String("error", perr.Error()))
		} else {
			tree = parsed.Tree
		}
	}

	chunker, ok := b.chunkers[contentType]
	if !ok {
		chunker = b.chunkers[scanner.ContentTypeText]
	}
	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{
		Path:     rel,
		Content:  content,
		Language: language,
		Tree:     tree,
	})
	if err != nil {
		return false, corpuserr.New(corpuserr.ErrCodeParseFailed,
			fmt.Sprintf("chunk %s", rel), err)
	}

	if existing != nil {
		old, err := b.meta.GetChunksByFile(ctx, existing.ID)
		if err != nil {
			return false, corpuserr.IOError("read existing chunks", err)
		}
		ids := make([]string, len(old))
		for i, c := range old {
			ids[i] = c.ID
		}
		if err := b.engine.Delete(ctx, existing.ID, ids); err != nil {
			return false, err
		}
	}

	id := fileID(b.partition, rel)
	stored := make([]*store.Chunk, len(chunks))
	generated := scanner.IsGeneratedContent(content)
	for i, c := range chunks {
		stored[i] = convertChunk(c, id, generated)
	}

	if err := b.engine.Index(ctx, stored); err != nil {
		return false, err
	}
	record := &store.File{
		ID:          id,
		Path:        rel,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hash,
		Language:    language,
		ContentType: storeContentType(contentType),
		IndexedAt:   time.Now().UTC(),
	}
	if err := b.meta.SaveFiles(ctx, []*store.File{record}); err != nil {
		return false, fmt.Errorf("save file record: %w", err)
	}
	return true, nil
}

// removeFile unindexes one file. Returns false when the file was not
// indexed.
func (b *Backend) removeFile(ctx context.Context, rel string) (bool, error) {
	f, err := b.meta.GetFileByPath(ctx, rel)
	if err != nil {
		return false, corpuserr.IOError("read file record", err)
	}
	if f == nil {
		return false, nil
	}

	chunks, err := b.meta.GetChunksByFile(ctx, f.ID)
	if err != nil {
		return false, corpuserr.IOError("read existing chunks", err)
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := b.engine.Delete(ctx, f.ID, ids); err != nil {
		return false, err
	}
	if err := b.meta.DeleteFile(ctx, rel); err != nil {
		return false, corpuserr.IOError(fmt.Sprintf("delete file record %s", rel), err)
	}
	return true, nil
}

// purge drops all indexed data ahead of a force rebuild. The vector store
// is replaced wholesale so the rebuild adopts the live embedder's
// dimensions.
func (b *Backend) purge(ctx context.Context) error {
	ids, err := b.meta.AllChunkIDs(ctx)
	if err != nil {
		return fmt.Errorf("list chunk ids: %w", err)
	}
	if len(ids) > 0 {
		if err := b.bm25.Delete(ctx, ids); err != nil {
			b.logger.Warn("keyword purge incomplete",
				slog.String("error", err.Error()))
		}
	}

	files, err := b.meta.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	for _, f := range files {
		if err := b.meta.DeleteFile(ctx, f.Path); err != nil {
			return fmt.Errorf("delete file %s: %w", f.Path, err)
		}
	}
	for _, key := range []string{store.StateKeyEmbedModel, store.StateKeyEmbedDimensions, store.StateKeyBuiltAt} {
		if err := b.meta.SetState(ctx, key, ""); err != nil {
			return fmt.Errorf("clear state %s: %w", key, err)
		}
	}

	fresh, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(b.embedder.Dimensions()))
	if err != nil {
		return fmt.Errorf("recreate vector store: %w", err)
	}
	if err := b.vector.Close(); err != nil {
		b.logger.Warn("close old vector store", slog.String("error", err.Error()))
	}
	_ = os.Remove(b.vectorPath)
	b.vector = fresh
	b.engine.vector = fresh
	return nil
}

// persist flushes the keyword and vector indexes to disk and stamps the
// build time.
func (b *Backend) persist(ctx context.Context) error {
	if err := b.bm25.Save(b.bm25Base); err != nil {
		return corpuserr.IOError("persist keyword index", err)
	}
	if err := b.vector.Save(b.vectorPath); err != nil {
		return corpuserr.IOError("persist vector index", err)
	}
	if err := b.meta.SetState(ctx, store.StateKeyBuiltAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		b.logger.Warn("record build time", slog.String("error", err.Error()))
	}
	return nil
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

// fileID derives a stable identifier from partition and relative path.
func fileID(partition, path string) string {
	sum := sha256.Sum256([]byte(partition + ":" + path))
	return hex.EncodeToString(sum[:])[:16]
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// storeContentType maps scanner content types onto stored ones. Config
// files are stored as text; they have no dedicated retrieval category.
func storeContentType(ct scanner.ContentType) store.ContentType {
	switch ct {
	case scanner.ContentTypeCode:
		return store.ContentTypeCode
	case scanner.ContentTypeMarkdown:
		return store.ContentTypeMarkdown
	default:
		return store.ContentTypeText
	}
}

// convertChunk maps a chunker output onto the stored chunk form, stamping
// file identity and the generated marker.
func convertChunk(c *chunk.Chunk, fileID string, generated bool) *store.Chunk {
	meta := c.Metadata
	if generated {
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta[MetadataKeyGenerated] = "true"
	}

	symbols := make([]*store.Symbol, len(c.Symbols))
	for i, s := range c.Symbols {
		symbols[i] = &store.Symbol{
			Name:      s.Name,
			Kind:      string(s.Type),
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
			Signature: s.Signature,
		}
	}

	return &store.Chunk{
		ID:          c.ID,
		FileID:      fileID,
		FilePath:    c.FilePath,
		Content:     c.Content,
		RawContent:  c.RawContent,
		Context:     c.Context,
		ContentType: store.ContentType(c.ContentType),
		Language:    c.Language,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		Symbols:     symbols,
		Metadata:    meta,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
