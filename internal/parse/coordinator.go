package parse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corpusmcp/corpusmcp/internal/errors"
)

// Coordinator owns the short-lived parse cache shared by the index backends.
//
// The cache has a strict single-window lifetime: Prepare parses a changed
// file set and opens a window; backends consult the window through
// ParseOrCached during their updates; Window.Release purges the entries and
// closes the window. Release is idempotent and must run on every exit path,
// so entries can never leak into a later, unrelated update. The coordinator
// is a scoped handle owned by its orchestrator, never package-global state.
type Coordinator struct {
	mu     sync.Mutex
	parser *Parser
	cache  *lru.Cache[string, *ParsedFile]
	active *Window
	logger *slog.Logger
}

// Window is the active parse-cache window for one update call.
type Window struct {
	coord     *Coordinator
	partition string
	domain    string
	keys      []string

	once    sync.Once
	cleared int
}

// NewCoordinator creates a coordinator with the given cache capacity.
func NewCoordinator(capacity int, logger *slog.Logger) (*Coordinator, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	cache, err := lru.New[string, *ParsedFile](capacity)
	if err != nil {
		return nil, fmt.Errorf("create parse cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		parser: NewParser(),
		cache:  cache,
		logger: logger,
	}, nil
}

// cacheKey scopes cache entries by (partition, path) so one partition's
// parses are invisible to another's.
func cacheKey(partition, path string) string {
	return partition + "\x00" + path
}

// Prepare parses the given files and opens the cache window for the update
// that follows. Per-file failures are recorded in the returned stats, not
// raised. Opening a window while another is active is an invariant
// violation: the exclusive index lock serializes writers, so overlap means
// a missed Release.
func (c *Coordinator) Prepare(ctx context.Context, files []string, partition, domain string) (*Window, BatchStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, BatchStats{}, errors.InternalError(
			fmt.Sprintf("parse cache window already active for partition %q", c.active.partition), nil)
	}

	start := time.Now()
	stats := BatchStats{}
	window := &Window{coord: c, partition: partition, domain: domain}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			for _, key := range window.keys {
				c.cache.Remove(key)
			}
			return nil, BatchStats{}, err
		}

		if _, ok := c.parser.registry.LanguageForPath(path); !ok {
			stats.FilesSkipped++
			continue
		}

		parsed, err := c.parser.ParseFile(ctx, path)
		if err != nil {
			stats.Errors = append(stats.Errors, FileError{Path: path, Err: err})
			c.logger.Warn("parse failed, file excluded from cache window",
				slog.String("path", path),
				slog.String("partition", partition),
				slog.String("error", err.Error()))
			continue
		}

		key := cacheKey(partition, path)
		c.cache.Add(key, parsed)
		window.keys = append(window.keys, key)
		stats.FilesProcessed++
	}

	stats.Elapsed = time.Since(start)
	c.active = window

	c.logger.Debug("parse batch prepared",
		slog.String("partition", partition),
		slog.String("domain", domain),
		slog.Int("parsed", stats.FilesProcessed),
		slog.Int("skipped", stats.FilesSkipped),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("elapsed", stats.Elapsed))

	return window, stats, nil
}

// ParseOrCached returns the parse result for a file, consulting the active
// window first. On a miss (or with no window open) it parses directly
// without populating the cache, so build passes cannot grow a stale window.
func (c *Coordinator) ParseOrCached(ctx context.Context, partition, path string) (*ParsedFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.partition == partition {
		if parsed, ok := c.cache.Get(cacheKey(partition, path)); ok {
			return parsed, nil
		}
	}

	return c.parser.ParseFile(ctx, path)
}

// Cached reports whether the active window holds a parse for the file.
func (c *Coordinator) Cached(partition, path string) (*ParsedFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, false
	}
	return c.cache.Get(cacheKey(partition, path))
}

// CacheLen returns the number of cached parse entries. Zero whenever no
// window is active.
func (c *Coordinator) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// WindowActive reports whether a cache window is currently open.
func (c *Coordinator) WindowActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Languages returns the parser's language registry.
func (c *Coordinator) Languages() *LanguageRegistry {
	return c.parser.Registry()
}

// Close releases parser resources.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		// A live window at close time means a missed Release upstream.
		c.logger.Warn("parse cache window still active at close",
			slog.String("partition", c.active.partition))
		c.active = nil
	}
	c.cache.Purge()
	c.parser.Close()
}

// Release clears the window's cache entries and closes the window.
// Idempotent; returns the number of entries purged. Callers defer this
// immediately after Prepare so cleanup runs on success, backend failure,
// and panic alike.
func (w *Window) Release() int {
	w.once.Do(func() {
		c := w.coord
		c.mu.Lock()
		defer c.mu.Unlock()

		for _, key := range w.keys {
			if c.cache.Remove(key) {
				w.cleared++
			}
		}
		if c.active == w {
			c.active = nil
		}

		c.logger.Debug("parse cache window released",
			slog.String("partition", w.partition),
			slog.Int("cleared", w.cleared))
	})
	return w.cleared
}

// Partition returns the partition the window was opened for.
func (w *Window) Partition() string { return w.partition }

// Domain returns the domain tag the window was opened with.
func (w *Window) Domain() string { return w.domain }
