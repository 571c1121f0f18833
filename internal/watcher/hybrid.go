package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/corpusmcp/corpusmcp/internal/gitignore"
)

// configFiles are project config names whose edits surface as
// OpConfigChange rather than ordinary modifications.
var configFiles = map[string]bool{
	".corpusmcp.yaml": true,
	".corpusmcp.yml":  true,
}

// HybridWatcher watches a tree with fsnotify, falling back to polling
// when the platform cannot deliver filesystem events. Raw events pass
// through gitignore filtering and a debouncer; consumers receive
// coalesced batches on Events.
type HybridWatcher struct {
	fsw       *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	opts      Options
	logger    *slog.Logger

	mu      sync.RWMutex
	ignore  *gitignore.Matcher
	root    string
	stopped bool

	dropped atomic.Uint64
}

// NewHybridWatcher builds a watcher from opts. fsnotify is preferred;
// when the kernel watcher cannot be created (watch descriptor limits,
// unsupported filesystems) a polling watcher takes its place.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.Debounce, opts.Logger),
		events:    make(chan []FileEvent, opts.BufferSize),
		errors:    make(chan error, 8),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    opts.Logger,
	}
	h.ignore = h.baseMatcher()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		h.poller = NewPollingWatcher(opts.PollInterval, opts.Logger)
		return h, nil
	}
	h.fsw = fsw
	return h, nil
}

// baseMatcher holds the always-on ignores: the index directory plus any
// extra patterns from Options.
func (h *HybridWatcher) baseMatcher() *gitignore.Matcher {
	m := gitignore.New()
	m.AddPattern(".corpusmcp/")
	m.AddPattern(".corpusmcp/**")
	for _, pat := range h.opts.Ignore {
		m.AddPattern(pat)
	}
	return m
}

// Start watches root until ctx is cancelled or Stop is called. It
// blocks; run it on its own goroutine and consume Events concurrently.
func (h *HybridWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}

	h.mu.Lock()
	h.root = abs
	h.mu.Unlock()

	h.reloadIgnores()

	go h.forward(ctx)

	if h.fsw != nil {
		return h.runFsnotify(ctx, abs)
	}
	return h.runPolling(ctx, abs)
}

func (h *HybridWatcher) runFsnotify(ctx context.Context, root string) error {
	if err := h.addRecursive(root, root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return nil
			}
			h.handleFsnotify(root, ev)
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) runPolling(ctx context.Context, root string) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case ev, ok := <-h.poller.Events():
				if !ok {
					return
				}
				h.enqueue(ev)
			case err, ok := <-h.poller.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.poller.Start(ctx, root)
}

// handleFsnotify translates a raw fsnotify event and feeds it through
// the shared filter.
func (h *HybridWatcher) handleFsnotify(root string, ev fsnotify.Event) {
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	isDir := false
	if info, statErr := os.Stat(ev.Name); statErr == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		// fsnotify is not recursive; new directories need watches of
		// their own, including anything already created inside them.
		if isDir {
			if werr := h.addRecursive(root, ev.Name); werr != nil && !os.IsNotExist(werr) {
				h.emitError(fmt.Errorf("watch new directory %s: %w", rel, werr))
			}
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown bits carry no content change.
		return
	}

	h.enqueue(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// enqueue filters a change and hands it to the debouncer. Edits to
// .gitignore files rebuild the ignore rules and surface as
// OpGitignoreChange; project config edits surface as OpConfigChange.
func (h *HybridWatcher) enqueue(ev FileEvent) {
	if h.ignored(ev.Path, ev.IsDir) {
		return
	}

	switch base := filepath.Base(ev.Path); {
	case base == ".gitignore":
		h.reloadIgnores()
		ev.Operation = OpGitignoreChange
		ev.IsDir = false
	case configFiles[base]:
		ev.Operation = OpConfigChange
		ev.IsDir = false
	}

	h.debouncer.Add(ev)
}

// forward moves debounced batches to the consumer channel.
func (h *HybridWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			h.emit(batch)
		}
	}
}

// addRecursive watches dir and every non-ignored directory below it.
// Relative paths for ignore checks always resolve against the watch
// root, not dir, so nested calls see the same rules.
func (h *HybridWatcher) addRecursive(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return h.fsw.Add(path)
		}
		if h.ignored(rel, true) {
			return filepath.SkipDir
		}
		return h.fsw.Add(path)
	})
}

// ignored reports whether a root-relative path is filtered out. The VCS
// and index directories are always skipped.
func (h *HybridWatcher) ignored(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return true
	}
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	if rel == ".corpusmcp" || strings.HasPrefix(rel, ".corpusmcp/") {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ignore.Match(rel, isDir)
}

// reloadIgnores rebuilds the ignore rules from every .gitignore under
// the root. Called once at start and again whenever a .gitignore
// changes.
func (h *HybridWatcher) reloadIgnores() {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.baseMatcher()

	rootIgnore := filepath.Join(h.root, ".gitignore")
	if err := m.AddFromFile(rootIgnore, ""); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("cannot read .gitignore",
			slog.String("path", rootIgnore),
			slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			h.logger.Warn("gitignore scan skipped a directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != h.root && (d.Name() == ".git" || d.Name() == ".corpusmcp") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" || path == rootIgnore {
			return nil
		}

		base, relErr := filepath.Rel(h.root, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if err := m.AddFromFile(path, base); err != nil {
			h.logger.Warn("cannot read nested .gitignore",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})

	h.ignore = m
}

// emit hands a batch to the consumer without blocking the event loop.
// The read lock is held across the send so Stop cannot close the
// channel in between; the send itself never blocks. A consumer that
// falls behind loses whole batches and can compare DroppedBatches
// against zero to decide on a full rescan.
func (h *HybridWatcher) emit(batch []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}
	select {
	case h.events <- batch:
	default:
		n := h.dropped.Add(1)
		h.logger.Warn("watch buffer full, dropping batch",
			slog.Int("events", len(batch)),
			slog.Uint64("dropped_total", n))
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// DroppedBatches counts batches lost to a full consumer buffer.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.dropped.Load()
}

// Stop halts watching and closes Events and Errors. Safe to call more
// than once and from multiple goroutines.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()
	if h.fsw != nil {
		_ = h.fsw.Close()
	}
	if h.poller != nil {
		_ = h.poller.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of coalesced change batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal watch errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy reports whether the watcher is still running.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// Backend names the active mechanism, "fsnotify" or "polling".
func (h *HybridWatcher) Backend() string {
	if h.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Root returns the watched root. Empty before Start.
func (h *HybridWatcher) Root() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}
