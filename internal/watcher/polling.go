package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by walking the tree on an interval and
// diffing mtime and size against the previous pass. It backs
// HybridWatcher on filesystems that cannot deliver events.
type PollingWatcher struct {
	interval time.Duration
	logger   *slog.Logger
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}

	mu      sync.Mutex
	seen    map[string]snapshot
	root    string
	stopped bool
}

type snapshot struct {
	mtime time.Time
	size  int64
	dir   bool
}

// NewPollingWatcher creates a polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration, logger *slog.Logger) *PollingWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		interval: interval,
		logger:   logger,
		seen:     make(map[string]snapshot),
		events:   make(chan FileEvent, 256),
		errors:   make(chan error, 8),
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, scanning root every interval until the context ends or
// Stop is called. The first scan only records a baseline; files that
// already exist produce no events.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}

	p.mu.Lock()
	p.root = abs
	p.mu.Unlock()

	if err := p.baseline(); err != nil {
		return fmt.Errorf("initial scan of %s: %w", abs, err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.sweep(); err != nil {
				p.emitError(err)
			}
		}
	}
}

// Stop halts polling and closes Events and Errors. Safe to call more
// than once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of observed changes.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of non-fatal sweep errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// baseline records the current tree state without emitting events.
func (p *PollingWatcher) baseline() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := os.Stat(p.root); err != nil {
		return err
	}

	return p.walk(func(rel string, snap snapshot) {
		p.seen[rel] = snap
	})
}

// sweep walks the tree, emits events for anything that changed since the
// last pass, and replaces the recorded state.
func (p *PollingWatcher) sweep() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]snapshot, len(p.seen))
	err := p.walk(func(rel string, snap snapshot) {
		current[rel] = snap

		prev, known := p.seen[rel]
		switch {
		case !known:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: snap.dir, Timestamp: time.Now()})
		case prev.mtime != snap.mtime || prev.size != snap.size:
			p.emit(FileEvent{Path: rel, Operation: OpModify, IsDir: snap.dir, Timestamp: time.Now()})
		}
	})
	if err != nil {
		return fmt.Errorf("scan for changes: %w", err)
	}

	for rel, prev := range p.seen {
		if _, still := current[rel]; !still {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: prev.dir, Timestamp: time.Now()})
		}
	}

	p.seen = current
	return nil
}

// walk visits every entry under the root except the VCS and index
// directories, which never feed the indexer and would otherwise make
// every sweep touch index writes. Unreadable entries are skipped.
// Caller holds p.mu.
func (p *PollingWatcher) walk(fn func(rel string, snap snapshot)) error {
	return filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if d.IsDir() && (d.Name() == ".git" || d.Name() == ".corpusmcp") {
			return filepath.SkipDir
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		fn(rel, snapshot{mtime: info.ModTime(), size: info.Size(), dir: d.IsDir()})
		return nil
	})
}

// emit sends without blocking the sweep. Caller holds p.mu, which also
// serializes against Stop closing the channel.
func (p *PollingWatcher) emit(ev FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("polling buffer full, dropping event",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()))
	}
}

func (p *PollingWatcher) emitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}
