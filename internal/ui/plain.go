package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one line per progress event. It is the renderer
// for pipes, CI, and --no-tui.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

// UpdateProgress prints "[STAGE] current/total - detail". Events with
// no total and no detail are dropped rather than printing a bare tag.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	detail := event.Message
	if detail == "" {
		detail = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, detail)
	case detail != "":
		fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), detail)
	}
}

// AddError prints the error immediately with an ERROR or WARN prefix.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
		return
	}
	fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete prints the summary line, then the per-stage breakdown and
// embedder info when the build recorded them.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "Complete: %d files, %d chunks indexed in %s",
		stats.Files, stats.Chunks, roundMs(stats.Duration))
	if stats.Errors > 0 || stats.Warnings > 0 {
		fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	fmt.Fprintln(r.out)

	if stats.Stages.Scan > 0 || stats.Stages.Embed > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "Stage Breakdown:")
		fmt.Fprintf(r.out, "  Scan:    %s (files discovered)\n", roundMs(stats.Stages.Scan))
		fmt.Fprintf(r.out, "  Chunk:   %s (code parsed)\n", roundMs(stats.Stages.Chunk))
		if stats.Stages.Graph > 0 {
			fmt.Fprintf(r.out, "  Graph:   %s (symbols + calls)\n", roundMs(stats.Stages.Graph))
		}
		if stats.Stages.Embed > 0 && stats.Chunks > 0 {
			rate := float64(stats.Chunks) / stats.Stages.Embed.Seconds()
			fmt.Fprintf(r.out, "  Embed:   %s (%d chunks @ %.1f/sec)\n",
				roundMs(stats.Stages.Embed), stats.Chunks, rate)
		}
		fmt.Fprintf(r.out, "  Index:   %s (BM25 + vector)\n", roundMs(stats.Stages.Index))
	}

	if stats.Embedder.Backend != "" {
		fmt.Fprintln(r.out)
		fmt.Fprintf(r.out, "Backend: %s (%s, %d dims)\n",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

func roundMs(d time.Duration) time.Duration {
	return d.Round(100 * time.Millisecond)
}
