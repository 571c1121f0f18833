// Package async runs index builds on a background goroutine so the MCP
// server can answer tool calls while the index is still warming up.
package async

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/corpusmcp/corpusmcp/internal/ui"
)

// BuildState is the overall state of a background build.
type BuildState string

const (
	// StateBuilding means the build is still running; search results may
	// be incomplete.
	StateBuilding BuildState = "building"
	// StateReady means the build finished and the index is searchable.
	StateReady BuildState = "ready"
	// StateError means the build failed.
	StateError BuildState = "error"
)

// Snapshot is a point-in-time copy of build progress, shaped for the
// index_status tool response.
type Snapshot struct {
	State          string  `json:"state"`
	Stage          string  `json:"stage"`
	CurrentFile    string  `json:"current_file,omitempty"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	ProgressPct    float64 `json:"progress_pct"`
	Files          int     `json:"files_indexed"`
	Chunks         int     `json:"chunks_indexed"`
	Errors         int     `json:"errors"`
	Warnings       int     `json:"warnings"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
}

// Tracker accumulates build progress for status queries. It implements
// ui.Renderer, so a background build reports through the same interface
// the terminal renderers use; Current and Total are per-stage counts,
// exactly as the pipeline emits them.
type Tracker struct {
	mu sync.RWMutex

	state       BuildState
	stage       ui.Stage
	current     int
	total       int
	currentFile string
	files       int
	chunks      int
	errors      int
	warnings    int
	started     time.Time
	failure     string
}

var _ ui.Renderer = (*Tracker)(nil)

// NewTracker creates a tracker in the building state with the clock
// running.
func NewTracker() *Tracker {
	return &Tracker{
		state:   StateBuilding,
		stage:   ui.StageScanning,
		started: time.Now(),
	}
}

// Start implements ui.Renderer. The clock runs from NewTracker.
func (t *Tracker) Start(context.Context) error { return nil }

// Stop implements ui.Renderer.
func (t *Tracker) Stop() error { return nil }

// UpdateProgress records the pipeline's current stage and position.
func (t *Tracker) UpdateProgress(ev ui.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stage = ev.Stage
	t.current = ev.Current
	t.total = ev.Total
	t.currentFile = ev.CurrentFile
}

// AddError counts per-file failures without aborting anything.
func (t *Tracker) AddError(ev ui.ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.IsWarn {
		t.warnings++
		return
	}
	t.errors++
}

// Complete accumulates one backend's completion stats. Partitioned
// builds call this once per partition; the ready state is the runner's
// call, once every partition is done.
func (t *Tracker) Complete(stats ui.CompletionStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.files += stats.Files
	t.chunks += stats.Chunks
}

// SetReady marks the build finished and the index searchable.
func (t *Tracker) SetReady() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateReady
	t.stage = ui.StageComplete
}

// SetError marks the build failed.
func (t *Tracker) SetError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateError
	t.failure = message
}

// Building reports whether the build is still running.
func (t *Tracker) Building() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == StateBuilding
}

// Snapshot copies the current progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var pct float64
	switch {
	case t.state == StateReady:
		pct = 100
	case t.total > 0:
		pct = float64(t.current) / float64(t.total) * 100
	}

	return Snapshot{
		State:          string(t.state),
		Stage:          strings.ToLower(t.stage.String()),
		CurrentFile:    t.currentFile,
		Current:        t.current,
		Total:          t.total,
		ProgressPct:    pct,
		Files:          t.files,
		Chunks:         t.chunks,
		Errors:         t.errors,
		Warnings:       t.warnings,
		ElapsedSeconds: int(time.Since(t.started).Seconds()),
		Error:          t.failure,
	}
}
