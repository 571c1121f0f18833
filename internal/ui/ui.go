// Package ui renders build progress to the terminal. Interactive
// terminals get the bubbletea TUI, everything else a line printer.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage identifies a phase of the build pipeline.
type Stage int

const (
	StageScanning Stage = iota
	StageChunking
	StageGraph
	StageEmbedding
	StageIndexing
	StageComplete
)

var stageNames = map[Stage]struct{ long, short string }{
	StageScanning:  {"Scanning", "SCAN"},
	StageChunking:  {"Chunking", "CHUNK"},
	StageGraph:     {"Graph", "GRAPH"},
	StageEmbedding: {"Embedding", "EMBED"},
	StageIndexing:  {"Indexing", "INDEX"},
	StageComplete:  {"Complete", "DONE"},
}

// String returns the long stage name.
func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n.long
	}
	return "Unknown"
}

// Icon returns the bracketed tag used by the plain renderer.
func (s Stage) Icon() string {
	if n, ok := stageNames[s]; ok {
		return n.short
	}
	return "???"
}

// ProgressEvent is one progress update from the build.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent reports a per-file failure. IsWarn marks failures the
// build continued past.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings is the per-stage duration breakdown of a build.
type StageTimings struct {
	Scan  time.Duration
	Chunk time.Duration
	Graph time.Duration
	Embed time.Duration
	Index time.Duration
}

// EmbedderInfo names the embedding backend a build used.
type EmbedderInfo struct {
	Backend    string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished build.
type CompletionStats struct {
	Files    int
	Chunks   int
	Duration time.Duration
	Errors   int
	Warnings int
	Stages   StageTimings
	Embedder EmbedderInfo
}

// Renderer receives build progress and draws it somewhere.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config selects a renderer and its behavior.
type Config struct {
	Output       io.Writer
	ForcePlain   bool
	NoColor      bool
	SpinnerStyle string
	// ProjectDir shows in the TUI header.
	ProjectDir string
}

// ConfigOption mutates a Config.
type ConfigOption func(*Config)

// WithForcePlain forces the line printer even on a TTY.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor strips color from TUI output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithSpinnerStyle sets the TUI spinner style.
func WithSpinnerStyle(style string) ConfigOption {
	return func(c *Config) { c.SpinnerStyle = style }
}

// WithProjectDir sets the project path shown in the TUI header.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig builds a Config for the given output with options applied.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, SpinnerStyle: "dots"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the renderer for the environment: plain for forced
// plain mode, non-TTY output, or CI; the TUI otherwise.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// DetectCI reports whether a known CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
