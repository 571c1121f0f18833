package watcher

import (
	"log/slog"
	"time"
)

// Operation classifies a filesystem change.
type Operation int

const (
	// OpCreate is a new file or directory.
	OpCreate Operation = iota
	// OpModify is a content change to an existing file.
	OpModify
	// OpDelete is a removed file or directory.
	OpDelete
	// OpRename is a rename; fsnotify reports it against the old path, and
	// the new path arrives as a separate OpCreate.
	OpRename
	// OpGitignoreChange is an edit to a .gitignore file. The watcher has
	// already reloaded its own ignore rules when this is delivered;
	// consumers should reconcile the index so newly-ignored files leave
	// and newly-unignored files join.
	OpGitignoreChange
	// OpConfigChange is an edit to .corpusmcp.yaml or .corpusmcp.yml.
	OpConfigChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a single observed change.
type FileEvent struct {
	// Path is relative to the watched root.
	Path string

	// Operation is the kind of change.
	Operation Operation

	// IsDir marks directory events.
	IsDir bool

	// Timestamp is when the change was observed.
	Timestamp time.Time
}

// Options configures a watcher.
type Options struct {
	// Debounce is the quiet window before a change batch is flushed.
	Debounce time.Duration

	// PollInterval is the scan cadence when falling back to polling.
	PollInterval time.Duration

	// BufferSize caps queued event batches. When the consumer falls this
	// far behind, whole batches are dropped and counted.
	BufferSize int

	// Ignore holds extra gitignore-syntax patterns applied on top of the
	// watched tree's own .gitignore files.
	Ignore []string

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:     500 * time.Millisecond,
		PollInterval: 5 * time.Second,
		BufferSize:   64,
	}
}

// WithDefaults fills zero values with defaults.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = def.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
