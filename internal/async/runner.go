package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// markerFile flags an in-flight build. Finding one on startup means the
// previous build died before finishing and the index may be incomplete.
const markerFile = "build.marker"

// BuildFunc performs the build, reporting progress through the tracker.
type BuildFunc func(ctx context.Context, tracker *Tracker) error

// Options configures a Runner.
type Options struct {
	// DataDir is where the in-flight marker file lives.
	DataDir string

	// Build is the work to run. Required.
	Build BuildFunc

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Runner executes one build on a background goroutine so the caller can
// keep serving requests.
type Runner struct {
	dataDir string
	build   BuildFunc
	logger  *slog.Logger
	tracker *Tracker

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewRunner creates a runner for a single build.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dataDir: opts.DataDir,
		build:   opts.Build,
		logger:  logger,
		tracker: NewTracker(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Tracker returns the progress tracker for status queries.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// IsRunning reports whether the build goroutine is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the build and returns immediately. A second call while
// the build is running is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := r.mark(); err != nil {
		r.fail(err)
		return
	}
	defer r.unmark()

	if err := r.build(ctx, r.tracker); err != nil {
		r.fail(err)
		return
	}
	r.tracker.SetReady()
}

func (r *Runner) fail(err error) {
	r.tracker.SetError(err.Error())
	r.logger.Error("background build failed", slog.String("error", err.Error()))

	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// mark drops the in-flight marker so a crash is detectable on the next
// start.
func (r *Runner) mark() error {
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.dataDir, markerFile)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644)
}

func (r *Runner) unmark() {
	_ = os.Remove(filepath.Join(r.dataDir, markerFile))
}

// Stop cancels the build and waits for the goroutine to exit. Safe to
// call more than once and from multiple goroutines.
func (r *Runner) Stop() {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return
	}

	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Wait blocks until a started build finishes and returns its error.
func (r *Runner) Wait() error {
	<-r.doneCh
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Interrupted reports whether a previous build left its marker behind,
// meaning it died before finishing. The next build should force a full
// rebuild.
func Interrupted(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, markerFile))
	return err == nil
}

// ClearInterrupted removes a leftover build marker. Callers that
// complete a foreground rebuild use this so the next start does not
// force another one.
func ClearInterrupted(dataDir string) {
	_ = os.Remove(filepath.Join(dataDir, markerFile))
}
