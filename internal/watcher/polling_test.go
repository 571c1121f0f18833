package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPoller(t *testing.T, root string) *PollingWatcher {
	t.Helper()

	w := NewPollingWatcher(50*time.Millisecond, testLogger())
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = w.Start(ctx, root) }()
	time.Sleep(100 * time.Millisecond) // let the baseline scan finish
	return w
}

func TestPollingWatcher_DetectsFileCreation(t *testing.T) {
	root := t.TempDir()
	w := startPoller(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package main"), 0o644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, OpCreate, ev.Operation)
		assert.Equal(t, "new.go", ev.Path)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for create event")
	}
}

func TestPollingWatcher_DetectsFileModification(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "existing.go")
	require.NoError(t, os.WriteFile(file, []byte("package main"), 0o644))

	w := startPoller(t, root)

	time.Sleep(50 * time.Millisecond) // mtime granularity
	require.NoError(t, os.WriteFile(file, []byte("package main\nfunc main() {}"), 0o644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, OpModify, ev.Operation)
		assert.Equal(t, "existing.go", ev.Path)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for modify event")
	}
}

func TestPollingWatcher_DetectsFileDeletion(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "doomed.go")
	require.NoError(t, os.WriteFile(file, []byte("package main"), 0o644))

	w := startPoller(t, root)

	require.NoError(t, os.Remove(file))

	select {
	case ev := <-w.Events():
		assert.Equal(t, OpDelete, ev.Operation)
		assert.Equal(t, "doomed.go", ev.Path)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delete event")
	}
}

func TestPollingWatcher_DetectsNewDirectory(t *testing.T) {
	root := t.TempDir()
	w := startPoller(t, root)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "file.go"), []byte("package sub"), 0o644))

	events := collectEvents(w.Events(), 2, time.Second)
	require.NotEmpty(t, events)

	var gotFile bool
	for _, ev := range events {
		if ev.Operation == OpCreate && !ev.IsDir {
			gotFile = true
		}
	}
	assert.True(t, gotFile, "expected a create event for the new file")
}

func TestPollingWatcher_SkipsIndexAndGitDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".corpusmcp"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	w := startPoller(t, root)

	// Index writes and VCS churn must not turn into events.
	require.NoError(t, os.WriteFile(filepath.Join(root, ".corpusmcp", "meta.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	events := collectEvents(w.Events(), 3, time.Second)
	require.NotEmpty(t, events)

	for _, ev := range events {
		assert.Equal(t, "main.go", ev.Path, "only the source file should surface")
	}
}

func TestPollingWatcher_StopClosesChannels(t *testing.T) {
	root := t.TempDir()
	w := startPoller(t, root)

	require.NoError(t, w.Stop())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestPollingWatcher_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	w := NewPollingWatcher(50*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, root) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}

func TestPollingWatcher_StartMissingRootFails(t *testing.T) {
	w := NewPollingWatcher(50*time.Millisecond, testLogger())
	defer func() { _ = w.Stop() }()

	err := w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial scan")
}

// collectEvents drains up to n events or until the timeout elapses.
func collectEvents(ch <-chan FileEvent, n int, timeout time.Duration) []FileEvent {
	var events []FileEvent
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timer.C:
			return events
		}
	}
	return events
}
