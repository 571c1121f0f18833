package async

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusmcp/corpusmcp/internal/ui"
)

func TestNewTracker(t *testing.T) {
	tr := NewTracker()

	require.NotNil(t, tr)
	assert.True(t, tr.Building())

	snap := tr.Snapshot()
	assert.Equal(t, "building", snap.State)
	assert.Equal(t, "scanning", snap.Stage)
	assert.Zero(t, snap.Current)
	assert.Zero(t, snap.Total)
	assert.GreaterOrEqual(t, snap.ElapsedSeconds, 0)
}

func TestTracker_UpdateProgress(t *testing.T) {
	tr := NewTracker()

	tr.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageGraph,
		Current:     7,
		Total:       42,
		CurrentFile: "internal/auth/login.go",
	})

	snap := tr.Snapshot()
	assert.Equal(t, "graph", snap.Stage)
	assert.Equal(t, 7, snap.Current)
	assert.Equal(t, 42, snap.Total)
	assert.Equal(t, "internal/auth/login.go", snap.CurrentFile)
}

func TestTracker_AddError(t *testing.T) {
	tr := NewTracker()

	tr.AddError(ui.ErrorEvent{File: "a.go", Err: errors.New("parse failed"), IsWarn: true})
	tr.AddError(ui.ErrorEvent{File: "b.go", Err: errors.New("unreadable"), IsWarn: true})
	tr.AddError(ui.ErrorEvent{File: "c.go", Err: errors.New("store rejected")})

	snap := tr.Snapshot()
	assert.Equal(t, 2, snap.Warnings)
	assert.Equal(t, 1, snap.Errors)
	assert.True(t, tr.Building(), "per-file errors do not fail the build")
}

func TestTracker_CompleteAccumulatesAcrossPartitions(t *testing.T) {
	tr := NewTracker()

	tr.Complete(ui.CompletionStats{Files: 10, Chunks: 80})
	tr.Complete(ui.CompletionStats{Files: 4, Chunks: 25})

	snap := tr.Snapshot()
	assert.Equal(t, 14, snap.Files)
	assert.Equal(t, 105, snap.Chunks)
	assert.Equal(t, "building", snap.State, "completion stats alone do not flip the state")
}

func TestTracker_SetError(t *testing.T) {
	tr := NewTracker()

	tr.SetError("embedder unreachable")

	snap := tr.Snapshot()
	assert.Equal(t, "error", snap.State)
	assert.Equal(t, "embedder unreachable", snap.Error)
	assert.False(t, tr.Building())
}

func TestTracker_SetReady(t *testing.T) {
	tr := NewTracker()
	tr.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: 50, Total: 100})

	tr.SetReady()

	snap := tr.Snapshot()
	assert.Equal(t, "ready", snap.State)
	assert.Equal(t, "complete", snap.Stage)
	assert.Equal(t, 100.0, snap.ProgressPct)
	assert.False(t, tr.Building())
}

func TestTracker_ProgressPct(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		want    float64
	}{
		{"zero total is zero", 0, 0, 0},
		{"half", 50, 100, 50},
		{"full", 100, 100, 100},
		{"partial", 333, 1000, 33.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: tt.current, Total: tt.total})

			assert.InDelta(t, tt.want, tr.Snapshot().ProgressPct, 0.1)
		})
	}
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Current: 50, Total: 100})

	snap1 := tr.Snapshot()
	tr.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Current: 75, Total: 100})
	snap2 := tr.Snapshot()

	assert.Equal(t, 50, snap1.Current)
	assert.Equal(t, 75, snap2.Current)
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			tr.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: n, Total: 100})
			tr.AddError(ui.ErrorEvent{IsWarn: n%2 == 0})
		}(i)
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
			_ = tr.Building()
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, 100, snap.Warnings+snap.Errors)
}
