package ui

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracker_StartsAtScanStage(t *testing.T) {
	tracker := NewProgressTracker()

	stats := tracker.Stats()
	assert.Equal(t, StageScanning, stats.Stage)
	assert.Zero(t, stats.Current)
	assert.Zero(t, stats.Total)
}

func TestProgressTracker_SetStage_ResetsCounters(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageChunking, 100)
	tracker.Update(42, "internal/foo.go")

	tracker.SetStage(StageEmbedding, 500)

	stats := tracker.Stats()
	assert.Equal(t, StageEmbedding, stats.Stage)
	assert.Equal(t, 500, stats.Total)
	assert.Zero(t, stats.Current)
	assert.Empty(t, stats.CurrentFile)
}

func TestProgressTracker_Update_KeepsLastFile(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageChunking, 10)

	tracker.Update(3, "a.go")
	tracker.Update(4, "")

	stats := tracker.Stats()
	assert.Equal(t, 4, stats.Current)
	assert.Equal(t, "a.go", stats.CurrentFile, "empty file should not clear the last one")
}

func TestProgressTracker_Progress_Fraction(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageEmbedding, 200)
	tracker.Update(50, "")

	assert.InDelta(t, 0.25, tracker.Progress(), 0.001)

	tracker.Update(400, "")
	assert.Equal(t, 1.0, tracker.Progress(), "progress clamps at 1")
}

func TestProgressTracker_Progress_ZeroTotal(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageScanning, 0)
	tracker.Update(10, "")

	assert.Zero(t, tracker.Progress())
	assert.Zero(t, tracker.ETA())
}

func TestProgressTracker_AddError_SplitsWarnings(t *testing.T) {
	tracker := NewProgressTracker()

	tracker.AddError(ErrorEvent{File: "a.go", Err: errors.New("parse failed")})
	tracker.AddError(ErrorEvent{File: "b.go", Err: errors.New("skipped"), IsWarn: true})
	tracker.AddError(ErrorEvent{File: "c.go", Err: errors.New("io")})

	stats := tracker.Stats()
	assert.Equal(t, 2, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarnCount)

	require.Len(t, tracker.Errors(), 2)
	require.Len(t, tracker.Warnings(), 1)
	assert.Equal(t, "b.go", tracker.Warnings()[0].File)
}

func TestProgressTracker_ETA_ShrinksAsProgressGrows(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageEmbedding, 100)

	time.Sleep(20 * time.Millisecond)
	tracker.Update(10, "")
	early := tracker.ETA()
	require.Greater(t, early, time.Duration(0))

	tracker.Update(90, "")
	// Smoothing blends toward the new lower estimate over calls.
	late := tracker.ETA()
	late = tracker.ETA()
	assert.Less(t, late, early)
}

func TestProgressTracker_Elapsed(t *testing.T) {
	tracker := NewProgressTracker()
	time.Sleep(10 * time.Millisecond)

	assert.GreaterOrEqual(t, tracker.Elapsed(), 10*time.Millisecond)
}

func TestProgressTracker_ConcurrentAccess(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageEmbedding, 1000)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tracker.Update(n*200+i, "file.go")
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = tracker.Stats()
				_ = tracker.RenderSparkline(20)
			}
		}()
	}
	wg.Wait()

	stats := tracker.Stats()
	assert.Equal(t, StageEmbedding, stats.Stage)
}

func TestThroughputMeter_SamplesRateLimited(t *testing.T) {
	var m throughputMeter
	base := time.Now()
	m.reset(base)

	// Too soon, no sample yet.
	m.observe(50, base.Add(100*time.Millisecond))
	assert.Zero(t, m.stats().Current)

	// Past the sampling interval: 100 items over 1s.
	m.observe(100, base.Add(time.Second))
	stats := m.stats()
	assert.InDelta(t, 100, stats.Current, 1)
	assert.InDelta(t, 100, stats.Avg, 1)
	assert.InDelta(t, 100, stats.Peak, 1)
}

func TestThroughputMeter_TracksPeak(t *testing.T) {
	var m throughputMeter
	base := time.Now()
	m.reset(base)

	m.observe(100, base.Add(time.Second))
	m.observe(120, base.Add(2*time.Second))

	stats := m.stats()
	assert.InDelta(t, 20, stats.Current, 1)
	assert.InDelta(t, 100, stats.Peak, 1)
}
