package ui

import (
	"sync"
	"time"
)

// speedSampleEvery rate-limits throughput sampling so per-batch jitter
// does not dominate the numbers.
const speedSampleEvery = 500 * time.Millisecond

// etaSmoothing blends each fresh ETA estimate with the previous one.
// Embedding batches vary enough that the raw estimate jumps around.
const etaSmoothing = 0.3

// SpeedStats is a throughput snapshot in items per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a point-in-time snapshot of the tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// ProgressTracker accumulates progress across build stages. All
// methods are safe for concurrent use; the build goroutine writes
// while the render loop reads.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	smoothedETA time.Duration
	errors      []ErrorEvent
	warnings    []ErrorEvent
	meter       throughputMeter
}

// NewProgressTracker creates a tracker positioned at the scan stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	t := &ProgressTracker{
		stage:      StageScanning,
		startTime:  now,
		stageStart: now,
	}
	t.meter.reset(now)
	return t
}

// SetStage moves to a new stage and resets per-stage counters.
func (t *ProgressTracker) SetStage(stage Stage, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.stage = stage
	t.total = total
	t.current = 0
	t.currentFile = ""
	t.stageStart = now
	t.smoothedETA = 0
	t.meter.reset(now)
}

// Update advances progress within the current stage.
func (t *ProgressTracker) Update(current int, file string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = current
	if file != "" {
		t.currentFile = file
	}
	t.meter.observe(current, time.Now())
}

// AddError records an error or, when IsWarn is set, a warning.
func (t *ProgressTracker) AddError(event ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if event.IsWarn {
		t.warnings = append(t.warnings, event)
	} else {
		t.errors = append(t.errors, event)
	}
}

// Progress returns stage completion in [0, 1].
func (t *ProgressTracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fraction()
}

// ETA estimates remaining time for the current stage.
func (t *ProgressTracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimateETA()
}

// Elapsed returns time since the tracker was created.
func (t *ProgressTracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.startTime)
}

// Stats returns a consistent snapshot of everything the views render.
func (t *ProgressTracker) Stats() ProgressStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ProgressStats{
		Stage:       t.stage,
		Current:     t.current,
		Total:       t.total,
		Progress:    t.fraction(),
		ETA:         t.estimateETA(),
		CurrentFile: t.currentFile,
		ErrorCount:  len(t.errors),
		WarnCount:   len(t.warnings),
		Speed:       t.meter.stats(),
	}
}

// SpeedStats returns the current throughput numbers.
func (t *ProgressTracker) SpeedStats() SpeedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meter.stats()
}

// Errors returns a copy of recorded errors.
func (t *ProgressTracker) Errors() []ErrorEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorEvent, len(t.errors))
	copy(out, t.errors)
	return out
}

// Warnings returns a copy of recorded warnings.
func (t *ProgressTracker) Warnings() []ErrorEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorEvent, len(t.warnings))
	copy(out, t.warnings)
	return out
}

// RenderSparkline draws the throughput history at the given width.
func (t *ProgressTracker) RenderSparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meter.spark.Render(width)
}

// fraction computes stage completion; callers hold the lock.
func (t *ProgressTracker) fraction() float64 {
	if t.total == 0 {
		return 0
	}
	f := float64(t.current) / float64(t.total)
	if f > 1 {
		return 1
	}
	return f
}

// estimateETA extrapolates from stage elapsed time, smoothed against
// the previous estimate; callers hold the lock.
func (t *ProgressTracker) estimateETA() time.Duration {
	f := t.fraction()
	if f <= 0 || f >= 1 {
		return 0
	}
	elapsed := time.Since(t.stageStart)
	raw := time.Duration(float64(elapsed)/f) - elapsed
	if raw < 0 {
		raw = 0
	}
	if t.smoothedETA == 0 {
		t.smoothedETA = raw
	} else {
		t.smoothedETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(t.smoothedETA))
	}
	return t.smoothedETA
}

// throughputMeter derives items/sec from progress counters. It samples
// at most once per speedSampleEvery and feeds each sample into the
// sparkline window.
type throughputMeter struct {
	lastCount int
	lastAt    time.Time
	current   float64
	avg       float64
	peak      float64
	sampled   bool
	spark     *Sparkline
}

func (m *throughputMeter) reset(now time.Time) {
	m.lastCount = 0
	m.lastAt = now
	m.current = 0
	m.avg = 0
	m.peak = 0
	m.sampled = false
	if m.spark == nil {
		m.spark = NewSparkline(60)
	} else {
		m.spark.Reset()
	}
}

func (m *throughputMeter) observe(count int, now time.Time) {
	elapsed := now.Sub(m.lastAt)
	if elapsed < speedSampleEvery {
		return
	}
	delta := count - m.lastCount
	m.lastCount = count
	m.lastAt = now
	if delta <= 0 {
		return
	}

	speed := float64(delta) / elapsed.Seconds()
	m.current = speed
	if !m.sampled {
		m.avg = speed
		m.sampled = true
	} else {
		// Exponential smoothing, responsive but stable.
		m.avg = 0.2*speed + 0.8*m.avg
	}
	if speed > m.peak {
		m.peak = speed
	}
	m.spark.Push(speed)
}

func (m *throughputMeter) stats() SpeedStats {
	return SpeedStats{Current: m.current, Avg: m.avg, Peak: m.peak}
}
