package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer drives the bubbletea progress view on an interactive
// terminal.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates the TUI renderer. It fails when the output is
// not a terminal; NewRenderer falls back to plain mode on that error.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.ProjectDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer. The bubbletea program runs on its own
// goroutine until Complete or Stop.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	_, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. A TUI that ignores Quit is abandoned after
// a short wait so Ctrl+C never hangs the process.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

var _ Renderer = (*TUIRenderer)(nil)

type (
	progressUpdateMsg ProgressEvent
	errorMsg          ErrorEvent
	completeMsg       CompletionStats
	tickMsg           time.Time
)

// indexingModel is the bubbletea model behind the progress view.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	height      int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	projectDir  string
}

func newIndexingModel(tracker *ProgressTracker, projectDir string) *indexingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))

	bar := progress.New(
		progress.WithSolidFill(colorAccent),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		spinner:     sp,
		progressBar: bar,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		projectDir:  projectDir,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "ctrl+c" || s == "q" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if w := msg.Width - 20; w >= 20 {
			m.progressBar.Width = w
		} else {
			m.progressBar.Width = 20
		}

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickEvery()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressUpdateMsg, errorMsg:
		// State lives in the tracker; a redraw happens on the next tick.
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.completionView()
	}

	width := m.contentWidth()
	divider := m.styles.Border.Render(strings.Repeat("─", width))

	rows := []string{
		m.stageRow(),
		divider,
		m.progressRow(),
		m.speedRow(),
		divider,
		m.sparklineRow(width),
	}
	if file := m.tracker.Stats().CurrentFile; file != "" {
		rows = append(rows, divider, m.styles.Dim.Render(truncateFilePath(file, width-2)))
	}

	title := "corpusmcp indexer"
	if m.projectDir != "" {
		title += " • " + m.projectDir
	}
	body := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorFaint)).
		Padding(0, 1).
		Width(width).
		Render(strings.Join(rows, "\n"))

	panel := lipgloss.JoinVertical(lipgloss.Left, m.styles.Header.Render(title), body)
	return panel + "\n" + m.statusBar()
}

func (m *indexingModel) contentWidth() int {
	if w := m.width - 4; w >= 40 {
		return w
	}
	return 40
}

// stageRow renders the pipeline with a marker per stage: done, active
// (spinner), or pending.
func (m *indexingModel) stageRow() string {
	active := m.tracker.Stats().Stage

	order := []struct {
		stage Stage
		label string
	}{
		{StageScanning, "Scan"},
		{StageChunking, "Chunk"},
		{StageGraph, "Graph"},
		{StageEmbedding, "Embed"},
		{StageIndexing, "Index"},
	}

	parts := make([]string, 0, len(order))
	for _, s := range order {
		switch {
		case s.stage < active:
			parts = append(parts, m.styles.Success.Render("● "+s.label))
		case s.stage == active:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.label))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.label))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexingModel) progressRow() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...\n%s",
			m.spinner.View(), stats.Stage, m.styles.Dim.Render("Preparing..."))
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	counts := m.styles.Label.Render(fmt.Sprintf("%d / %d chunks", stats.Current, stats.Total))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, counts)
}

func (m *indexingModel) speedRow() string {
	stats := m.tracker.Stats()

	speed := fmt.Sprintf("Speed: %.0f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts := []string{m.styles.Speed.Render(speed)}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *indexingModel) sparklineRow(width int) string {
	sparkWidth := width - 10
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	spark := m.tracker.RenderSparkline(sparkWidth)
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("throughput ─")
}

func (m *indexingModel) statusBar() string {
	stats := m.tracker.Stats()
	hint := m.styles.Dim.Render("q to quit")

	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return hint
	}
	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + sep + hint
}

// completionView is the final summary panel.
func (m *indexingModel) completionView() string {
	lines := []string{
		m.styles.Success.Render("✓ Indexing Complete"),
		"",
		m.summaryLine("Files:", fmt.Sprintf("%d", m.stats.Files)),
		m.summaryLine("Chunks:", fmt.Sprintf("%d", m.stats.Chunks)),
		m.summaryLine("Duration:", formatDuration(m.stats.Duration)),
	}

	if speed := m.tracker.SpeedStats(); speed.Avg > 0 {
		lines = append(lines, m.summaryLine("Avg Speed:",
			fmt.Sprintf("%.0f chunks/sec", speed.Avg)))
	}

	if m.stats.Stages.Scan > 0 || m.stats.Stages.Embed > 0 {
		lines = append(lines, "", m.styles.Label.Render("Stages:"))
		for _, row := range []struct {
			name string
			d    time.Duration
		}{
			{"scan", m.stats.Stages.Scan},
			{"chunk", m.stats.Stages.Chunk},
			{"graph", m.stats.Stages.Graph},
			{"embed", m.stats.Stages.Embed},
			{"index", m.stats.Stages.Index},
		} {
			if row.d > 0 {
				lines = append(lines, fmt.Sprintf("  %-6s %s", row.name, m.styles.Dim.Render(formatDuration(row.d))))
			}
		}
	}

	if m.stats.Embedder.Backend != "" {
		lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("%s (%s, %d dims)",
			m.stats.Embedder.Backend, m.stats.Embedder.Model, m.stats.Embedder.Dimensions)))
	}

	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorAccent)).
		Padding(1, 2).
		Width(m.contentWidth())

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func (m *indexingModel) summaryLine(label, value string) string {
	return fmt.Sprintf("%-10s %s", m.styles.Label.Render(label), m.styles.Active.Render(value))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		mins, secs := int(d.Minutes()), int(d.Seconds())%60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens a path to maxLen, preferring to keep the
// filename intact and trim from the front.
func truncateFilePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}

	filename := parts[len(parts)-1]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}

	budget := maxLen - len(filename) - 4
	prefix := strings.Join(parts[:len(parts)-1], "/")
	if len(prefix) <= budget {
		return path
	}
	return "..." + prefix[len(prefix)-budget:] + "/" + filename
}
