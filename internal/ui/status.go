package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is the aggregate index state shown by the status command.
type StatusInfo struct {
	ProjectName string `json:"project_name"`
	Mode        string `json:"mode"` // "single" or "partitioned"

	TotalFiles   int       `json:"total_files"`
	TotalChunks  int       `json:"total_chunks"`
	TotalSymbols int       `json:"total_symbols"`
	TotalEdges   int       `json:"total_edges"`
	LastIndexed  time.Time `json:"last_indexed"`

	// Partitions is empty in single mode.
	Partitions []PartitionStatus `json:"partitions,omitempty"`

	// StorageSize is the on-disk footprint of all index stores in bytes.
	StorageSize int64 `json:"storage_size"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model,omitempty"`
	EmbedderStatus   string `json:"embedder_status"` // "ready", "offline"

	// Health is the worst status across every backend.
	Health string `json:"health"`
}

// PartitionStatus is one partition's line in the status display.
type PartitionStatus struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Files   int    `json:"files"`
	Chunks  int    `json:"chunks"`
	Symbols int    `json:"symbols"`
	Health  string `json:"health"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.ProjectName))

	_, _ = fmt.Fprintf(r.out, "  Mode:         %s\n", info.Mode)
	_, _ = fmt.Fprintf(r.out, "  Files:        %d\n", info.TotalFiles)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.TotalChunks)
	_, _ = fmt.Fprintf(r.out, "  Symbols:      %d\n", info.TotalSymbols)
	_, _ = fmt.Fprintf(r.out, "  Edges:        %d\n", info.TotalEdges)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(info.Partitions) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Partitions:")
		nameWidth := 0
		for _, p := range info.Partitions {
			if len(p.Name) > nameWidth {
				nameWidth = len(p.Name)
			}
		}
		for _, p := range info.Partitions {
			_, _ = fmt.Fprintf(r.out, "    %-*s  %d files, %d chunks, %d symbols  %s\n",
				nameWidth, p.Name, p.Files, p.Chunks, p.Symbols, r.renderStatus(p.Health))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	_, _ = fmt.Fprintf(r.out, "  Storage:      %s\n", FormatBytes(info.StorageSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Provider: %s\n", info.EmbedderProvider)
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:    %s\n", info.EmbedderModel)
	}
	_, _ = fmt.Fprintf(r.out, "    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintf(r.out, "  Health: %s\n", r.renderStatus(info.Health))

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "healthy", "ready", "running":
		return r.styles.Success.Render(status)
	case "degraded", "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "unhealthy", "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
