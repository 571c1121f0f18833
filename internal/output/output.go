// Package output is the plain status writer for CLI commands. Build
// progress has its own renderer in internal/ui; everything else a command
// says to the user goes through this writer so icons and indentation stay
// consistent across commands.
package output

import (
	"fmt"
	"io"
)

// Writer prints status lines to a command's stdout.
type Writer struct {
	out io.Writer
}

// New creates a Writer. Write errors are ignored throughout; there is no
// recovery from a broken console pipe.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints one line prefixed with icon. An empty icon indents the
// line to align with iconed lines above it.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a checkmarked line.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
