// Package output formats CLI output: status lines, search hits, key/value
// listings and a progress bar for terminals.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out         io.Writer
	interactive bool
	useColor    bool
}

// New creates a Writer. Color and in-place progress are enabled only when
// out is a terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	tty := IsTerminal(out)
	return &Writer{
		out:         out,
		interactive: tty,
		useColor:    tty && !noColor(),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func noColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// Interactive reports whether the Writer targets a terminal.
func (w *Writer) Interactive() bool {
	return w.interactive
}

func (w *Writer) style(code, s string) string {
	if !w.useColor {
		return s
	}
	return code + s + ansiReset
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Hit prints one ranked search result.
func (w *Writer) Hit(rank int, id string, score float64, terms []string) {
	line := fmt.Sprintf("%2d. %s  %s", rank, w.style(ansiBold, id), w.style(ansiGreen, fmt.Sprintf("%.3f", score)))
	if len(terms) > 0 {
		line += "  " + w.style(ansiDim, "["+strings.Join(terms, ", ")+"]")
	}
	_, _ = fmt.Fprintln(w.out, line)
}

// Field prints an indented key/value line of a hit or listing.
func (w *Writer) Field(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "    %s %v\n", w.style(ansiDim, key+":"), value)
}

// KeyValues prints pairs with aligned values. pairs alternates keys and values.
func (w *Writer) KeyValues(pairs ...any) {
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		if n := len(fmt.Sprint(pairs[i])); n > width {
			width = n
		}
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		key := fmt.Sprintf("%-*s", width+1, fmt.Sprint(pairs[i])+":")
		_, _ = fmt.Fprintf(w.out, "%s %v\n", w.style(ansiBold, key), pairs[i+1])
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints a progress bar with message. It is a no-op unless the
// Writer is interactive.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 || !w.interactive {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)

	// Carriage return updates the line in place.
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	filled = min(max(filled, 0), width)

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
