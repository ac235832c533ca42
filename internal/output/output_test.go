package output

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Opening catalog") }, []string{"🔍", "Opening catalog"}},
		{"status without icon", func(w *Writer) { w.Status("", "indented") }, []string{"   indented"}},
		{"statusf", func(w *Writer) { w.Statusf("📂", "Found %d documents in %s", 42, "catalog") }, []string{"Found 42 documents in catalog"}},
		{"success", func(w *Writer) { w.Successf("Committed generation %d", 3) }, []string{"✅", "Committed generation 3"}},
		{"warning", func(w *Writer) { w.Warningf("skipped %d lines", 2) }, []string{"⚠️", "skipped 2 lines"}},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "lock held") }, []string{"❌", "failed: lock held"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a writer with a buffer
			buf := &bytes.Buffer{}
			w := New(buf)

			// When: writing
			tt.write(w)

			// Then: every fragment appears
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestWriter_Hit(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Hit(1, "sku-42", 0.875, []string{"blue", "widget"})
	w.Field("title", "Blue widget")

	assert.Equal(t, " 1. sku-42  0.875  [blue, widget]\n    title: Blue widget\n", buf.String())
}

func TestWriter_HitWithoutTerms(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Hit(10, "sku-1", 1, nil)

	assert.Equal(t, "10. sku-1  1.000\n", buf.String())
}

func TestWriter_KeyValues_AlignsValues(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.KeyValues("index", "catalog", "generation", 7, "dangling")

	assert.Equal(t, "index:      catalog\ngeneration: 7\n", buf.String())
}

func TestWriter_NonTerminal(t *testing.T) {
	// Given: a writer on a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// Then: not interactive and no escape codes
	assert.False(t, w.Interactive())
	assert.False(t, IsTerminal(buf))
	w.Hit(1, "a", 1, []string{"x"})
	assert.NotContains(t, buf.String(), "\033[")
}

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))
}

func TestWriter_Progress_SilentWhenNotInteractive(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(50, 100, "Indexing")
	w.Progress(0, 0, "Indexing")

	assert.Empty(t, buf.String())
}

func TestWriter_Progress_Interactive(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &Writer{out: buf, interactive: true}

	w.Progress(50, 100, "Indexing documents")
	w.Progress(100, 100, "Indexing documents")

	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "Indexing documents")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
		{"over total", 150, 100, 10, 10},
		{"zero total", 5, 0, 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Newline()

	assert.Equal(t, "\n", buf.String())
}
