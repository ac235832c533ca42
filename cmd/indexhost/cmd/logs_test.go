package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

func TestLogsCmd_TailsAndFilters(t *testing.T) {
	// Given: a log file with three entries
	path := filepath.Join(t.TempDir(), "indexhost.log")
	lines := []string{
		`{"time":"2026-10-19T10:00:00Z","level":"INFO","msg":"daemon_started","pid":42}`,
		`{"time":"2026-10-19T10:00:01Z","level":"WARN","msg":"poller_pull_failed","index":"mirror"}`,
		`{"time":"2026-10-19T10:00:02Z","level":"INFO","msg":"reader_refreshed","index":"catalog"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	// When: showing warnings and above
	out, err := runRoot(t, "logs", "--file", path, "--level", "warn")

	// Then: only the warning is printed, uncolored
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "WARN  poller_pull_failed index=mirror")

	// And the last line alone with -n 1
	out, err = runRoot(t, "logs", "--file", path, "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "reader_refreshed")
	assert.NotContains(t, out, "daemon_started")
}

func TestLogsCmd_Errors(t *testing.T) {
	_, err := runRoot(t, "logs", "--file", filepath.Join(t.TempDir(), "missing.log"))
	assert.Equal(t, errors.CategoryIO, errors.GetCategory(err))

	_, err = runRoot(t, "logs", "--filter", "(")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}
