package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testEnv is a config file with one writable index under a temp dir.
type testEnv struct {
	dir        string
	configPath string
	socketPath string
	pidPath    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("INDEXHOST_SOCKET_PATH", "")
	t.Setenv("INDEXHOST_DATA_DIR", "")

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "indexhost.yaml"),
		// Unix socket paths are length-limited; t.TempDir can be too deep.
		socketPath: filepath.Join(os.TempDir(), fmt.Sprintf("indexhost-cli-%d.sock", time.Now().UnixNano())),
		pidPath:    filepath.Join(dir, "indexhost.pid"),
	}
	t.Cleanup(func() { _ = os.Remove(env.socketPath) })

	yaml := fmt.Sprintf(`version: 1
data_dir: %s
server:
  log_level: warn
  socket_path: %s
  pid_path: %s
indexes:
  catalog:
    reader_lifetime: singleton
    searcher_lifetime: singleton
    writer:
      lifetime: transient
  readonly: {}
`, filepath.Join(dir, "data"), env.socketPath, env.pidPath)
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0o644))
	return env
}

// writeDocs writes lines to a JSONL file and returns its path.
func (e *testEnv) writeDocs(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(e.dir, fmt.Sprintf("docs-%d.jsonl", time.Now().UnixNano()))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// run executes the CLI with --config set and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.Execute()
	return stdout.String(), err
}

var sampleDocs = []string{
	`{"id": "w-1", "title": "blue widget", "body": "a small blue widget"}`,
	`{"id": "w-2", "title": "red widget", "body": "a large red widget"}`,
	`{"id": 3, "title": "gadget", "body": "not a widget at all"}`,
}
