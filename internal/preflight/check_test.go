package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.DataDir = dir
	cfg.Server.SocketPath = filepath.Join(dir, "run", "indexhost.sock")
	cfg.Indexes["catalog"] = config.IndexConfig{
		Path:   filepath.Join(dir, "catalog"),
		Writer: &config.WriterConfig{},
	}
	return cfg
}

func findResult(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result named %s", name)
	return CheckResult{}
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail, Required: false}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_RunAll_HealthyConfig(t *testing.T) {
	// Given: a config whose paths live in a writable temp dir
	cfg := testConfig(t)
	checker := New(cfg, WithOffline(true))

	// When: running all checks
	results := checker.RunAll(context.Background())

	// Then: index, socket and limit checks are present and nothing is critical
	assert.Equal(t, StatusPass, findResult(t, results, "index_path:catalog").Status)
	assert.True(t, findResult(t, results, "index_path:catalog").Required)
	assert.Equal(t, StatusPass, findResult(t, results, "disk_space:catalog").Status)
	assert.Equal(t, StatusPass, findResult(t, results, "socket_dir").Status)
	findResult(t, results, "file_descriptors")
	assert.False(t, checker.HasCriticalFailures(results))

	// And: the probe leaves nothing behind
	entries, err := os.ReadDir(cfg.DataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_ReadOnlyIndexPathIsOptional(t *testing.T) {
	// Given: an index without a writer under an unwritable directory
	if os.Geteuid() == 0 {
		t.Skip("root can write anywhere")
	}
	cfg := testConfig(t)
	locked := filepath.Join(cfg.DataDir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	cfg.Indexes["archive"] = config.IndexConfig{Path: filepath.Join(locked, "archive")}

	// When: checking write permissions
	results := New(cfg, WithOffline(true)).RunAll(context.Background())

	// Then: the failure is a warning only
	r := findResult(t, results, "index_path:archive")
	assert.Equal(t, StatusWarn, r.Status)
	assert.False(t, r.IsCritical())
}

func TestChecker_PathThroughFileFails(t *testing.T) {
	// Given: an index path below a regular file
	cfg := testConfig(t)
	file := filepath.Join(cfg.DataDir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	cfg.Indexes["catalog"] = config.IndexConfig{Path: filepath.Join(file, "catalog"), Writer: &config.WriterConfig{}}

	// When: running all checks
	checker := New(cfg, WithOffline(true))
	results := checker.RunAll(context.Background())

	// Then: the writable index makes it critical
	assert.True(t, findResult(t, results, "index_path:catalog").IsCritical())
	assert.True(t, checker.HasCriticalFailures(results))
	assert.Equal(t, "failed", checker.SummaryStatus(results))
}

func TestChecker_ListenAddressInUse(t *testing.T) {
	// Given: an address already bound
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := testConfig(t)
	cfg.Replication.Server.Listen = ln.Addr().String()

	// When: running all checks
	results := New(cfg, WithOffline(true)).RunAll(context.Background())

	// Then: the listen check fails critically
	assert.True(t, findResult(t, results, "replication_listen").IsCritical())
}

func TestChecker_ListenAddressFree(t *testing.T) {
	cfg := testConfig(t)

	r := New(cfg).CheckListenAddress("127.0.0.1:0")

	assert.Equal(t, StatusPass, r.Status)
}

func TestChecker_Primary(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	reachable := "http://" + ln.Addr().String()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	unreachable := "http://" + closed.Addr().String()
	require.NoError(t, closed.Close())
	defer func() { _ = ln.Close() }()

	tests := []struct {
		name     string
		url      string
		status   CheckStatus
		critical bool
	}{
		{"reachable", reachable, StatusPass, false},
		{"unreachable", unreachable, StatusWarn, false},
		{"invalid", "://nope", StatusFail, true},
	}
	checker := New(testConfig(t), WithDialTimeout(time.Second))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checker.CheckPrimary(context.Background(), config.ReplicationClientConfig{Index: "catalog", ServerURL: tt.url})
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.critical, r.IsCritical())
		})
	}
}

func TestChecker_OfflineSkipsPrimary(t *testing.T) {
	// Given: a replica of an unreachable primary
	cfg := testConfig(t)
	cfg.Replication.Clients = []config.ReplicationClientConfig{{Index: "catalog", ServerURL: "http://127.0.0.1:1"}}

	// When: running offline and online
	offline := New(cfg, WithOffline(true)).RunAll(context.Background())
	online := New(cfg, WithDialTimeout(500*time.Millisecond)).RunAll(context.Background())

	// Then: only the online run dials the primary
	for _, r := range offline {
		assert.False(t, strings.HasPrefix(r.Name, "replication_primary"), r.Name)
	}
	assert.Equal(t, StatusWarn, findResult(t, online, "replication_primary:catalog").Status)
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New(testConfig(t))

	assert.Equal(t, "ready", checker.SummaryStatus([]CheckResult{{Status: StatusPass, Required: true}}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{{Status: StatusWarn}}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{{Status: StatusFail}}))
	assert.Equal(t, "failed", checker.SummaryStatus([]CheckResult{{Status: StatusFail, Required: true}}))
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: a verbose checker writing to a buffer
	buf := &bytes.Buffer{}
	checker := New(testConfig(t), WithVerbose(true), WithOutput(buf))

	// When: printing a mix of results
	checker.PrintResults([]CheckResult{
		{Name: "disk_space:catalog", Status: StatusPass, Message: "5.0 GB free", Details: "/data"},
		{Name: "replication_primary:catalog", Status: StatusWarn, Message: "unreachable"},
	})

	// Then: each result, its details and the warning summary are printed
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space:catalog: 5.0 GB free")
	assert.Contains(t, out, "      /data")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
	assert.Contains(t, out, "1 warning(s):")
}

func TestCheckResult_JSONStatus(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "x", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}
