package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/indexhost/internal/config"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// DefaultDialTimeout bounds the primary reachability check.
const DefaultDialTimeout = 3 * time.Second

// Checker performs preflight validation checks for one configuration.
type Checker struct {
	cfg         *config.Config
	offline     bool
	verbose     bool
	dialTimeout time.Duration
	output      io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithOffline skips checks that contact replication primaries.
func WithOffline(offline bool) Option {
	return func(c *Checker) {
		c.offline = offline
	}
}

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithDialTimeout bounds each primary reachability check.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// New creates a new Checker for cfg with the given options.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:         cfg,
		dialTimeout: DefaultDialTimeout,
		output:      os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks and returns the results.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	var results []CheckResult

	replicas := make(map[string]config.ReplicationClientConfig, len(c.cfg.Replication.Clients))
	for _, cl := range c.cfg.Replication.Clients {
		replicas[cl.Index] = cl
	}

	for _, name := range c.cfg.IndexNames() {
		idx := c.cfg.Indexes[name]
		cl, replicated := replicas[name]
		writes := idx.Writer != nil || replicated

		results = append(results, c.CheckDiskSpace("disk_space:"+name, idx.Path))
		results = append(results, c.CheckWritePermissions("index_path:"+name, idx.Path, writes))
		if replicated && cl.StagingPath != "" {
			results = append(results, c.CheckWritePermissions("staging_path:"+name, cl.StagingPath, true))
		}
	}

	if c.cfg.Server.SocketPath != "" {
		results = append(results, c.CheckWritePermissions("socket_dir", filepath.Dir(c.cfg.Server.SocketPath), true))
	}
	results = append(results, c.CheckFileDescriptors())

	if c.cfg.Replication.Server.Listen != "" {
		results = append(results, c.CheckListenAddress(c.cfg.Replication.Server.Listen))
	}
	if !c.offline {
		for _, cl := range c.cfg.Replication.Clients {
			results = append(results, c.CheckPrimary(ctx, cl))
		}
	}

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "indexhost system check")
	_, _ = fmt.Fprintln(c.output, "======================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, failures []string
	for _, r := range results {
		if r.IsCritical() {
			failures = append(failures, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(failures) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(failures))
		for _, e := range failures {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions checks that a file can be created at path, or at
// its nearest existing parent when path does not exist yet. A failure is
// only critical when required.
func (c *Checker) CheckWritePermissions(name, path string, required bool) CheckResult {
	result := CheckResult{
		Name:     name,
		Required: required,
	}

	dir, err := existingAncestor(path)
	if err != nil {
		result.Status = failOrWarn(required)
		result.Message = err.Error()
		return result
	}

	f, err := os.CreateTemp(dir, ".indexhost-preflight-*")
	if err != nil {
		result.Status = failOrWarn(required)
		result.Message = fmt.Sprintf("not writable: %v", err)
		result.Details = path
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = dir
	return result
}

// existingAncestor returns path or its closest parent that exists.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", dir)
			}
			return dir, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if parent := filepath.Dir(dir); parent == dir {
			return "", fmt.Errorf("no existing parent of %s", path)
		}
	}
}

func failOrWarn(required bool) CheckStatus {
	if required {
		return StatusFail
	}
	return StatusWarn
}
