// Package daemon hosts the configured indexes in one long-running process.
//
// The daemon owns the registry, the replication server and pollers, and the
// commit watchers. CLI commands reach it over a Unix socket speaking
// line-delimited JSON-RPC 2.0, so a search does not have to reopen indexes.
package daemon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/errors"
)

// Config holds the process-level settings of the daemon.
type Config struct {
	// SocketPath is the Unix domain socket of the control API.
	// Default: ~/.indexhost/indexhost.sock
	SocketPath string

	// PIDPath is the file holding the daemon's process ID.
	// Default: ~/.indexhost/indexhost.pid
	PIDPath string

	// Timeout bounds one control request.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds draining the replication server.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with the default paths.
func DefaultConfig() Config {
	defaults := config.NewConfig()
	return Config{
		SocketPath:          defaults.Server.SocketPath,
		PIDPath:             defaults.Server.PIDPath,
		Timeout:             defaults.RequestTimeout(),
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// ConfigFrom takes the daemon settings from a loaded configuration,
// falling back to defaults for empty values.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.Server.SocketPath != "" {
		c.SocketPath = cfg.Server.SocketPath
	}
	if cfg.Server.PIDPath != "" {
		c.PIDPath = cfg.Server.PIDPath
	}
	if d := cfg.RequestTimeout(); d > 0 {
		c.Timeout = d
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errors.ConfigError("socket path cannot be empty", nil)
	}
	if c.PIDPath == "" {
		return errors.ConfigError("PID path cannot be empty", nil)
	}
	if c.Timeout <= 0 {
		return errors.ConfigError("timeout must be positive", nil)
	}
	if c.ShutdownGracePeriod <= 0 {
		return errors.ConfigError("shutdown grace period must be positive", nil)
	}
	return nil
}

// EnsureDir creates the directories of the socket and PID files.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.IOError("create daemon directory "+dir, err)
		}
	}
	return nil
}
