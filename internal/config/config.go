package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by NewConfig and normalize.
const (
	DefaultAnalyzer          = "standard"
	DefaultLifetime          = "singleton"
	DefaultRetainGenerations = 2
	DefaultMaxBufferedDocs   = 1000
	DefaultPollInterval      = "10s"
	DefaultSessionTTL        = "30m"
	DefaultBasePath          = "/replicate"
	DefaultConfigFile        = "indexhost.yaml"
)

// Config represents the complete indexhost configuration.
type Config struct {
	Version     int                    `yaml:"version" json:"version"`
	DataDir     string                 `yaml:"data_dir" json:"data_dir"`
	Server      ServerConfig           `yaml:"server" json:"server"`
	Indexes     map[string]IndexConfig `yaml:"indexes" json:"indexes"`
	Replication ReplicationConfig      `yaml:"replication" json:"replication"`
}

// ServerConfig configures the host process and its control socket.
type ServerConfig struct {
	LogLevel   string `yaml:"log_level" json:"log_level"`
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	// Timeout bounds control-socket requests, e.g. "30s".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// IndexConfig describes one named index and the lifetimes of its handles.
//
// Lifetime strings are not validated here. An unrecognized value is carried
// through to the registration and fails the requests that use it.
type IndexConfig struct {
	// Path is the store directory. Defaults to <data_dir>/<name>.
	Path string `yaml:"path" json:"path"`

	// Analyzer is passed to the store's index mapping as-is.
	Analyzer string `yaml:"analyzer" json:"analyzer"`

	ReaderLifetime   string `yaml:"reader_lifetime" json:"reader_lifetime"`
	SearcherLifetime string `yaml:"searcher_lifetime" json:"searcher_lifetime"`

	// Refresh re-checks the store for a newer generation on every singleton
	// reader request. Defaults to true.
	Refresh *bool `yaml:"refresh,omitempty" json:"refresh,omitempty"`

	// Watch refreshes the singleton reader as soon as a commit lands on disk.
	Watch bool `yaml:"watch" json:"watch"`

	RetainGenerations int `yaml:"retain_generations" json:"retain_generations"`

	// Writer is nil for read-only indexes, e.g. replicas.
	Writer *WriterConfig `yaml:"writer,omitempty" json:"writer,omitempty"`
}

// RefreshEnabled reports whether singleton readers refresh on access.
func (c IndexConfig) RefreshEnabled() bool {
	return c.Refresh == nil || *c.Refresh
}

// WriterConfig configures the write handle of an index.
type WriterConfig struct {
	Lifetime        string `yaml:"lifetime" json:"lifetime"`
	MaxBufferedDocs int    `yaml:"max_buffered_docs" json:"max_buffered_docs"`
	// CommitOnClose commits pending changes when the writer is closed.
	// Defaults to true.
	CommitOnClose *bool `yaml:"commit_on_close,omitempty" json:"commit_on_close,omitempty"`
}

// CommitOnCloseEnabled reports whether Close commits pending changes.
func (c WriterConfig) CommitOnCloseEnabled() bool {
	return c.CommitOnClose == nil || *c.CommitOnClose
}

// ReplicationConfig configures both sides of index replication.
type ReplicationConfig struct {
	Server  ReplicationServerConfig   `yaml:"server" json:"server"`
	Clients []ReplicationClientConfig `yaml:"clients" json:"clients"`
}

// ReplicationServerConfig exposes local indexes to replicas.
// The server is disabled when Listen is empty.
type ReplicationServerConfig struct {
	Listen     string `yaml:"listen" json:"listen"`
	BasePath   string `yaml:"base_path" json:"base_path"`
	SessionTTL string `yaml:"session_ttl" json:"session_ttl"`
}

// ReplicationClientConfig pulls one remote index into a local one.
type ReplicationClientConfig struct {
	// Index is the local index name receiving the revisions.
	Index string `yaml:"index" json:"index"`
	// ServerURL is the replication base URL, e.g. http://primary:8090/replicate.
	ServerURL string `yaml:"server_url" json:"server_url"`
	// RemoteIndex defaults to Index.
	RemoteIndex string `yaml:"remote_index" json:"remote_index"`
	StagingPath string `yaml:"staging_path" json:"staging_path"`
	Interval    string `yaml:"interval" json:"interval"`
}

// NewConfig returns a configuration with defaults and no indexes.
func NewConfig() *Config {
	base := defaultBaseDir()
	return &Config{
		Version: 1,
		DataDir: filepath.Join(base, "data"),
		Server: ServerConfig{
			LogLevel:   "info",
			SocketPath: filepath.Join(base, "indexhost.sock"),
			PIDPath:    filepath.Join(base, "indexhost.pid"),
			Timeout:    "30s",
		},
		Indexes: map[string]IndexConfig{},
		Replication: ReplicationConfig{
			Server: ReplicationServerConfig{
				BasePath:   DefaultBasePath,
				SessionTTL: DefaultSessionTTL,
			},
		},
	}
}

// defaultBaseDir returns ~/.indexhost, falling back to the temp directory.
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".indexhost")
	}
	return filepath.Join(home, ".indexhost")
}

// GetUserConfigPath returns the path to the user/global configuration file.
//   - $XDG_CONFIG_HOME/indexhost/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/indexhost/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexhost", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexhost", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexhost", "config.yaml")
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/indexhost/config.yaml)
//  3. The file at path, or ./indexhost.yaml when path is empty
//  4. Environment variables (INDEXHOST_*)
//
// An explicit path that does not exist is an error; a missing default file is not.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if fileExists(DefaultConfigFile) {
		if err := cfg.loadYAML(DefaultConfigFile); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
// Indexes are merged by name; a later definition replaces an earlier one.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.PIDPath != "" {
		c.Server.PIDPath = other.Server.PIDPath
	}
	if other.Server.Timeout != "" {
		c.Server.Timeout = other.Server.Timeout
	}

	if c.Indexes == nil {
		c.Indexes = map[string]IndexConfig{}
	}
	for name, idx := range other.Indexes {
		c.Indexes[name] = idx
	}

	rs := other.Replication.Server
	if rs.Listen != "" {
		c.Replication.Server.Listen = rs.Listen
	}
	if rs.BasePath != "" {
		c.Replication.Server.BasePath = rs.BasePath
	}
	if rs.SessionTTL != "" {
		c.Replication.Server.SessionTTL = rs.SessionTTL
	}
	if len(other.Replication.Clients) > 0 {
		c.Replication.Clients = other.Replication.Clients
	}
}

// applyEnvOverrides applies INDEXHOST_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INDEXHOST_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("INDEXHOST_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("INDEXHOST_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("INDEXHOST_REPLICATION_LISTEN"); v != "" {
		c.Replication.Server.Listen = v
	}
	// Applies to every client; a single-replica deployment has one.
	if v := os.Getenv("INDEXHOST_REPLICATION_SERVER_URL"); v != "" {
		for i := range c.Replication.Clients {
			c.Replication.Clients[i].ServerURL = v
		}
	}
	if v := os.Getenv("INDEXHOST_POLL_INTERVAL"); v != "" {
		for i := range c.Replication.Clients {
			c.Replication.Clients[i].Interval = v
		}
	}
}

// normalize fills per-index and per-client defaults.
func (c *Config) normalize() {
	for name, idx := range c.Indexes {
		if idx.Path == "" {
			idx.Path = filepath.Join(c.DataDir, name)
		}
		if idx.Analyzer == "" {
			idx.Analyzer = DefaultAnalyzer
		}
		if idx.ReaderLifetime == "" {
			idx.ReaderLifetime = DefaultLifetime
		}
		if idx.SearcherLifetime == "" {
			idx.SearcherLifetime = DefaultLifetime
		}
		if idx.RetainGenerations == 0 {
			idx.RetainGenerations = DefaultRetainGenerations
		}
		if idx.Writer != nil {
			w := *idx.Writer
			if w.Lifetime == "" {
				w.Lifetime = DefaultLifetime
			}
			if w.MaxBufferedDocs == 0 {
				w.MaxBufferedDocs = DefaultMaxBufferedDocs
			}
			idx.Writer = &w
		}
		c.Indexes[name] = idx
	}

	for i := range c.Replication.Clients {
		cl := &c.Replication.Clients[i]
		if cl.RemoteIndex == "" {
			cl.RemoteIndex = cl.Index
		}
		if cl.Interval == "" {
			cl.Interval = DefaultPollInterval
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if _, err := parseDuration("server.timeout", c.Server.Timeout); err != nil {
		return err
	}

	for _, name := range c.IndexNames() {
		idx := c.Indexes[name]
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("index name %q must not contain path separators", name)
		}
		if idx.RetainGenerations < 0 {
			return fmt.Errorf("indexes.%s.retain_generations must be non-negative, got %d", name, idx.RetainGenerations)
		}
		if idx.Writer != nil && idx.Writer.MaxBufferedDocs < 0 {
			return fmt.Errorf("indexes.%s.writer.max_buffered_docs must be non-negative, got %d", name, idx.Writer.MaxBufferedDocs)
		}
	}

	if _, err := parseDuration("replication.server.session_ttl", c.Replication.Server.SessionTTL); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, cl := range c.Replication.Clients {
		if _, ok := c.Indexes[cl.Index]; !ok {
			return fmt.Errorf("replication.clients[%d]: index %q is not configured", i, cl.Index)
		}
		if seen[cl.Index] {
			return fmt.Errorf("replication.clients[%d]: index %q already has a replication client", i, cl.Index)
		}
		seen[cl.Index] = true
		// A non-positive interval is corrected by the poller, so only syntax is checked.
		if _, err := parseDuration(fmt.Sprintf("replication.clients[%d].interval", i), cl.Interval); err != nil {
			return err
		}
	}
	return nil
}

// IndexNames returns the configured index names in sorted order.
func (c *Config) IndexNames() []string {
	names := make([]string, 0, len(c.Indexes))
	for name := range c.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestTimeout returns the parsed control-socket timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.Timeout)
	return d
}

// TTL returns the parsed replication session TTL.
func (c ReplicationServerConfig) TTL() time.Duration {
	d, _ := time.ParseDuration(c.SessionTTL)
	return d
}

// PollInterval returns the parsed poll interval. Unparseable or empty
// values yield zero, which the poller replaces with its default.
func (c ReplicationClientConfig) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	return d, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
