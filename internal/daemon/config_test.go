package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.SocketPath)
	assert.NotEmpty(t, cfg.PIDPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Positive(t, cfg.ShutdownGracePeriod)
	require.NoError(t, cfg.Validate())
}

func TestConfigFrom_UsesServerSection(t *testing.T) {
	// Given: a configuration with its own socket, PID file and timeout
	cfg := config.NewConfig()
	cfg.Server.SocketPath = "/run/indexhost/ctl.sock"
	cfg.Server.PIDPath = "/run/indexhost/indexhost.pid"
	cfg.Server.Timeout = "5s"

	// When: deriving the daemon settings
	d := ConfigFrom(cfg)

	// Then: they are taken over
	assert.Equal(t, "/run/indexhost/ctl.sock", d.SocketPath)
	assert.Equal(t, "/run/indexhost/indexhost.pid", d.PIDPath)
	assert.Equal(t, 5*time.Second, d.Timeout)
}

func TestConfigFrom_FallsBackToDefaults(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server = config.ServerConfig{}

	d := ConfigFrom(cfg)

	assert.Equal(t, DefaultConfig(), d)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"empty pid path", func(c *Config) { c.PIDPath = "" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative grace period", func(c *Config) { c.ShutdownGracePeriod = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)

			err := c.Validate()

			assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{
		SocketPath: dir + "/run/ctl.sock",
		PIDPath:    dir + "/pids/indexhost.pid",
	}

	require.NoError(t, c.EnsureDir())

	assert.DirExists(t, dir+"/run")
	assert.DirExists(t, dir+"/pids")
}
