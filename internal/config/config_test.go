package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:37778", cfg.ListenAddr())
	assert.Equal(t, 10*time.Minute, cfg.Access.UnlockWindow.Duration)
	assert.Equal(t, 5, cfg.Access.VerifyBurst)
}

func TestLoadFileAndDurations(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000

[access]
unlock_window = "5m"
verify_interval = "0s"

[search]
max_limit = 20

[directory]
path = "/etc/confidant/org.yaml"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Bind, "unset keys keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.Access.UnlockWindow.Duration)
	assert.Zero(t, cfg.Access.VerifyInterval.Duration)
	assert.Equal(t, 20, cfg.Search.MaxLimit)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, "/etc/confidant/org.yaml", cfg.Directory.Path)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONFIDANT_DB", "/tmp/c.db")
	t.Setenv("CONFIDANT_PORT", "4000")
	t.Setenv("CONFIDANT_TOKEN", "tok")
	t.Setenv("CONFIDANT_LOG_LEVEL", "debug")
	t.Setenv("CONFIDANT_SEAL_KEY", strings.Repeat("ab", 32))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/c.db", cfg.Database.Path)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "tok", cfg.Server.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)

	key, err := cfg.SealKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestBadPortEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONFIDANT_PORT", "eighty")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"window", func(c *Config) { c.Access.UnlockWindow.Duration = 0 }},
		{"limits", func(c *Config) { c.Search.DefaultLimit = 500 }},
		{"min score", func(c *Config) { c.Search.MinScore = 2 }},
		{"format", func(c *Config) { c.Logging.Format = "xml" }},
		{"seal key", func(c *Config) { c.Storage.SealKey = "short" }},
		{"argon", func(c *Config) { c.Access.ArgonTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBadDuration(t *testing.T) {
	path := writeConfig(t, "[access]\nunlock_window = \"ten minutes\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}
