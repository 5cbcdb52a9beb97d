package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all confidant configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Access    AccessConfig    `toml:"access"`
	Search    SearchConfig    `toml:"search"`
	Directory DirectoryConfig `toml:"directory"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Bind  string `toml:"bind"`
	Port  int    `toml:"port"`
	Token string `toml:"token"` // bearer token; empty disables auth
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AccessConfig struct {
	UnlockWindow    Duration `toml:"unlock_window"`
	VerifyInterval  Duration `toml:"verify_interval"` // one attempt per interval after the burst; "0s" disables
	VerifyBurst     int      `toml:"verify_burst"`
	CleanupInterval Duration `toml:"cleanup_interval"`
	ArgonTime       uint32   `toml:"argon_time"`
	ArgonMemoryKiB  uint32   `toml:"argon_memory_kib"`
	ArgonThreads    uint8    `toml:"argon_threads"`
}

type SearchConfig struct {
	DefaultLimit int     `toml:"default_limit"`
	MaxLimit     int     `toml:"max_limit"`
	Concurrency  int     `toml:"concurrency"`
	MinScore     float64 `toml:"min_score"`
}

type DirectoryConfig struct {
	Path string `toml:"path"` // YAML org file; empty gives everyone the default role
}

type StorageConfig struct {
	SealKey string `toml:"seal_key"` // 32 bytes, hex or base64
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Duration is a time.Duration written as a string ("10m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Access: AccessConfig{
			UnlockWindow:    Duration{10 * time.Minute},
			VerifyInterval:  Duration{30 * time.Second},
			VerifyBurst:     5,
			CleanupInterval: Duration{time.Minute},
			ArgonTime:       3,
			ArgonMemoryKiB:  64 * 1024,
			ArgonThreads:    4,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			Concurrency:  8,
			MinScore:     0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns ~/.confidant/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".confidant", "config.toml"), nil
}

// Load layers the TOML file at path over Default, then applies environment
// overrides. An empty path means DefaultPath, which may be absent; an
// explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return cfg, err
		}
	}

	_, err := toml.DecodeFile(path, &cfg)
	if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CONFIDANT_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CONFIDANT_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("CONFIDANT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONFIDANT_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CONFIDANT_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("CONFIDANT_SEAL_KEY"); v != "" {
		c.Storage.SealKey = v
	}
	if v := os.Getenv("CONFIDANT_DIRECTORY"); v != "" {
		c.Directory.Path = v
	}
	if v := os.Getenv("CONFIDANT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Access.UnlockWindow.Duration <= 0 {
		return fmt.Errorf("access.unlock_window must be positive")
	}
	if c.Access.VerifyInterval.Duration < 0 {
		return fmt.Errorf("access.verify_interval must not be negative")
	}
	if c.Access.ArgonTime < 1 || c.Access.ArgonThreads < 1 || c.Access.ArgonMemoryKiB < 8*uint32(c.Access.ArgonThreads) {
		return fmt.Errorf("access: argon2 parameters too small")
	}
	if c.Search.MaxLimit > 0&& c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit %d exceeds max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be within [0, 1]")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format %q: want json or console", c.Logging.Format)
	}
	if _, err := c.SealKey(); err != nil {
		return err
	}
	return nil
}

// SealKey decodes storage.seal_key. It returns nil when sealing is off.
func (c *Config) SealKey() ([]byte, error) {
	s := strings.TrimSpace(c.Storage.SealKey)
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("storage.seal_key must be 32 bytes, hex or base64")
	}
	return key, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
