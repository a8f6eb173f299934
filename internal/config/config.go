// Package config loads and validates the ensemble TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Gateway contains the device-facing listener configuration.
type Gateway struct {
	Bind              string `toml:"bind"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	HeartbeatTimeout  int    `toml:"heartbeat_timeout"`
}

// Personas contains persona authoring-store and cache configuration.
type Personas struct {
	Source          string `toml:"source"`
	Dir             string `toml:"dir"`
	PostgresDSN     string `toml:"postgres_dsn"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	SwitchSLAMillis int    `toml:"switch_sla_ms"`
}

// Sessions contains conversation session lifecycle configuration.
type Sessions struct {
	TTLHours              int `toml:"ttl_hours"`
	ReaperIntervalSeconds int `toml:"reaper_interval_seconds"`
}

// Activities contains group activity coordination configuration.
type Activities struct {
	AckTimeoutSeconds  int `toml:"ack_timeout_seconds"`
	PlaybackLeadMillis int `toml:"playback_lead_ms"`
}

// Bus contains event bus tuning parameters.
type Bus struct {
	ChannelBuffer  int `toml:"channel_buffer"`
	PublishRetries int `toml:"publish_retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Gateway    Gateway    `toml:"gateway"`
	Personas   Personas   `toml:"personas"`
	Sessions   Sessions   `toml:"sessions"`
	Activities Activities `toml:"activities"`
	Bus        Bus        `toml:"bus"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ensemble", "config.toml"), nil
}

// Load reads configuration from path (or the default location when path is
// empty), applies defaults for unset fields, and normalizes directories.
// The second return value is the path that was consulted; a missing file is
// not an error and yields the defaults.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		resolved = defaultPath
	}
	resolved = ExpandPath(resolved)

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply.
	default:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.normalize()
	return &cfg, resolved, nil
}

// WriteSample writes the annotated sample configuration to path.
func WriteSample(path string) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the coordination database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "coordination.db")
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "ensembled.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ensembled.lock")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "ensemble.log")
}

func (c *Config) normalize() {
	c.Paths.DataDir = ExpandPath(c.Paths.DataDir)
	c.Paths.LogDir = ExpandPath(c.Paths.LogDir)
	c.Personas.Dir = ExpandPath(c.Personas.Dir)
	c.Personas.Source = strings.ToLower(strings.TrimSpace(c.Personas.Source))
	if c.Personas.Source == "" {
		c.Personas.Source = SourceFile
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// ExpandPath resolves a leading ~ against the user home directory.
func ExpandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
