package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ensemble/internal/config"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path %s", resolved)
	}
	if cfg.Gateway.Bind != "127.0.0.1:9643" {
		t.Fatalf("unexpected default bind %s", cfg.Gateway.Bind)
	}
	if cfg.Personas.Source != config.SourceFile {
		t.Fatalf("unexpected default persona source %s", cfg.Personas.Source)
	}
	if cfg.Sessions.TTLHours != 24 || cfg.Activities.AckTimeoutSeconds != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[gateway]
bind = "0.0.0.0:7000"

[personas]
source = "  File  "
cache_ttl_seconds = 120

[sessions]
ttl_hours = 48

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Bind != "0.0.0.0:7000" {
		t.Fatalf("override not applied: %s", cfg.Gateway.Bind)
	}
	if cfg.Personas.Source != config.SourceFile || cfg.Personas.CacheTTLSeconds != 120 {
		t.Fatalf("personas not normalized: %+v", cfg.Personas)
	}
	if cfg.Sessions.TTLHours != 48 {
		t.Fatalf("session override not applied: %+v", cfg.Sessions)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	// Unset sections keep their defaults.
	if cfg.Activities.PlaybackLeadMillis != 1000 {
		t.Fatalf("unset section lost defaults: %+v", cfg.Activities)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[gateway\nbind="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad bind", func(c *config.Config) { c.Gateway.Bind = "not-an-addr" }, "gateway.bind"},
		{"timeout below interval", func(c *config.Config) { c.Gateway.HeartbeatTimeout = 5 }, "heartbeat_timeout"},
		{"unknown persona source", func(c *config.Config) { c.Personas.Source = "ldap" }, "personas.source"},
		{"postgres without dsn", func(c *config.Config) { c.Personas.Source = config.SourcePostgres }, "postgres_dsn"},
		{"zero session ttl", func(c *config.Config) { c.Sessions.TTLHours = 0 }, "ttl_hours"},
		{"zero ack timeout", func(c *config.Config) { c.Activities.AckTimeoutSeconds = 0 }, "ack_timeout"},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}

	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refused")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	if got := config.ExpandPath("~/x"); got != filepath.Join(home, "x") {
		t.Fatalf("unexpected expansion %s", got)
	}
	if got := config.ExpandPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path rewritten to %s", got)
	}
	if got := config.ExpandPath(""); got != "" {
		t.Fatalf("empty path rewritten to %s", got)
	}
}
