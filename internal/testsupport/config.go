// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"ensemble/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Personas.Dir = filepath.Join(base, "personas")
	cfg.Gateway.Bind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithPersonaDir overrides the persona bundle directory.
func WithPersonaDir(dir string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Personas.Dir = dir
	}
}

// WithSessionTTLHours overrides the session TTL.
func WithSessionTTLHours(hours int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sessions.TTLHours = hours
	}
}
