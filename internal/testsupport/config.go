package testsupport

import (
	"path/filepath"
	"testing"

	"wavelink/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Engine.Socket = filepath.Join(base, "engine.sock")
	cfg.Engine.ReconnectDelayMillis = 10

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithEngineSocket overrides the media engine socket on the test config.
func WithEngineSocket(path string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.Socket = path
	}
}

// WithDriftTick overrides the drift loop interval on the test config.
func WithDriftTick(millis int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.DriftTickMillis = millis
	}
}
