package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`
	APIBind string `toml:"api_bind"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Engine contains configuration for the external media engine connection.
type Engine struct {
	Socket               string `toml:"socket"`
	ConnectTimeoutMillis int    `toml:"connect_timeout_ms"`
	UrgentTimeoutMillis  int    `toml:"urgent_timeout_ms"`
	NormalTimeoutMillis  int    `toml:"normal_timeout_ms"`
	ReconnectAttempts    int    `toml:"reconnect_attempts"`
	ReconnectDelayMillis int    `toml:"reconnect_delay_ms"`
}

// Sync contains tunables for the synchronization engine.
type Sync struct {
	DriftThresholdSeconds    float64 `toml:"drift_threshold_seconds"`
	DriftTickMillis          int     `toml:"drift_tick_ms"`
	TransitionLockMillis     int     `toml:"transition_lock_ms"`
	EchoGraceMillis          int     `toml:"echo_grace_ms"`
	PositionEpsilonSeconds   float64 `toml:"position_epsilon_seconds"`
	SeekWindowMillis         int     `toml:"seek_window_ms"`
	ScalarWindowMillis       int     `toml:"scalar_window_ms"`
	RemoteJumpSeconds        float64 `toml:"remote_jump_seconds"`
	SpeedEpsilon             float64 `toml:"speed_epsilon"`
	DegradedSilenceTicks     int     `toml:"degraded_silence_ticks"`
	DegradedFailureWindowSec int     `toml:"degraded_failure_window_seconds"`
}

// Config is the root wavelink configuration.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Logging Logging `toml:"logging"`
	Engine  Engine  `toml:"engine"`
	Sync    Sync    `toml:"sync"`
}

// DefaultConfigPath returns the expanded default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/wavelink/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("wavelink.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.DataDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "wavelinkd.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "wavelinkd.lock")
}

// StatsDBPath returns the session statistics database location.
func (c *Config) StatsDBPath() string {
	return filepath.Join(c.Paths.DataDir, "stats.db")
}

// LogDirectory implements logging.LogConfig.
func (c *Config) LogDirectory() string { return c.Paths.LogDir }

// LogLevelValue implements logging.LogConfig.
func (c *Config) LogLevelValue() string { return c.Logging.Level }

// LogFormatValue implements logging.LogConfig.
func (c *Config) LogFormatValue() string { return c.Logging.Format }

// ConnectTimeout returns the engine dial timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Engine.ConnectTimeoutMillis) * time.Millisecond
}

// UrgentTimeout returns the deadline applied to urgent commands.
func (c *Config) UrgentTimeout() time.Duration {
	return time.Duration(c.Engine.UrgentTimeoutMillis) * time.Millisecond
}

// NormalTimeout returns the deadline applied to normal commands.
func (c *Config) NormalTimeout() time.Duration {
	return time.Duration(c.Engine.NormalTimeoutMillis) * time.Millisecond
}

// ReconnectDelay returns the base delay between engine redial attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Engine.ReconnectDelayMillis) * time.Millisecond
}

// DriftTick returns the drift detection loop interval.
func (c *Config) DriftTick() time.Duration {
	return time.Duration(c.Sync.DriftTickMillis) * time.Millisecond
}

// TransitionLock returns the leader transition lock window.
func (c *Config) TransitionLock() time.Duration {
	return time.Duration(c.Sync.TransitionLockMillis) * time.Millisecond
}

// EchoGrace returns the echo suppression grace window.
func (c *Config) EchoGrace() time.Duration {
	return time.Duration(c.Sync.EchoGraceMillis) * time.Millisecond
}

// SeekWindow returns the seek dedup/rate-limit window.
func (c *Config) SeekWindow() time.Duration {
	return time.Duration(c.Sync.SeekWindowMillis) * time.Millisecond
}

// ScalarWindow returns the dedup window for play/pause/speed/volume.
func (c *Config) ScalarWindow() time.Duration {
	return time.Duration(c.Sync.ScalarWindowMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Engine.Socket != "" {
		if c.Engine.Socket, err = expandPath(c.Engine.Socket); err != nil {
			return fmt.Errorf("engine.socket: %w", err)
		}
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	return nil
}
