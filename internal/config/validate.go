package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.Socket) == "" {
		return errors.New("engine.socket must be set")
	}
	if c.Engine.ConnectTimeoutMillis <= 0 {
		return errors.New("engine.connect_timeout_ms must be positive")
	}
	if c.Engine.UrgentTimeoutMillis <= 0 {
		return errors.New("engine.urgent_timeout_ms must be positive")
	}
	if c.Engine.NormalTimeoutMillis <= 0 {
		return errors.New("engine.normal_timeout_ms must be positive")
	}
	if c.Engine.ReconnectAttempts < 0 {
		return errors.New("engine.reconnect_attempts must not be negative")
	}
	if c.Engine.ReconnectDelayMillis <= 0 {
		return errors.New("engine.reconnect_delay_ms must be positive")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.DriftThresholdSeconds <= 0 {
		return errors.New("sync.drift_threshold_seconds must be positive")
	}
	if c.Sync.DriftTickMillis <= 0 {
		return errors.New("sync.drift_tick_ms must be positive")
	}
	if c.Sync.TransitionLockMillis < 0 {
		return errors.New("sync.transition_lock_ms must not be negative")
	}
	if c.Sync.EchoGraceMillis <= 0 {
		return errors.New("sync.echo_grace_ms must be positive")
	}
	if c.Sync.PositionEpsilonSeconds <= 0 {
		return errors.New("sync.position_epsilon_seconds must be positive")
	}
	if c.Sync.PositionEpsilonSeconds >= c.Sync.DriftThresholdSeconds {
		return fmt.Errorf("sync.position_epsilon_seconds (%.3f) must be below sync.drift_threshold_seconds (%.3f)",
			c.Sync.PositionEpsilonSeconds, c.Sync.DriftThresholdSeconds)
	}
	if c.Sync.SeekWindowMillis < 0 || c.Sync.ScalarWindowMillis < 0 {
		return errors.New("sync rate-limit windows must not be negative")
	}
	if c.Sync.RemoteJumpSeconds <= 0 {
		return errors.New("sync.remote_jump_seconds must be positive")
	}
	if c.Sync.SpeedEpsilon <= 0 {
		return errors.New("sync.speed_epsilon must be positive")
	}
	if c.Sync.DegradedSilenceTicks <= 0 {
		return errors.New("sync.degraded_silence_ticks must be positive")
	}
	if c.Sync.DegradedFailureWindowSec <= 0 {
		return errors.New("sync.degraded_failure_window_seconds must be positive")
	}
	return nil
}
