// Package config loads, normalizes, and validates wavelink configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and converts the raw millisecond/second
// tunables into the durations the daemon consumes. The Config type
// centralizes every knob the daemon and CLI need: sync thresholds, engine
// connection policy, and runtime paths.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and validated sync tunables.
package config
