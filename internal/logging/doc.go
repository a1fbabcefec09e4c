// Package logging provides the slog-based loggers and shared attribute
// helpers used by the wavelink daemon and CLI.
package logging
