// Package stats persists per-session synchronization statistics in SQLite so
// accuracy and failure counts survive daemon restarts.
package stats
