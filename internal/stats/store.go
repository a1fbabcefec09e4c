package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"wavelink/internal/config"
	"wavelink/internal/session"
)

// Store persists session summaries backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the stats database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.StatsDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSession inserts or replaces the summary row for a session. It
// implements session.Recorder.
func (s *Store) RecordSession(ctx context.Context, summary session.Summary) error {
	if summary.ID == "" {
		return errors.New("summary id is empty")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO sessions (
            id, started_at, ended_at, commands_sent, duplicates_blocked,
            timeouts, rejections, drift_corrections, last_accuracy, disconnects
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID,
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.EndedAt.UTC().Format(time.RFC3339Nano),
		summary.CommandsSent,
		summary.DuplicatesBlocked,
		summary.Timeouts,
		summary.Rejections,
		summary.DriftCorrections,
		summary.LastAccuracy,
		summary.Disconnects,
	)
	if err != nil {
		return fmt.Errorf("insert session summary: %w", err)
	}
	return nil
}

// GetSession fetches one summary by session id. Returns nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return summary, nil
}

// Recent returns the most recently ended sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY ended_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []session.Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}
	return summaries, rows.Err()
}

// Totals aggregates all recorded sessions for the stats surface.
type Totals struct {
	Sessions         int64   `json:"sessions"`
	CommandsSent     int64   `json:"commands_sent"`
	DriftCorrections int64   `json:"drift_corrections"`
	Timeouts         int64   `json:"timeouts"`
	Disconnects      int64   `json:"disconnects"`
	AverageAccuracy  float64 `json:"average_accuracy"`
}

// Totals returns aggregate counters across every recorded session.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
        COUNT(1),
        COALESCE(SUM(commands_sent), 0),
        COALESCE(SUM(drift_corrections), 0),
        COALESCE(SUM(timeouts), 0),
        COALESCE(SUM(disconnects), 0),
        COALESCE(AVG(last_accuracy), 0)
        FROM sessions`)

	var totals Totals
	if err := row.Scan(
		&totals.Sessions,
		&totals.CommandsSent,
		&totals.DriftCorrections,
		&totals.Timeouts,
		&totals.Disconnects,
		&totals.AverageAccuracy,
	); err != nil {
		return Totals{}, fmt.Errorf("aggregate sessions: %w", err)
	}
	return totals, nil
}

// Prune deletes sessions beyond the newest keep rows.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM sessions WHERE id NOT IN (
            SELECT id FROM sessions ORDER BY ended_at DESC LIMIT ?
        )`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

const sessionColumns = "id, started_at, ended_at, commands_sent, duplicates_blocked, timeouts, rejections, drift_corrections, last_accuracy, disconnects"

func scanSummary(scanner interface{ Scan(dest ...any) error }) (*session.Summary, error) {
	var (
		summary    session.Summary
		startedRaw string
		endedRaw   string
	)
	if err := scanner.Scan(
		&summary.ID,
		&startedRaw,
		&endedRaw,
		&summary.CommandsSent,
		&summary.DuplicatesBlocked,
		&summary.Timeouts,
		&summary.Rejections,
		&summary.DriftCorrections,
		&summary.LastAccuracy,
		&summary.Disconnects,
	); err != nil {
		return nil, err
	}

	if started, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		summary.StartedAt = started
	}
	if ended, err := time.Parse(time.RFC3339Nano, endedRaw); err == nil {
		summary.EndedAt = ended
	}
	return &summary, nil
}
