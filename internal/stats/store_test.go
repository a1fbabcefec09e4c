package stats_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"wavelink/internal/session"
	"wavelink/internal/stats"
	"wavelink/internal/testsupport"
)

func sampleSummary(id string, endedAgo time.Duration) session.Summary {
	ended := time.Now().Add(-endedAgo)
	return session.Summary{
		ID:                id,
		StartedAt:         ended.Add(-time.Minute),
		EndedAt:           ended,
		CommandsSent:      42,
		DuplicatesBlocked: 3,
		Timeouts:          1,
		Rejections:        2,
		DriftCorrections:  5,
		LastAccuracy:      0.08,
		Disconnects:       1,
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	summary := sampleSummary("session-1", time.Minute)
	if err := store.RecordSession(ctx, summary); err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}

	fetched, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected recorded session to be found")
	}
	if fetched.CommandsSent != 42 || fetched.DriftCorrections != 5 {
		t.Fatalf("unexpected summary: %#v", fetched)
	}
	if fetched.LastAccuracy != 0.08 {
		t.Fatalf("accuracy not preserved: %v", fetched.LastAccuracy)
	}
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := stats.Open(cfg)
	if err != nil {
		t.Fatalf("stats.Open: %v", err)
	}
	if err := first.RecordSession(ctx, sampleSummary("session-1", time.Minute)); err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening replays the migration check against an up-to-date schema;
	// existing rows must survive it.
	second, err := stats.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	fetched, err := second.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
	if fetched == nil {
		t.Fatal("recorded session lost across reopen")
	}
}

func TestRecordSessionRejectsEmptyID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := store.RecordSession(context.Background(), session.Summary{}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestRecordSessionReplacesExisting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	summary := sampleSummary("session-1", time.Minute)
	if err := store.RecordSession(ctx, summary); err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}
	summary.CommandsSent = 100
	if err := store.RecordSession(ctx, summary); err != nil {
		t.Fatalf("RecordSession replace failed: %v", err)
	}

	fetched, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched.CommandsSent != 100 {
		t.Fatalf("expected replacement, got %d commands", fetched.CommandsSent)
	}

	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Sessions != 1 {
		t.Fatalf("replace duplicated the row: %d sessions", totals.Sessions)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := range 5 {
		summary := sampleSummary(fmt.Sprintf("session-%d", i), time.Duration(5-i)*time.Minute)
		if err := store.RecordSession(ctx, summary); err != nil {
			t.Fatalf("RecordSession %d failed: %v", i, err)
		}
	}

	recent, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(recent))
	}
	if recent[0].ID != "session-4" {
		t.Fatalf("expected newest first, got %s", recent[0].ID)
	}
	if !recent[0].EndedAt.After(recent[1].EndedAt) {
		t.Fatal("sessions not ordered by ended_at descending")
	}
}

func TestTotalsAggregate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := range 3 {
		if err := store.RecordSession(ctx, sampleSummary(fmt.Sprintf("session-%d", i), time.Minute)); err != nil {
			t.Fatalf("RecordSession %d failed: %v", i, err)
		}
	}

	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Sessions != 3 {
		t.Fatalf("expected 3 sessions, got %d", totals.Sessions)
	}
	if totals.CommandsSent != 126 {
		t.Fatalf("expected 126 commands, got %d", totals.CommandsSent)
	}
	if totals.DriftCorrections != 15 {
		t.Fatalf("expected 15 corrections, got %d", totals.DriftCorrections)
	}
	if totals.AverageAccuracy < 0.079 || totals.AverageAccuracy > 0.081 {
		t.Fatalf("unexpected average accuracy %v", totals.AverageAccuracy)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := range 5 {
		summary := sampleSummary(fmt.Sprintf("session-%d", i), time.Duration(5-i)*time.Minute)
		if err := store.RecordSession(ctx, summary); err != nil {
			t.Fatalf("RecordSession %d failed: %v", i, err)
		}
	}

	removed, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 pruned rows, got %d", removed)
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "session-4" {
		t.Fatalf("unexpected survivors: %#v", recent)
	}
}
