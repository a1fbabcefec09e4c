package playback_test

import (
	"testing"
	"time"

	"wavelink/internal/playback"
)

func TestApplyDiscardsStaleUpdates(t *testing.T) {
	base := time.Now()

	state := playback.New()
	state.UpdatedAt = base

	fresh := playback.State{Position: 10, Playing: true, Speed: 1.0, Volume: 80, UpdatedAt: base.Add(time.Millisecond)}
	if !state.Apply(fresh) {
		t.Fatal("fresh update should apply")
	}
	if state.Position != 10 || !state.Playing {
		t.Fatalf("update not applied: %+v", state)
	}

	stale := playback.State{Position: 5, UpdatedAt: base}
	if state.Apply(stale) {
		t.Fatal("stale update must be discarded")
	}
	if state.Position != 10 {
		t.Fatalf("stale update mutated state: %+v", state)
	}

	equal := playback.State{Position: 7, UpdatedAt: base.Add(time.Millisecond)}
	if state.Apply(equal) {
		t.Fatal("equal-timestamp update must be discarded")
	}
}

func TestNewDefaults(t *testing.T) {
	state := playback.New()
	if state.Speed != 1.0 {
		t.Fatalf("default speed should be 1.0, got %v", state.Speed)
	}
	if state.Volume != 100 {
		t.Fatalf("default volume should be 100, got %v", state.Volume)
	}
	if state.Playing {
		t.Fatal("new state should be paused")
	}
}
