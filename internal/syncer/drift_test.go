package syncer

import (
	"testing"
	"time"

	"wavelink/internal/player"
)

func TestTickIdleDoesNothing(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.tick(time.Now())

	if len(dispatcher.sent()) != 0 {
		t.Fatal("idle tick issued commands")
	}
	if engine.Stats().DriftCorrections != 0 {
		t.Fatal("idle tick counted a correction")
	}
}

func TestTickCorrectsRemoteWhenLocalLeads(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)
	engine.OnRemoteStateChanged(remoteUpdate(41.0, false, 1.0))

	time.Sleep(600 * time.Millisecond) // past the transition lock
	engine.tick(time.Now())

	cmds := dispatcher.waitForCommands(t, 2)
	correction := cmds[len(cmds)-1]
	if correction.Verb != player.VerbSeek {
		t.Fatalf("expected seek correction, got %s", correction.Verb)
	}
	if correction.Source != player.SourceCorrection {
		t.Fatalf("expected correction source, got %s", correction.Source)
	}
	if pos, _ := correction.Args[0].(float64); pos != 42.0 {
		t.Fatalf("correction targets %v, want 42.0", pos)
	}

	stats := engine.Stats()
	if stats.DriftCorrections != 1 {
		t.Fatalf("expected 1 correction, got %d", stats.DriftCorrections)
	}
	if stats.LastAccuracy != 1.0 {
		t.Fatalf("expected accuracy 1.0, got %v", stats.LastAccuracy)
	}
}

func TestCorrectionEchoDoesNotFlipLeadership(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)
	engine.OnRemoteStateChanged(remoteUpdate(40.0, false, 1.0))

	time.Sleep(600 * time.Millisecond)
	engine.tick(time.Now())
	dispatcher.waitForCommands(t, 2)

	// The engine confirms the correction seek. Even though the position
	// jumps by 2 seconds, it is our own command echoing back.
	engine.OnRemoteStateChanged(remoteUpdate(42.0, false, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderLocal {
		t.Fatalf("correction echo flipped leadership to %s", snap.Leader)
	}

	// States now agree; the next tick must not correct again.
	engine.tick(time.Now())
	time.Sleep(20 * time.Millisecond)
	if got := len(dispatcher.sent()); got != 2 {
		t.Fatalf("correction loop: %d commands sent", got)
	}
	if engine.Stats().DriftCorrections != 1 {
		t.Fatalf("expected exactly 1 correction, got %d", engine.Stats().DriftCorrections)
	}
}

func TestTickCorrectsLocalWhenRemoteLeads(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	notifier := &recordingNotifier{}
	engine := newTestEngine(t, dispatcher, notifier)

	engine.OnRemoteStateChanged(remoteUpdate(95.0, true, 1.0))
	if engine.State().Leader != LeaderRemote {
		t.Fatal("remote did not take lead")
	}
	before := notifier.count()

	// Small position creep below the jump threshold: does not re-mirror,
	// so local falls behind until the drift loop catches it.
	time.Sleep(2 * time.Millisecond)
	engine.OnRemoteStateChanged(remoteUpdate(95.5, true, 1.0))

	time.Sleep(600 * time.Millisecond)
	engine.tick(time.Now())

	snap := engine.State()
	if snap.Local.Position != 95.5 {
		t.Fatalf("local not pulled to remote: %v", snap.Local.Position)
	}
	if notifier.count() <= before {
		t.Fatal("UI not notified of local correction")
	}
	if len(dispatcher.sent()) != 0 {
		t.Fatalf("remote-led tick issued engine commands: %v", dispatcher.sent())
	}
	if engine.Stats().DriftCorrections != 1 {
		t.Fatalf("expected 1 correction, got %d", engine.Stats().DriftCorrections)
	}
}

func TestTickBelowThresholdRecordsAccuracyOnly(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)
	engine.OnRemoteStateChanged(remoteUpdate(42.05, false, 1.0))

	time.Sleep(600 * time.Millisecond)
	engine.tick(time.Now())

	if got := len(dispatcher.sent()); got != 1 {
		t.Fatalf("below-threshold drift corrected: %d commands", got)
	}
	stats := engine.Stats()
	if stats.DriftCorrections != 0 {
		t.Fatalf("counted a correction for tolerable drift: %d", stats.DriftCorrections)
	}
	if stats.LastAccuracy < 0.04 || stats.LastAccuracy > 0.06 {
		t.Fatalf("accuracy not recorded: %v", stats.LastAccuracy)
	}
}

func TestTickCorrectsPlayStateMismatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	engine.OnLocalPlay()
	dispatcher.waitForCommands(t, 2)

	// The engine confirms the seek but never starts playing.
	engine.OnRemoteStateChanged(remoteUpdate(42.0, false, 1.0))

	time.Sleep(600 * time.Millisecond)
	engine.tick(time.Now())

	cmds := dispatcher.waitForCommands(t, 3)
	correction := cmds[len(cmds)-1]
	if correction.Verb != player.VerbPlay {
		t.Fatalf("expected play correction, got %s", correction.Verb)
	}
	if correction.Source != player.SourceCorrection {
		t.Fatalf("expected correction source, got %s", correction.Source)
	}
}

func TestDriftLoopRunsUnderStart(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	if err := engine.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(engine.Stop)

	if err := engine.Start(t.Context()); err == nil {
		t.Fatal("second Start succeeded")
	}

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)
	engine.OnRemoteStateChanged(remoteUpdate(40.0, false, 1.0))

	// After the transition lock expires the loop corrects on its own.
	dispatcher.waitForCommands(t, 2)
	if engine.Stats().DriftCorrections == 0 {
		t.Fatal("drift loop never corrected")
	}
}
