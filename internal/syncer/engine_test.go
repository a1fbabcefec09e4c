package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"wavelink/internal/dispatch"
	"wavelink/internal/logging"
	"wavelink/internal/playback"
	"wavelink/internal/player"
)

type fakeReply struct {
	err error
}

func (r fakeReply) Wait(ctx context.Context) (dispatch.Reply, error) {
	return dispatch.Reply{}, r.err
}

// fakeDispatcher records submitted commands and resolves them immediately.
type fakeDispatcher struct {
	mu        sync.Mutex
	commands  []player.Command
	submitErr error
	waitErr   error
}

func (d *fakeDispatcher) Submit(cmd player.Command) (PendingReply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return nil, d.submitErr
	}
	d.commands = append(d.commands, cmd)
	return fakeReply{err: d.waitErr}, nil
}

func (d *fakeDispatcher) sent() []player.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]player.Command, len(d.commands))
	copy(out, d.commands)
	return out
}

func (d *fakeDispatcher) waitForCommands(t *testing.T, n int) []player.Command {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cmds := d.sent(); len(cmds) >= n {
			return cmds
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d commands, got %d", n, len(d.sent()))
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []playback.State
}

func (n *recordingNotifier) RemoteCorrectionApplied(state playback.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.states)
}

func testConfig() Config {
	return Config{
		DriftThreshold:  0.25,
		DriftTick:       250 * time.Millisecond,
		TransitionLock:  500 * time.Millisecond,
		EchoGrace:       300 * time.Millisecond,
		PositionEpsilon: 0.1,
		SpeedEpsilon:    0.01,
		RemoteJump:      1.0,
	}
}

func newTestEngine(t *testing.T, dispatcher *fakeDispatcher, notifier UINotifier) *Engine {
	t.Helper()
	return New(testConfig(), dispatcher, notifier, logging.NewNop())
}

func remoteUpdate(position float64, playing bool, speed float64) playback.State {
	return playback.State{
		Position:  position,
		Playing:   playing,
		Speed:     speed,
		Volume:    100,
		UpdatedAt: time.Now(),
	}
}

func TestLocalSeekTakesLeadAndForwards(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)

	cmds := dispatcher.waitForCommands(t, 1)
	if cmds[0].Verb != player.VerbSeek {
		t.Fatalf("expected seek, got %s", cmds[0].Verb)
	}
	if cmds[0].Source != player.SourceUser {
		t.Fatalf("expected user source, got %s", cmds[0].Source)
	}

	snap := engine.State()
	if snap.Leader != LeaderLocal {
		t.Fatalf("expected local leader, got %s", snap.Leader)
	}
	if snap.Local.Position != 42.0 {
		t.Fatalf("expected local position 42.0, got %v", snap.Local.Position)
	}
}

func TestSeekEchoDoesNotFlipLeadership(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)

	// The engine reports back a position near the seek target within the
	// grace window. This is an echo, not a remote-initiated change.
	engine.OnRemoteStateChanged(remoteUpdate(42.0, false, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderLocal {
		t.Fatalf("echo flipped leadership to %s", snap.Leader)
	}
}

func TestSeekEchoWithPlaybackProgress(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(41.6)
	dispatcher.waitForCommands(t, 1)

	// Position epsilon alone is 0.1s but the allowance grows with elapsed
	// playback time, so an echo at 41.68 after a short delay still matches.
	engine.OnRemoteStateChanged(remoteUpdate(41.68, false, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderLocal {
		t.Fatalf("progressed echo flipped leadership to %s", snap.Leader)
	}
}

func TestPositionTickDoesNotConsumePendingPauseEcho(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	notifier := &recordingNotifier{}
	cfg := testConfig()
	cfg.TransitionLock = 300 * time.Millisecond
	cfg.EchoGrace = 2 * time.Second
	engine := New(cfg, dispatcher, notifier, logging.NewNop())

	// Engine starts out paused at 10s; remote takes the lead.
	engine.OnRemoteStateChanged(remoteUpdate(10.0, false, 1.0))

	// The client asserts pause while the engine already reads paused.
	engine.OnLocalPause()
	dispatcher.waitForCommands(t, 1)

	// A routine position tick while paused must leave the pause echo armed.
	engine.OnRemoteStateChanged(remoteUpdate(10.4, false, 1.0))

	// The engine-side user starts playback before the pause command lands.
	engine.OnRemoteStateChanged(remoteUpdate(10.5, true, 1.0))

	// The pause lands and flips playback off again. That is the echo of the
	// client's own command, not a remote pause, so leadership stays local
	// even once the transition lock has expired.
	time.Sleep(400 * time.Millisecond)
	engine.OnRemoteStateChanged(remoteUpdate(10.5, false, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderLocal {
		t.Fatalf("pause echo took leadership: %s", snap.Leader)
	}
	if n := notifier.count(); n != 1 {
		t.Fatalf("expected 1 remote correction, got %d", n)
	}
}

func TestRemoteJumpTakesLead(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	notifier := &recordingNotifier{}
	engine := newTestEngine(t, dispatcher, notifier)

	engine.OnRemoteStateChanged(remoteUpdate(10.0, false, 1.0))
	time.Sleep(time.Millisecond)
	engine.OnRemoteStateChanged(remoteUpdate(95.0, false, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderRemote {
		t.Fatalf("expected remote leader after jump, got %s", snap.Leader)
	}
	if snap.Local.Position != 95.0 {
		t.Fatalf("local not mirrored to remote position: %v", snap.Local.Position)
	}
	if notifier.count() == 0 {
		t.Fatal("UI was not notified of the remote correction")
	}
	// Remote leadership corrections are local mutations only.
	if len(dispatcher.sent()) != 0 {
		t.Fatalf("remote-led correction issued engine commands: %v", dispatcher.sent())
	}
}

func TestRemotePlayFlipTakesLead(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	notifier := &recordingNotifier{}
	engine := newTestEngine(t, dispatcher, notifier)

	engine.OnRemoteStateChanged(remoteUpdate(10.0, false, 1.0))
	time.Sleep(time.Millisecond)
	engine.OnRemoteStateChanged(remoteUpdate(10.1, true, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderRemote {
		t.Fatalf("expected remote leader after play flip, got %s", snap.Leader)
	}
	if !snap.Local.Playing {
		t.Fatal("local play state not mirrored")
	}
}

func TestTransitionLockSuppressesLeaderChurn(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)

	// A genuinely remote jump inside the transition lock must not steal
	// leadership back.
	engine.OnRemoteStateChanged(remoteUpdate(200.0, false, 1.0))

	snap := engine.State()
	if snap.Leader != LeaderLocal {
		t.Fatalf("leadership changed during transition lock: %s", snap.Leader)
	}
}

func TestStaleRemoteUpdateDiscarded(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	now := time.Now()
	fresh := playback.State{Position: 50.0, Speed: 1.0, Volume: 100, UpdatedAt: now}
	stale := playback.State{Position: 10.0, Speed: 1.0, Volume: 100, UpdatedAt: now.Add(-time.Second)}

	engine.OnRemoteStateChanged(fresh)
	engine.OnRemoteStateChanged(stale)

	snap := engine.State()
	if snap.Remote.Position != 50.0 {
		t.Fatalf("stale update applied: remote position %v", snap.Remote.Position)
	}
}

func TestPlayRegionSeeksBeforePlaying(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	if err := engine.PlayRegion(context.Background(), 30.0, 60.0); err != nil {
		t.Fatalf("PlayRegion: %v", err)
	}

	cmds := dispatcher.sent()
	if len(cmds) != 2 {
		t.Fatalf("expected seek then play, got %d commands", len(cmds))
	}
	if cmds[0].Verb != player.VerbSeek || cmds[1].Verb != player.VerbPlay {
		t.Fatalf("wrong order: %s then %s", cmds[0].Verb, cmds[1].Verb)
	}
}

func TestPlayRegionRejectsInvalidBounds(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	if err := engine.PlayRegion(context.Background(), 60.0, 30.0); err == nil {
		t.Fatal("expected error for inverted region")
	}
	if len(dispatcher.sent()) != 0 {
		t.Fatal("invalid region submitted commands")
	}
}

func TestRegionEndPausesPlayback(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	if err := engine.PlayRegion(context.Background(), 30.0, 31.0); err != nil {
		t.Fatalf("PlayRegion: %v", err)
	}
	dispatcher.waitForCommands(t, 2)

	engine.OnRemoteStateChanged(remoteUpdate(31.2, true, 1.0))

	cmds := dispatcher.waitForCommands(t, 3)
	last := cmds[len(cmds)-1]
	if last.Verb != player.VerbPause {
		t.Fatalf("expected pause at region end, got %s", last.Verb)
	}
}

func TestDisconnectIdlesSession(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)

	engine.HandleDisconnect()

	snap := engine.State()
	if snap.Leader != LeaderIdle {
		t.Fatalf("expected idle leader after disconnect, got %s", snap.Leader)
	}
	if snap.Local.Playing || snap.Remote.Playing {
		t.Fatal("playback still marked playing after disconnect")
	}
}

func TestSubmitConnectionErrorInvokesHandler(t *testing.T) {
	dispatcher := &fakeDispatcher{submitErr: player.ErrNotConnected}
	engine := newTestEngine(t, dispatcher, nil)

	called := make(chan struct{}, 1)
	engine.SetConnectionLostHandler(func() {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	engine.OnLocalPlay()

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("connection lost handler not invoked")
	}
	if engine.State().Leader != LeaderIdle {
		t.Fatal("engine not idled after connection loss")
	}
}

func TestResetClearsStateAndStats(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, dispatcher, nil)

	engine.OnLocalSeek(42.0)
	dispatcher.waitForCommands(t, 1)

	engine.Reset()

	snap := engine.State()
	if snap.Leader != LeaderIdle {
		t.Fatalf("expected idle after reset, got %s", snap.Leader)
	}
	if snap.Local.Position != 0 || snap.Stats.DriftCorrections != 0 {
		t.Fatal("reset did not zero state")
	}
}
