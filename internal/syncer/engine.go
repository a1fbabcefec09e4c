package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"wavelink/internal/dispatch"
	"wavelink/internal/logging"
	"wavelink/internal/playback"
	"wavelink/internal/player"
)

// Dispatcher is the slice of the command dispatcher the engine needs.
type Dispatcher interface {
	Submit(cmd player.Command) (PendingReply, error)
}

// PendingReply resolves a submitted command.
type PendingReply interface {
	Wait(ctx context.Context) (dispatch.Reply, error)
}

// UINotifier is implemented by the UI bridge. RemoteCorrectionApplied tells
// the waveform client to move its own cursor and play-state when the remote
// side is leading.
type UINotifier interface {
	RemoteCorrectionApplied(state playback.State)
}

// Config carries the sync tunables.
type Config struct {
	DriftThreshold  float64
	DriftTick       time.Duration
	TransitionLock  time.Duration
	EchoGrace       time.Duration
	PositionEpsilon float64
	SpeedEpsilon    float64
	RemoteJump      float64
}

// Stats are the engine-owned counters; the session manager merges them with
// the dispatcher's.
type Stats struct {
	DriftCorrections int64   `json:"drift_corrections"`
	LastAccuracy     float64 `json:"last_accuracy"`
}

// Snapshot is a consistent view of the session state for status surfaces.
type Snapshot struct {
	Leader Leader
	Local  playback.State
	Remote playback.State
	Stats  Stats
}

// expectation records the value of a command this engine just sent, so the
// remote update confirming it is not mistaken for a remote-initiated change.
type expectation struct {
	position float64
	playing  bool
	speed    float64
	at       time.Time
}

// Engine is the synchronization state machine. It exclusively owns both
// playback states and the leader/lock bookkeeping; every entry point
// serializes behind one mutex.
type Engine struct {
	cfg        Config
	dispatcher Dispatcher
	notifier   UINotifier
	logger     *slog.Logger

	// onConnectionLost is invoked (outside the engine mutex) when a
	// correction fails because the engine connection dropped.
	onConnectionLost func()

	mu        sync.Mutex
	leader    Leader
	lockUntil time.Time
	local     playback.State
	remote    playback.State
	expected  map[player.Verb]expectation
	regionEnd float64

	driftCorrections int64
	lastAccuracy     float64

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an engine. notifier may be nil when no UI is attached.
func New(cfg Config, dispatcher Dispatcher, notifier UINotifier, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "sync"),
		local:      playback.New(),
		remote:     playback.New(),
		expected:   make(map[player.Verb]expectation),
	}
}

// SetConnectionLostHandler registers the session hook invoked when a
// correction fails with a lost connection. Must be called before Start.
func (e *Engine) SetConnectionLostHandler(fn func()) {
	e.onConnectionLost = fn
}

// Start begins the drift detection loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("sync engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.driftLoop(runCtx)
	return nil
}

// Stop cancels the drift loop and idles the session.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.leader = LeaderIdle
	e.local.Playing = false
	e.remote.Playing = false
	e.mu.Unlock()
}

// Reset zeroes stats and both playback states without touching the
// connection or the loop.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.leader = LeaderIdle
	e.lockUntil = time.Time{}
	e.local = playback.New()
	e.remote = playback.New()
	e.expected = make(map[player.Verb]expectation)
	e.regionEnd = 0
	e.driftCorrections = 0
	e.lastAccuracy = 0
	e.mu.Unlock()
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{DriftCorrections: e.driftCorrections, LastAccuracy: e.lastAccuracy}
}

// State returns a consistent snapshot for status surfaces.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Leader: e.leader,
		Local:  e.local,
		Remote: e.remote,
		Stats:  Stats{DriftCorrections: e.driftCorrections, LastAccuracy: e.lastAccuracy},
	}
}

// OnLocalSeek handles a seek initiated from the waveform client.
func (e *Engine) OnLocalSeek(position float64) {
	if position < 0 {
		position = 0
	}
	now := time.Now()

	e.mu.Lock()
	e.local.Position = position
	e.local.Touch(now)
	e.takeLocalLeadLocked(now)
	e.mu.Unlock()

	e.forward(player.NewCommand(player.VerbSeek, player.SourceUser, position, player.SeekModeAbsolute))
}

// OnLocalPlay handles a play initiated from the waveform client.
func (e *Engine) OnLocalPlay() {
	now := time.Now()

	e.mu.Lock()
	e.local.Playing = true
	e.local.Touch(now)
	e.takeLocalLeadLocked(now)
	e.mu.Unlock()

	e.forward(player.NewCommand(player.VerbPlay, player.SourceUser))
}

// OnLocalPause handles a pause initiated from the waveform client.
func (e *Engine) OnLocalPause() {
	now := time.Now()

	e.mu.Lock()
	e.local.Playing = false
	e.local.Touch(now)
	e.regionEnd = 0
	e.takeLocalLeadLocked(now)
	e.mu.Unlock()

	e.forward(player.NewCommand(player.VerbPause, player.SourceUser))
}

// OnLocalSpeedChange handles a playback-rate change from the waveform client.
func (e *Engine) OnLocalSpeedChange(speed float64) {
	if speed <= 0 {
		return
	}
	now := time.Now()

	e.mu.Lock()
	e.local.Speed = speed
	e.local.Touch(now)
	e.takeLocalLeadLocked(now)
	e.mu.Unlock()

	e.forward(player.NewCommand(player.VerbSetSpeed, player.SourceUser, speed))
}

// PlayRegion seeks to start and then plays, strictly in that order: the play
// command is only submitted once the seek has resolved, so the engine can
// never start playing from the pre-seek position. Playback pauses again when
// the remote position reaches end.
func (e *Engine) PlayRegion(ctx context.Context, start, end float64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: region [%v, %v)", player.ErrInvalidCommand, start, end)
	}
	now := time.Now()

	e.mu.Lock()
	e.local.Position = start
	e.local.Touch(now)
	e.regionEnd = end
	e.takeLocalLeadLocked(now)
	alreadyPlaying := e.local.Playing
	e.mu.Unlock()

	seek := player.NewCommand(player.VerbSeek, player.SourceUser, start, player.SeekModeAbsolute)
	pending, err := e.submit(seek)
	if err != nil {
		return err
	}
	if _, err := pending.Wait(ctx); err != nil {
		return fmt.Errorf("region seek: %w", err)
	}

	if alreadyPlaying {
		return nil
	}

	e.mu.Lock()
	e.local.Playing = true
	e.local.Touch(time.Now())
	e.mu.Unlock()

	play := player.NewCommand(player.VerbPlay, player.SourceUser)
	pending, err = e.submit(play)
	if err != nil {
		return err
	}
	if _, err := pending.Wait(ctx); err != nil {
		return fmt.Errorf("region play: %w", err)
	}
	return nil
}

// OnRemoteStateChanged receives canonical remote updates from the observer.
func (e *Engine) OnRemoteStateChanged(state playback.State) {
	now := time.Now()
	var (
		uiState  playback.State
		notifyUI bool
		stopAt   float64
	)

	e.mu.Lock()
	prev := e.remote
	if !e.remote.Apply(state) {
		e.mu.Unlock()
		return
	}

	echoed := e.consumeEchoLocked(prev, state, now)
	posJump := math.Abs(state.Position-prev.Position) > e.cfg.RemoteJump
	playFlip := state.Playing != prev.Playing
	meaningful := posJump || playFlip

	// The transition lock guards leadership changes between sides; continued
	// activity by the side that already leads is mirrored regardless.
	if !echoed && meaningful && (e.leader == LeaderRemote || now.After(e.lockUntil)) {
		if e.leader != LeaderRemote {
			e.logger.Debug("remote takes lead",
				logging.Float64("position", state.Position),
				logging.Bool("playing", state.Playing))
			e.leader = LeaderRemote
		}
		e.lockUntil = now.Add(e.cfg.TransitionLock)
		e.regionEnd = 0

		// Mirror the remote change into the local side right away; this is
		// a purely local mutation, so it cannot echo back around.
		e.local = e.remote
		e.local.Touch(now)
		uiState = e.local
		notifyUI = true
	}

	if e.regionEnd > 0 && state.Position >= e.regionEnd {
		stopAt = e.regionEnd
		e.regionEnd = 0
		e.local.Playing = false
		e.local.Touch(now)
	}
	e.mu.Unlock()

	if notifyUI && e.notifier != nil {
		e.notifier.RemoteCorrectionApplied(uiState)
	}
	if stopAt > 0 {
		e.logger.Debug("region end reached", logging.Float64("position", stopAt))
		e.forward(player.NewCommand(player.VerbPause, player.SourceAPI))
	}
}

// HandleDisconnect idles the session after the transport is lost.
func (e *Engine) HandleDisconnect() {
	e.mu.Lock()
	e.leader = LeaderIdle
	e.local.Playing = false
	e.remote.Playing = false
	e.expected = make(map[player.Verb]expectation)
	e.regionEnd = 0
	e.mu.Unlock()
}

// takeLocalLeadLocked marks the local side authoritative. Caller holds e.mu.
func (e *Engine) takeLocalLeadLocked(now time.Time) {
	e.leader = LeaderLocal
	e.lockUntil = now.Add(e.cfg.TransitionLock)
}

// consumeEchoLocked reports whether the update merely confirms a command
// this engine recently sent. An expectation is only eligible when the update
// actually changed the property it covers; a routine position tick must not
// consume a pending pause or speed echo. A matched expectation is consumed
// so it cannot absorb a second, genuinely remote change. Caller holds e.mu.
func (e *Engine) consumeEchoLocked(prev, state playback.State, now time.Time) bool {
	matched := false
	for verb, exp := range e.expected {
		age := now.Sub(exp.at)
		if age > e.cfg.EchoGrace {
			delete(e.expected, verb)
			continue
		}
		switch verb {
		case player.VerbSeek:
			if state.Position == prev.Position {
				continue
			}
			// Allow for playback progress since the command was issued.
			allowance := e.cfg.PositionEpsilon + age.Seconds()*state.Speed
			if math.Abs(state.Position-exp.position) <= allowance {
				delete(e.expected, verb)
				matched = true
			}
		case player.VerbPlay, player.VerbPause:
			if state.Playing == prev.Playing {
				continue
			}
			if state.Playing == exp.playing {
				delete(e.expected, verb)
				matched = true
			}
		case player.VerbSetSpeed:
			if state.Speed == prev.Speed {
				continue
			}
			if math.Abs(state.Speed-exp.speed) <= e.cfg.SpeedEpsilon {
				delete(e.expected, verb)
				matched = true
			}
		}
	}
	return matched
}

// recordExpectationLocked notes the value a just-sent command should echo
// back as. Caller holds e.mu.
func (e *Engine) recordExpectationLocked(cmd player.Command, now time.Time) {
	exp := expectation{at: now}
	switch cmd.Verb {
	case player.VerbSeek:
		exp.position, _ = cmd.Args[0].(float64)
	case player.VerbPlay:
		exp.playing = true
	case player.VerbPause:
		exp.playing = false
	case player.VerbSetSpeed:
		exp.speed, _ = cmd.Args[0].(float64)
	default:
		return
	}
	e.expected[cmd.Verb] = exp
}

// submit registers the echo expectation and hands the command to the
// dispatcher.
func (e *Engine) submit(cmd player.Command) (PendingReply, error) {
	now := time.Now()
	e.mu.Lock()
	e.recordExpectationLocked(cmd, now)
	e.mu.Unlock()

	pending, err := e.dispatcher.Submit(cmd)
	if err != nil {
		if isConnectionError(err) {
			e.connectionLost()
		}
		return nil, err
	}
	return pending, nil
}

// forward fire-and-forgets a command, watching only for lost connections.
func (e *Engine) forward(cmd player.Command) {
	pending, err := e.submit(cmd)
	if err != nil {
		if !isConnectionError(err) {
			e.logger.Warn("forward command failed",
				logging.String(logging.FieldVerb, string(cmd.Verb)),
				logging.Error(err))
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := pending.Wait(ctx); err != nil {
			if errors.Is(err, player.ErrConnectionLost) {
				e.connectionLost()
				return
			}
			if !errors.Is(err, dispatch.ErrCancelled) {
				e.logger.Warn("command failed",
					logging.String(logging.FieldVerb, string(cmd.Verb)),
					logging.Int64(logging.FieldCommandID, cmd.ID),
					logging.Error(err))
			}
		}
	}()
}

func isConnectionError(err error) bool {
	return errors.Is(err, player.ErrNotConnected) || errors.Is(err, player.ErrConnectionLost)
}

func (e *Engine) connectionLost() {
	e.HandleDisconnect()
	if e.onConnectionLost != nil {
		e.onConnectionLost()
	}
}
