package syncer

import (
	"context"
	"math"
	"time"

	"wavelink/internal/logging"
	"wavelink/internal/playback"
	"wavelink/internal/player"
)

func (e *Engine) driftLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.DriftTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(time.Now())
		}
	}
}

// tick is one pass of the drift detection loop. Only the non-leader side is
// ever corrected for a given drift event; correcting both sides oscillates.
func (e *Engine) tick(now time.Time) {
	var (
		commands []player.Command
		uiState  playback.State
		notifyUI bool
	)

	e.mu.Lock()
	if e.leader == LeaderIdle || now.Before(e.lockUntil) {
		e.mu.Unlock()
		return
	}

	drift := math.Abs(e.local.Position - e.remote.Position)
	e.lastAccuracy = drift

	playMismatch := e.local.Playing != e.remote.Playing
	speedMismatch := math.Abs(e.local.Speed-e.remote.Speed) > e.cfg.SpeedEpsilon

	if drift <= e.cfg.DriftThreshold && !playMismatch && !speedMismatch {
		e.mu.Unlock()
		return
	}

	e.driftCorrections++

	switch e.leader {
	case LeaderLocal:
		// Push the local truth to the remote engine.
		if drift > e.cfg.DriftThreshold {
			commands = append(commands,
				player.NewCommand(player.VerbSeek, player.SourceCorrection, e.local.Position, player.SeekModeAbsolute))
		}
		if playMismatch {
			verb := player.VerbPause
			if e.local.Playing {
				verb = player.VerbPlay
			}
			commands = append(commands, player.NewCommand(verb, player.SourceCorrection))
		}
		if speedMismatch {
			commands = append(commands,
				player.NewCommand(player.VerbSetSpeed, player.SourceCorrection, e.local.Speed))
		}
		for _, cmd := range commands {
			e.recordExpectationLocked(cmd, now)
		}
	case LeaderRemote:
		// Pull the local side to the remote truth. Purely local mutation:
		// no network write, no echo.
		e.local.Position = e.remote.Position
		e.local.Playing = e.remote.Playing
		e.local.Speed = e.remote.Speed
		e.local.Touch(now)
		uiState = e.local
		notifyUI = true
	}

	leader := e.leader
	e.mu.Unlock()

	e.logger.Debug("drift correction",
		logging.String(logging.FieldLeader, leader.String()),
		logging.Float64("drift", drift),
		logging.Bool("play_mismatch", playMismatch))

	for _, cmd := range commands {
		e.dispatchCorrection(cmd)
	}
	if notifyUI && e.notifier != nil {
		e.notifier.RemoteCorrectionApplied(uiState)
	}
}

// dispatchCorrection submits a correction without re-recording the echo
// expectation (tick already did, under the same lock as the decision).
func (e *Engine) dispatchCorrection(cmd player.Command) {
	pending, err := e.dispatcher.Submit(cmd)
	if err != nil {
		if isConnectionError(err) {
			e.connectionLost()
			return
		}
		// Correction failures are logged, not fatal; the next tick
		// reassesses drift and retries naturally.
		e.logger.Warn("correction submit failed",
			logging.String(logging.FieldVerb, string(cmd.Verb)),
			logging.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := pending.Wait(ctx); err != nil {
			if isConnectionError(err) {
				e.connectionLost()
				return
			}
			e.logger.Warn("correction failed",
				logging.String(logging.FieldVerb, string(cmd.Verb)),
				logging.Int64(logging.FieldCommandID, cmd.ID),
				logging.Error(err))
		}
	}()
}
