package observe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"wavelink/internal/logging"
	"wavelink/internal/playback"
	"wavelink/internal/player"
)

// Sink receives canonical remote-state updates. The synchronization engine
// implements this.
type Sink interface {
	OnRemoteStateChanged(state playback.State)
}

// Observer folds unsolicited property-change events from the engine into a
// canonical remote playback.State and forwards it to the sink. It is a pure
// translation layer: no leader decisions or corrections happen here.
type Observer struct {
	events <-chan player.Event
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	remote  playback.State
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an observer reading from the given event stream.
func New(events <-chan player.Event, sink Sink, logger *slog.Logger) *Observer {
	return &Observer{
		events: events,
		sink:   sink,
		logger: logging.NewComponentLogger(logger, "observe"),
		remote: playback.New(),
	}
}

// Start launches the event consumer.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("observer already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(runCtx)
	return nil
}

// Stop terminates the consumer and waits for it to exit.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

// Reset returns the tracked remote state to its initial value.
func (o *Observer) Reset() {
	o.mu.Lock()
	o.remote = playback.New()
	o.mu.Unlock()
}

// Remote returns the last accepted remote state.
func (o *Observer) Remote() playback.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remote
}

func (o *Observer) run(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.events:
			if !ok {
				return
			}
			o.handleEvent(ev)
		}
	}
}

func (o *Observer) handleEvent(ev player.Event) {
	if ev.Event != player.EventPropertyChange {
		return
	}

	o.mu.Lock()
	next := o.remote
	if !applyProperty(&next, ev.Name, ev.Data, o.logger) {
		o.mu.Unlock()
		return
	}
	next.Touch(time.Now())
	applied := o.remote.Apply(next)
	state := o.remote
	o.mu.Unlock()

	if !applied {
		// Stale update; the invariant discards it.
		return
	}
	o.sink.OnRemoteStateChanged(state)
}

// applyProperty folds a single property value into state. Returns false for
// unknown properties or undecodable payloads.
func applyProperty(state *playback.State, name string, data json.RawMessage, logger *slog.Logger) bool {
	switch name {
	case player.PropertyTimePos:
		var pos float64
		if err := json.Unmarshal(data, &pos); err != nil || pos < 0 {
			logger.Debug("ignoring bad time-pos payload", logging.String("data", string(data)))
			return false
		}
		state.Position = pos
	case player.PropertyPause:
		var paused bool
		if err := json.Unmarshal(data, &paused); err != nil {
			logger.Debug("ignoring bad pause payload", logging.String("data", string(data)))
			return false
		}
		state.Playing = !paused
	case player.PropertySpeed:
		var speed float64
		if err := json.Unmarshal(data, &speed); err != nil || speed <= 0 {
			logger.Debug("ignoring bad speed payload", logging.String("data", string(data)))
			return false
		}
		state.Speed = speed
	case player.PropertyVolume:
		var volume float64
		if err := json.Unmarshal(data, &volume); err != nil || volume < 0 || volume > 100 {
			logger.Debug("ignoring bad volume payload", logging.String("data", string(data)))
			return false
		}
		state.Volume = int(volume)
	default:
		return false
	}
	return true
}
