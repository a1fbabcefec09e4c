package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"wavelink/internal/logging"
	"wavelink/internal/player"
)

// Tunables carries the dedup and timeout configuration the dispatcher needs.
type Tunables struct {
	PositionEpsilon float64
	SpeedEpsilon    float64
	SeekWindow      time.Duration
	ScalarWindow    time.Duration
	UrgentTimeout   time.Duration
	NormalTimeout   time.Duration
}

// Reply is the resolved result of a submitted command.
type Reply struct {
	Data json.RawMessage
	// Deduplicated marks no-op successes that never reached the transport.
	Deduplicated bool
}

type outcome struct {
	reply Reply
	err   error
}

// Pending is the caller's handle on a submitted command.
type Pending struct {
	cmd  player.Command
	done chan outcome
}

// Command returns the submitted command.
func (p *Pending) Command() player.Command { return p.cmd }

// Wait blocks until the command resolves, fails, or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Reply, error) {
	select {
	case out := <-p.done:
		return out.reply, out.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (p *Pending) resolve(out outcome) {
	select {
	case p.done <- out:
	default:
	}
}

type sentRecord struct {
	args []any
	at   time.Time
}

// Dispatcher feeds commands to the transport one at a time, preserving
// urgent-before-normal FIFO ordering while deduplicating chatter. Multiple
// goroutines may call Submit concurrently; a single worker owns the queue
// and the in-flight slot.
type Dispatcher struct {
	transport *player.Transport
	logger    *slog.Logger
	tunables  Tunables

	mu       sync.Mutex
	urgent   []*Pending
	normal   []*Pending
	inflight *Pending
	lastSent map[player.Verb]sentRecord
	running  bool
	cancel   context.CancelFunc
	wake     chan struct{}
	lost     chan struct{}
	wg       sync.WaitGroup

	commandsSent      atomic.Int64
	duplicatesBlocked atomic.Int64
	timeouts          atomic.Int64
	rejections        atomic.Int64
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	CommandsSent      int64 `json:"commands_sent"`
	DuplicatesBlocked int64 `json:"duplicates_blocked"`
	Timeouts          int64 `json:"timeouts"`
	Rejections        int64 `json:"rejections"`
}

// New constructs a dispatcher over the given transport.
func New(transport *player.Transport, tunables Tunables, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		logger:    logging.NewComponentLogger(logger, "dispatch"),
		tunables:  tunables,
		lastSent:  make(map[player.Verb]sentRecord),
		wake:      make(chan struct{}, 1),
		lost:      make(chan struct{}),
	}
}

// Start launches the dispatch worker.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(runCtx)
	return nil
}

// Stop terminates the worker and fails every queued and in-flight command
// with ErrCancelled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.failAll(ErrCancelled)
}

// ConnectionLost fails all queued and in-flight commands. The session
// manager calls this when the transport reports a disconnect. The loss
// signal is scoped to the dropped connection; commands sent after a
// reconnect wait on a fresh one.
func (d *Dispatcher) ConnectionLost() {
	d.mu.Lock()
	close(d.lost)
	d.lost = make(chan struct{})
	d.mu.Unlock()
	d.failAll(player.ErrConnectionLost)
}

// Stats returns current dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		CommandsSent:      d.commandsSent.Load(),
		DuplicatesBlocked: d.duplicatesBlocked.Load(),
		Timeouts:          d.timeouts.Load(),
		Rejections:        d.rejections.Load(),
	}
}

// ResetStats zeroes the dispatcher counters.
func (d *Dispatcher) ResetStats() {
	d.commandsSent.Store(0)
	d.duplicatesBlocked.Store(0)
	d.timeouts.Store(0)
	d.rejections.Store(0)
}

// Submit validates, deduplicates, and enqueues a command. The returned
// Pending resolves when the engine replies, the deadline passes, or the
// connection drops. Validation failures and submit-while-disconnected are
// reported synchronously.
func (d *Dispatcher) Submit(cmd player.Command) (*Pending, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil, ErrNotRunning
	}
	if !d.transport.Connected() {
		d.mu.Unlock()
		return nil, player.ErrNotConnected
	}

	pending := &Pending{cmd: cmd, done: make(chan outcome, 1)}

	if d.isDuplicateLocked(cmd) {
		d.mu.Unlock()
		d.duplicatesBlocked.Add(1)
		d.logger.Debug("duplicate suppressed",
			logging.String(logging.FieldVerb, string(cmd.Verb)),
			logging.Int64(logging.FieldCommandID, cmd.ID))
		pending.resolve(outcome{reply: Reply{Deduplicated: true}})
		return pending, nil
	}

	if cmd.Priority == player.PriorityUrgent {
		d.urgent = append(d.urgent, pending)
	} else {
		d.normal = append(d.normal, pending)
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return pending, nil
}

// isDuplicateLocked compares cmd against the last successfully sent command
// of the same verb. Caller holds d.mu.
func (d *Dispatcher) isDuplicateLocked(cmd player.Command) bool {
	last, ok := d.lastSent[cmd.Verb]
	if !ok {
		return false
	}
	elapsed := time.Since(last.at)

	switch cmd.Verb {
	case player.VerbSeek:
		if elapsed >= d.tunables.SeekWindow {
			return false
		}
		mode, _ := cmd.Args[1].(string)
		lastMode, _ := last.args[1].(string)
		if mode != player.SeekModeAbsolute || lastMode != player.SeekModeAbsolute {
			return false
		}
		pos := toFloat(cmd.Args[0])
		lastPos := toFloat(last.args[0])
		return math.Abs(pos-lastPos) < d.tunables.PositionEpsilon
	case player.VerbPlay, player.VerbPause:
		return elapsed < d.tunables.ScalarWindow
	case player.VerbSetSpeed:
		if elapsed >= d.tunables.ScalarWindow {
			return false
		}
		return math.Abs(toFloat(cmd.Args[0])-toFloat(last.args[0])) < d.tunables.SpeedEpsilon
	case player.VerbSetVolume:
		if elapsed >= d.tunables.ScalarWindow {
			return false
		}
		return toFloat(cmd.Args[0]) == toFloat(last.args[0])
	default:
		// observe and anything future always passes through.
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		pending := d.pop()
		if pending == nil {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			pending.resolve(outcome{err: ErrCancelled})
			return
		default:
		}

		d.dispatchOne(ctx, pending)
	}
}

func (d *Dispatcher) pop() *Pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urgent) > 0 {
		pending := d.urgent[0]
		d.urgent = d.urgent[1:]
		d.inflight = pending
		return pending
	}
	if len(d.normal) > 0 {
		pending := d.normal[0]
		d.normal = d.normal[1:]
		d.inflight = pending
		return pending
	}
	return nil
}

func (d *Dispatcher) clearInflight(pending *Pending) {
	d.mu.Lock()
	if d.inflight == pending {
		d.inflight = nil
	}
	d.mu.Unlock()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, pending *Pending) {
	defer d.clearInflight(pending)

	cmd := pending.cmd
	deadline := cmd.Deadline
	if deadline.IsZero() {
		timeout := d.tunables.NormalTimeout
		if cmd.Priority == player.PriorityUrgent {
			timeout = d.tunables.UrgentTimeout
		}
		deadline = time.Now().Add(timeout)
	}

	d.mu.Lock()
	lost := d.lost
	d.mu.Unlock()

	if err := d.transport.Send(cmd.WireRequest()); err != nil {
		if errors.Is(err, player.ErrConnectionLost) || errors.Is(err, player.ErrNotConnected) {
			pending.resolve(outcome{err: player.ErrConnectionLost})
			d.failAll(player.ErrConnectionLost)
			return
		}
		pending.resolve(outcome{err: err})
		return
	}

	d.mu.Lock()
	d.lastSent[cmd.Verb] = sentRecord{args: cmd.Args, at: time.Now()}
	d.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case resp := <-d.transport.Responses():
			if resp.RequestID != cmd.ID {
				// Stale reply from a command that already timed out.
				d.logger.Debug("ignoring stale reply",
					logging.Int64(logging.FieldCommandID, resp.RequestID))
				continue
			}
			if !resp.OK() {
				d.rejections.Add(1)
				pending.resolve(outcome{err: fmt.Errorf("%w: %s", ErrEngineRejected, resp.Err)})
				return
			}
			d.commandsSent.Add(1)
			pending.resolve(outcome{reply: Reply{Data: resp.Data}})
			return
		case <-timer.C:
			d.timeouts.Add(1)
			d.logger.Warn("command timed out",
				logging.String(logging.FieldVerb, string(cmd.Verb)),
				logging.Int64(logging.FieldCommandID, cmd.ID),
				logging.String(logging.FieldEventType, "command_timeout"))
			pending.resolve(outcome{err: ErrTimeout})
			return
		case <-lost:
			pending.resolve(outcome{err: player.ErrConnectionLost})
			return
		case <-ctx.Done():
			pending.resolve(outcome{err: ErrCancelled})
			return
		}
	}
}

// failAll resolves every queued and in-flight command with err.
func (d *Dispatcher) failAll(err error) {
	d.mu.Lock()
	pendings := make([]*Pending, 0, len(d.urgent)+len(d.normal)+1)
	pendings = append(pendings, d.urgent...)
	pendings = append(pendings, d.normal...)
	if d.inflight != nil {
		pendings = append(pendings, d.inflight)
		d.inflight = nil
	}
	d.urgent = nil
	d.normal = nil
	d.mu.Unlock()

	for _, pending := range pendings {
		pending.resolve(outcome{err: err})
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return math.NaN()
	}
}
