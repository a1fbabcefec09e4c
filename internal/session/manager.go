package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"

	"wavelink/internal/config"
	"wavelink/internal/dispatch"
	"wavelink/internal/logging"
	"wavelink/internal/observe"
	"wavelink/internal/playback"
	"wavelink/internal/player"
	"wavelink/internal/syncer"
)

// Status is the coarse session health surfaced to clients.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
)

// Summary is the per-session record persisted when a session ends.
type Summary struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	CommandsSent      int64     `json:"commands_sent"`
	DuplicatesBlocked int64     `json:"duplicates_blocked"`
	Timeouts          int64     `json:"timeouts"`
	Rejections        int64     `json:"rejections"`
	DriftCorrections  int64     `json:"drift_corrections"`
	LastAccuracy      float64   `json:"last_accuracy"`
	Disconnects       int64     `json:"disconnects"`
}

// Recorder persists session summaries. The stats store implements it.
type Recorder interface {
	RecordSession(ctx context.Context, summary Summary) error
}

// Report is a point-in-time view of the session for status surfaces.
type Report struct {
	SessionID   string         `json:"session_id"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	Leader      string         `json:"leader"`
	Local       playback.State `json:"local"`
	Remote      playback.State `json:"remote"`
	Dispatch    dispatch.Stats `json:"dispatch"`
	Sync        syncer.Stats   `json:"sync"`
	Disconnects int64          `json:"disconnects"`
}

// dispatcherAdapter narrows *dispatch.Dispatcher to the interface the sync
// engine consumes.
type dispatcherAdapter struct {
	d *dispatch.Dispatcher
}

func (a dispatcherAdapter) Submit(cmd player.Command) (syncer.PendingReply, error) {
	pending, err := a.d.Submit(cmd)
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Manager owns the session lifecycle: it builds the transport, dispatcher,
// observer and sync engine, connects them, and supervises the connection.
// It is the sole consumer of the transport's disconnect channel.
type Manager struct {
	cfg      *config.Config
	recorder Recorder
	notifier syncer.UINotifier
	logger   *slog.Logger

	// dialer overrides the unix socket dialer; nil means the engine socket
	// from the config.
	dialer player.Dialer

	mu           sync.Mutex
	running      bool
	starting     bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	sessionID    string
	startedAt    time.Time
	status       Status
	disconnect   int64
	lastRemote   time.Time
	lastFailure  time.Time
	prevTimeouts int64
	redial       chan struct{}

	transport  *player.Transport
	dispatcher *dispatch.Dispatcher
	observer   *observe.Observer
	engine     *syncer.Engine
}

// New constructs a manager. recorder and notifier may be nil.
func New(cfg *config.Config, recorder Recorder, notifier syncer.UINotifier, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		recorder: recorder,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "session"),
		status:   StatusDisconnected,
	}
}

// Start connects to the engine and brings up the full pipeline. socket
// overrides the configured engine socket when non-empty. The initial connect
// retries per the configured attempt count before giving up.
func (m *Manager) Start(ctx context.Context, socket string) error {
	m.mu.Lock()
	if m.running || m.starting {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	// Claim the session before releasing the lock for the connect phase, so
	// a second concurrent Start fails fast instead of building a rival
	// pipeline.
	m.starting = true

	if socket == "" {
		socket = m.cfg.Engine.Socket
	}
	if m.dialer != nil {
		m.transport = player.NewWithDialer(m.dialer, m.logger)
	} else {
		m.transport = player.New(socket, m.cfg.ConnectTimeout(), m.logger)
	}
	m.dispatcher = dispatch.New(m.transport, dispatch.Tunables{
		PositionEpsilon: m.cfg.Sync.PositionEpsilonSeconds,
		SpeedEpsilon:    m.cfg.Sync.SpeedEpsilon,
		SeekWindow:      m.cfg.SeekWindow(),
		ScalarWindow:    m.cfg.ScalarWindow(),
		UrgentTimeout:   m.cfg.UrgentTimeout(),
		NormalTimeout:   m.cfg.NormalTimeout(),
	}, m.logger)
	m.engine = syncer.New(syncer.Config{
		DriftThreshold:  m.cfg.Sync.DriftThresholdSeconds,
		DriftTick:       m.cfg.DriftTick(),
		TransitionLock:  m.cfg.TransitionLock(),
		EchoGrace:       m.cfg.EchoGrace(),
		PositionEpsilon: m.cfg.Sync.PositionEpsilonSeconds,
		SpeedEpsilon:    m.cfg.Sync.SpeedEpsilon,
		RemoteJump:      m.cfg.Sync.RemoteJumpSeconds,
	}, dispatcherAdapter{d: m.dispatcher}, m.notifier, m.logger)
	m.observer = observe.New(m.transport.Events(), m, m.logger)

	m.sessionID = uuid.NewString()
	m.startedAt = time.Now()
	m.disconnect = 0
	m.redial = make(chan struct{}, 1)
	m.engine.SetConnectionLostHandler(m.requestRedial)
	m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.cancel = cancel
	m.starting = false
	m.running = true
	m.status = StatusConnected
	m.lastRemote = time.Now()
	m.mu.Unlock()

	if err := m.dispatcher.Start(runCtx); err != nil {
		cancel()
		m.transport.Close()
		m.mu.Lock()
		m.running = false
		m.status = StatusDisconnected
		m.mu.Unlock()
		return err
	}
	if err := m.engine.Start(runCtx); err != nil {
		m.logger.Warn("sync engine start failed", logging.Error(err))
	}
	if err := m.observer.Start(runCtx); err != nil {
		m.logger.Warn("observer start failed", logging.Error(err))
	}
	m.subscribeProperties()

	m.wg.Add(1)
	go m.supervise(runCtx)

	m.logger.Info("session started",
		logging.String(logging.FieldSessionID, m.sessionID),
		logging.String("socket", socket))
	return nil
}

// Stop tears the pipeline down and persists the session summary.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.observer.Stop()
	m.engine.Stop()
	m.dispatcher.Stop()
	m.transport.Close()

	summary := m.buildSummary()

	m.mu.Lock()
	m.status = StatusDisconnected
	m.mu.Unlock()

	m.recordSummary(summary)

	m.logger.Info("session stopped", logging.String(logging.FieldSessionID, summary.ID))
}

// Reset starts a fresh logical session on the existing connection: new
// session id, zeroed stats and playback state.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.mu.Unlock()

	// Snapshot the outgoing session before its counters are zeroed.
	summary := m.buildSummary()

	m.mu.Lock()
	old := m.sessionID
	m.sessionID = uuid.NewString()
	m.startedAt = time.Now()
	m.disconnect = 0
	m.prevTimeouts = 0
	m.lastFailure = time.Time{}
	m.mu.Unlock()

	m.recordSummary(summary)

	m.engine.Reset()
	m.observer.Reset()
	m.dispatcher.ResetStats()

	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	m.logger.Info("session reset",
		logging.String("previous", old),
		logging.String(logging.FieldSessionID, id))
	return nil
}

// Running reports whether the session pipeline is up.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Report builds a point-in-time status view.
func (m *Manager) Report() Report {
	m.mu.Lock()
	running := m.running
	report := Report{
		SessionID:   m.sessionID,
		Status:      m.status,
		StartedAt:   m.startedAt,
		Leader:      syncer.LeaderIdle.String(),
		Disconnects: m.disconnect,
	}
	m.mu.Unlock()

	if !running {
		report.Status = StatusDisconnected
		return report
	}

	snap := m.engine.State()
	report.Leader = snap.Leader.String()
	report.Local = snap.Local
	report.Remote = snap.Remote
	report.Sync = snap.Stats
	report.Dispatch = m.dispatcher.Stats()
	return report
}

// Seek forwards a waveform-client seek into the sync engine.
func (m *Manager) Seek(position float64) error {
	engine, err := m.liveEngine()
	if err != nil {
		return err
	}
	engine.OnLocalSeek(position)
	return nil
}

// Play forwards a waveform-client play into the sync engine.
func (m *Manager) Play() error {
	engine, err := m.liveEngine()
	if err != nil {
		return err
	}
	engine.OnLocalPlay()
	return nil
}

// Pause forwards a waveform-client pause into the sync engine.
func (m *Manager) Pause() error {
	engine, err := m.liveEngine()
	if err != nil {
		return err
	}
	engine.OnLocalPause()
	return nil
}

// SetSpeed forwards a playback-rate change into the sync engine.
func (m *Manager) SetSpeed(speed float64) error {
	engine, err := m.liveEngine()
	if err != nil {
		return err
	}
	engine.OnLocalSpeedChange(speed)
	return nil
}

// SetVolume forwards a volume change straight to the dispatcher. Volume is
// not part of the synchronized state, so it bypasses leader arbitration.
func (m *Manager) SetVolume(ctx context.Context, volume int) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	dispatcher := m.dispatcher
	m.mu.Unlock()

	pending, err := dispatcher.Submit(player.NewCommand(player.VerbSetVolume, player.SourceUser, volume))
	if err != nil {
		return err
	}
	_, err = pending.Wait(ctx)
	return err
}

// PlayRegion seeks to start and plays until end.
func (m *Manager) PlayRegion(ctx context.Context, start, end float64) error {
	engine, err := m.liveEngine()
	if err != nil {
		return err
	}
	return engine.PlayRegion(ctx, start, end)
}

// OnRemoteStateChanged implements observe.Sink. It records liveness for the
// health check and hands the update to the sync engine.
func (m *Manager) OnRemoteStateChanged(state playback.State) {
	m.mu.Lock()
	m.lastRemote = time.Now()
	engine := m.engine
	m.mu.Unlock()

	if engine != nil {
		engine.OnRemoteStateChanged(state)
	}
}

func (m *Manager) liveEngine() (*syncer.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	return m.engine, nil
}

func (m *Manager) buildSummary() Summary {
	dstats := m.dispatcher.Stats()
	sstats := m.engine.Stats()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		ID:                m.sessionID,
		StartedAt:         m.startedAt,
		EndedAt:           time.Now(),
		CommandsSent:      dstats.CommandsSent,
		DuplicatesBlocked: dstats.DuplicatesBlocked,
		Timeouts:          dstats.Timeouts,
		Rejections:        dstats.Rejections,
		DriftCorrections:  sstats.DriftCorrections,
		LastAccuracy:      sstats.LastAccuracy,
		Disconnects:       m.disconnect,
	}
}

func (m *Manager) recordSummary(summary Summary) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.recorder.RecordSession(ctx, summary); err != nil {
		m.logger.Warn("failed to record session summary",
			logging.String(logging.FieldSessionID, summary.ID),
			logging.Error(err))
	}
}

// requestRedial is invoked by the sync engine when a correction surfaces a
// lost connection before the transport notices.
func (m *Manager) requestRedial() {
	m.mu.Lock()
	redial := m.redial
	m.mu.Unlock()
	if redial == nil {
		return
	}
	select {
	case redial <- struct{}{}:
	default:
	}
}

func (m *Manager) connect(ctx context.Context) error {
	attempts := m.cfg.Engine.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.New(
		retry.Attempts(uint(attempts)),
		retry.Delay(m.cfg.ReconnectDelay()),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		return m.transport.Connect(ctx)
	})
}

// subscribeProperties asks the engine to push change events for every
// property the observer folds into remote state.
func (m *Manager) subscribeProperties() {
	for _, prop := range player.WatchedProperties() {
		pending, err := m.dispatcher.Submit(player.NewCommand(player.VerbObserve, player.SourceAPI, prop))
		if err != nil {
			m.logger.Warn("property subscription failed",
				logging.String("property", prop),
				logging.Error(err))
			continue
		}
		go func(prop string, pending *dispatch.Pending) {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NormalTimeout()+time.Second)
			defer cancel()
			if _, err := pending.Wait(ctx); err != nil {
				m.logger.Warn("property subscription rejected",
					logging.String("property", prop),
					logging.Error(err))
			}
		}(prop, pending)
	}
}

// supervise watches for disconnects and degraded health until the session
// stops.
func (m *Manager) supervise(ctx context.Context) {
	defer m.wg.Done()

	health := time.NewTicker(m.cfg.DriftTick())
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-m.transport.Disconnects():
			m.handleDisconnect(ctx, reason)
		case <-m.redial:
			m.handleDisconnect(ctx, "connection reported lost")
		case <-health.C:
			m.checkHealth()
		}
	}
}

func (m *Manager) handleDisconnect(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.status == StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.status = StatusDisconnected
	m.disconnect++
	m.mu.Unlock()

	m.logger.Warn("engine connection lost", logging.String("reason", reason))

	m.dispatcher.ConnectionLost()
	m.engine.HandleDisconnect()
	m.observer.Reset()

	if err := m.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("reconnect failed, session stays disconnected", logging.Error(err))
		return
	}

	m.mu.Lock()
	m.status = StatusConnected
	m.lastRemote = time.Now()
	m.lastFailure = time.Time{}
	m.mu.Unlock()

	m.subscribeProperties()
	m.logger.Info("engine connection restored")
}

// checkHealth flags the session degraded when the engine stops reporting,
// or when commands are timing out, while nominally connected.
func (m *Manager) checkHealth() {
	silence := time.Duration(m.cfg.Sync.DegradedSilenceTicks) * m.cfg.DriftTick()
	window := time.Duration(m.cfg.Sync.DegradedFailureWindowSec) * time.Second
	timeouts := m.dispatcher.Stats().Timeouts

	m.mu.Lock()
	defer m.mu.Unlock()

	if timeouts > m.prevTimeouts {
		m.prevTimeouts = timeouts
		m.lastFailure = time.Now()
	}
	silent := time.Since(m.lastRemote) > silence
	failing := !m.lastFailure.IsZero() && time.Since(m.lastFailure) <= window

	switch m.status {
	case StatusConnected:
		if silent || failing {
			m.status = StatusDegraded
			m.logger.Warn("session degraded",
				logging.Bool("silent", silent),
				logging.Bool("failing", failing))
		}
	case StatusDegraded:
		if !silent && !failing {
			m.status = StatusConnected
			m.logger.Info("session recovered")
		}
	}
}
