package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"wavelink/internal/config"
	"wavelink/internal/logging"
	"wavelink/internal/session"
	"wavelink/internal/stats"
)

// Daemon ties the session manager, stats store, HTTP API, and UI websocket
// hub together and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *stats.Store
	session *session.Manager
	hub     *uiHub
	api     *apiServer
	logPath string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	StatsDBPath string         `json:"stats_db_path"`
	LockPath    string         `json:"lock_path"`
	APIBind     string         `json:"api_bind"`
	Session     session.Report `json:"session"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *stats.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.hub = newUIHub(d, logger)
	d.session = session.New(cfg, store, d.hub, logger)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and brings up the API surface. When the
// config names an engine socket the daemon attaches to it immediately;
// otherwise it waits for a session attach request.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another wavelink daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}
	d.hub.startHeartbeat(d.ctx)
	d.running.Store(true)

	if d.cfg.Engine.Socket != "" {
		if err := d.session.Start(d.ctx, ""); err != nil {
			d.logger.Warn("engine attach at startup failed",
				logging.String("socket", d.cfg.Engine.Socket),
				logging.Error(err))
		}
	}

	d.logger.Info("wavelink daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop detaches the session, stops the API surface, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.session.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("wavelink daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has completed successfully.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status reports runtime state for status surfaces.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		StatsDBPath: d.cfg.StatsDBPath(),
		LockPath:    d.lockPath,
		APIBind:     d.cfg.Paths.APIBind,
		Session:     d.session.Report(),
	}
}

// Attach starts a session against the given engine socket, or the configured
// one when socket is empty.
func (d *Daemon) Attach(socket string) error {
	if !d.running.Load() {
		return errors.New("daemon not running")
	}
	return d.session.Start(d.ctx, socket)
}

// Detach stops the active session.
func (d *Daemon) Detach() error {
	if !d.session.Running() {
		return session.ErrNotRunning
	}
	d.session.Stop()
	return nil
}

// ResetSession rotates the session id and zeroes live counters.
func (d *Daemon) ResetSession() error {
	return d.session.Reset()
}

// Session exposes the playback control surface for the API and UI hub.
func (d *Daemon) Session() *session.Manager {
	return d.session
}

// StatsTotals aggregates all recorded sessions.
func (d *Daemon) StatsTotals(ctx context.Context) (stats.Totals, error) {
	return d.store.Totals(ctx)
}

// StatsRecent lists recently ended sessions.
func (d *Daemon) StatsRecent(ctx context.Context, limit int) ([]session.Summary, error) {
	return d.store.Recent(ctx, limit)
}

// LogPath returns the daemon log file location, when file logging is active.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// SetLogPath records where the daemon log file lives.
func (d *Daemon) SetLogPath(path string) {
	d.logPath = path
}
