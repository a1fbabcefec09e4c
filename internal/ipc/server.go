package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"wavelink/internal/daemon"
	"wavelink/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Wavelink", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LockPath = status.LockPath
	resp.StatsDBPath = status.StatsDBPath
	resp.APIBind = status.APIBind
	resp.Session = status.Session
	return nil
}

func (s *service) Stats(req StatsRequest, resp *StatsResponse) error {
	totals, err := s.daemon.StatsTotals(s.ctx)
	if err != nil {
		return err
	}
	recent, err := s.daemon.StatsRecent(s.ctx, req.RecentLimit)
	if err != nil {
		return err
	}
	resp.Current = s.daemon.Session().Report()
	resp.Totals = totals
	resp.Recent = recent
	return nil
}

func (s *service) SessionAttach(req SessionAttachRequest, resp *SessionAttachResponse) error {
	s.log().Debug("session attach requested", logging.String("socket", req.Socket))
	if err := s.daemon.Attach(req.Socket); err != nil {
		return err
	}
	resp.Session = s.daemon.Session().Report()
	s.log().Info("session attached via IPC",
		logging.String(logging.FieldEventType, "session_attach"),
		logging.String(logging.FieldSessionID, resp.Session.SessionID))
	return nil
}

func (s *service) SessionDetach(_ SessionDetachRequest, resp *SessionDetachResponse) error {
	s.log().Debug("session detach requested")
	if err := s.daemon.Detach(); err != nil {
		return err
	}
	resp.Detached = true
	s.log().Info("session detached via IPC",
		logging.String(logging.FieldEventType, "session_detach"))
	return nil
}

func (s *service) SessionReset(_ SessionResetRequest, resp *SessionResetResponse) error {
	s.log().Debug("session reset requested")
	if err := s.daemon.ResetSession(); err != nil {
		return err
	}
	resp.Session = s.daemon.Session().Report()
	s.log().Info("session reset via IPC",
		logging.String(logging.FieldEventType, "session_reset"),
		logging.String(logging.FieldSessionID, resp.Session.SessionID))
	return nil
}
