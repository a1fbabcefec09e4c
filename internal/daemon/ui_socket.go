package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/coder/websocket"

	"wavelink/internal/logging"
	"wavelink/internal/playback"
)

// uiMessage is the frame exchanged with the waveform client. Inbound frames
// carry local playback intents; outbound frames carry corrections and status
// heartbeats.
type uiMessage struct {
	Type     string          `json:"type"`
	Position float64         `json:"position,omitempty"`
	Speed    float64         `json:"speed,omitempty"`
	Volume   int             `json:"volume,omitempty"`
	Start    float64         `json:"start,omitempty"`
	End      float64         `json:"end,omitempty"`
	State    *playback.State `json:"state,omitempty"`
	Report   json.RawMessage `json:"report,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// uiHub fans corrections and heartbeats out to connected waveform clients
// and feeds their playback intents into the session. It implements
// syncer.UINotifier.
type uiHub struct {
	daemon *Daemon
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newUIHub(d *Daemon, logger *slog.Logger) *uiHub {
	return &uiHub{
		daemon:  d,
		logger:  logging.NewComponentLogger(logger, "ui-hub"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// RemoteCorrectionApplied pushes the corrected local state to every client
// so the waveform cursor follows the engine when the engine leads.
func (h *uiHub) RemoteCorrectionApplied(state playback.State) {
	h.broadcast(uiMessage{Type: "correction", State: &state})
}

// startHeartbeat pushes a status frame to every client once per second until
// the daemon context ends.
func (h *uiHub) startHeartbeat(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.clientCount() == 0 {
					continue
				}
				report, err := json.Marshal(h.daemon.Session().Report())
				if err != nil {
					continue
				}
				h.broadcast(uiMessage{Type: "status", Report: report})
			}
		}
	}()
}

func (h *uiHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *uiHub) broadcast(msg uiMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			h.drop(conn)
		}
		cancel()
	}
}

func (h *uiHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *uiHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// handleUI upgrades the connection and serves one waveform client until it
// disconnects.
func (h *uiHub) handleUI(w http.ResponseWriter, r *http.Request) {
	// The API server's read/write timeouts would sever a hijacked websocket
	// connection mid-session; clear them for this handler.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", logging.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	h.add(conn)
	defer h.drop(conn)
	h.logger.Debug("waveform client connected")

	for {
		msgType, data, err := conn.Read(r.Context())
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				h.logger.Debug("waveform client closed",
					logging.Int("status", int(status)))
			}
			return
		}
		if msgType != websocket.MessageText || len(data) == 0 {
			continue
		}

		var msg uiMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeError(r.Context(), conn, "malformed frame")
			continue
		}
		if err := h.dispatchIntent(r.Context(), msg); err != nil {
			h.writeError(r.Context(), conn, err.Error())
		}
	}
}

func (h *uiHub) dispatchIntent(ctx context.Context, msg uiMessage) error {
	mgr := h.daemon.Session()
	switch msg.Type {
	case "seek":
		return mgr.Seek(msg.Position)
	case "play":
		return mgr.Play()
	case "pause":
		return mgr.Pause()
	case "speed":
		return mgr.SetSpeed(msg.Speed)
	case "volume":
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return mgr.SetVolume(opCtx, msg.Volume)
	case "region":
		opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return mgr.PlayRegion(opCtx, msg.Start, msg.End)
	default:
		h.logger.Debug("ignoring unknown ui frame", logging.String("type", msg.Type))
		return nil
	}
}

func (h *uiHub) writeError(ctx context.Context, conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(uiMessage{Type: "error", Error: message})
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, payload)
}
