package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"wavelink/internal/logging"
)

// Dialer opens the raw connection to the media engine. Production code dials
// a Unix socket; tests substitute net.Pipe.
type Dialer func(ctx context.Context) (net.Conn, error)

// Transport maintains the line-delimited JSON channel to the media engine.
// It owns the physical connection exclusively: the dispatcher is its sole
// writer and nothing else touches the raw conn. The transport performs no
// state inference and never reconnects on its own; it reports disconnects
// and waits for the session manager to call Connect again.
type Transport struct {
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	once   *sync.Once

	responses   chan Response
	events      chan Event
	disconnects chan string
}

// New returns a transport that dials the engine's Unix socket.
func New(socketPath string, connectTimeout time.Duration, logger *slog.Logger) *Transport {
	dial := func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: connectTimeout}
		return d.DialContext(ctx, "unix", socketPath)
	}
	return NewWithDialer(dial, logger)
}

// NewWithDialer returns a transport using a custom dialer.
func NewWithDialer(dial Dialer, logger *slog.Logger) *Transport {
	return &Transport{
		dial:        dial,
		logger:      logging.NewComponentLogger(logger, "transport"),
		responses:   make(chan Response, 64),
		events:      make(chan Event, 64),
		disconnects: make(chan string, 4),
	}
}

// Connect dials the engine and starts the read loop. Calling Connect while
// a connection is live is an error; after a disconnect it may be called
// again to establish a fresh connection.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport already connected")
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect engine: %w", err)
	}

	once := new(sync.Once)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return errors.New("transport closed")
	}
	t.conn = conn
	t.once = once
	t.mu.Unlock()

	go t.readLoop(conn, once)
	t.logger.Debug("engine connected")
	return nil
}

// Connected reports whether a live connection exists.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes one request as a single JSON line. Writes are serialized by
// the transport mutex so concurrent senders cannot interleave lines.
func (t *Transport) Send(req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')

	t.mu.Lock()
	conn, once := t.conn, t.once
	if conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	_, writeErr := conn.Write(payload)
	if writeErr != nil {
		t.conn = nil
		t.once = nil
	}
	t.mu.Unlock()

	if writeErr != nil {
		t.signalDisconnect(conn, once, "write failed: "+writeErr.Error())
		return fmt.Errorf("write request: %w", errors.Join(ErrConnectionLost, writeErr))
	}
	return nil
}

// Responses delivers replies to sent requests.
func (t *Transport) Responses() <-chan Response { return t.responses }

// Events delivers unsolicited engine notifications.
func (t *Transport) Events() <-chan Event { return t.events }

// Disconnects delivers one reason per lost connection.
func (t *Transport) Disconnects() <-chan string { return t.disconnects }

// Close tears down the connection. The transport cannot be reused after
// Close; reconnection uses Connect on a live transport instead.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.once = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Transport) readLoop(conn net.Conn, once *sync.Once) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Malformed lines are dropped, never fatal.
			t.logger.Warn("dropping malformed engine message",
				logging.Error(err),
				logging.String(logging.FieldEventType, "engine_message_malformed"))
			continue
		}
		if msg.isEvent() {
			t.deliverEvent(Event{Event: msg.Event, Name: msg.Name, Data: msg.Data})
			continue
		}
		t.deliverResponse(Response{RequestID: msg.RequestID, Err: msg.Err, Data: msg.Data})
	}

	reason := "connection closed"
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		reason = err.Error()
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.once = nil
	}
	deliberate := t.closed
	t.mu.Unlock()

	if deliberate {
		return
	}
	t.signalDisconnect(conn, once, reason)
}

func (t *Transport) signalDisconnect(conn net.Conn, once *sync.Once, reason string) {
	if once == nil {
		return
	}
	once.Do(func() {
		_ = conn.Close()
		t.logger.Warn("engine disconnected",
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "engine_disconnected"))
		select {
		case t.disconnects <- reason:
		default:
		}
	})
}

func (t *Transport) deliverResponse(resp Response) {
	select {
	case t.responses <- resp:
	default:
		t.logger.Warn("response channel full, dropping reply",
			logging.Int64(logging.FieldCommandID, resp.RequestID))
	}
}

func (t *Transport) deliverEvent(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("event channel full, dropping event",
			logging.String("event", ev.Event),
			logging.String("name", ev.Name))
	}
}
