package testsupport

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
)

// FakeEngine is a unix-socket media engine stand-in speaking the
// line-delimited JSON protocol. It accepts every connection, acknowledges
// every command with "success", and lets tests push property-change events.
type FakeEngine struct {
	t        testing.TB
	listener net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	requests [][]any
}

// StartFakeEngine listens on socketPath and serves until test cleanup.
func StartFakeEngine(t testing.TB, socketPath string) *FakeEngine {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen %s: %v", socketPath, err)
	}
	e := &FakeEngine{t: t, listener: listener}
	go e.acceptLoop()
	t.Cleanup(e.Close)
	return e
}

// Close stops the listener and drops every live connection.
func (e *FakeEngine) Close() {
	e.listener.Close()
	e.mu.Lock()
	conns := e.conns
	e.conns = nil
	e.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// Requests returns every command array received so far.
func (e *FakeEngine) Requests() [][]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]any, len(e.requests))
	copy(out, e.requests)
	return out
}

// EmitProperty pushes a property-change event on the newest connection.
func (e *FakeEngine) EmitProperty(name string, data any) {
	e.mu.Lock()
	if len(e.conns) == 0 {
		e.mu.Unlock()
		e.t.Errorf("no connection to emit %s on", name)
		return
	}
	conn := e.conns[len(e.conns)-1]
	e.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{
		"event": "property-change",
		"name":  name,
		"data":  data,
	})
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		e.t.Logf("emit %s: %v", name, err)
	}
}

func (e *FakeEngine) acceptLoop() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return
		}
		e.mu.Lock()
		e.conns = append(e.conns, conn)
		e.mu.Unlock()
		go e.serve(conn)
	}
}

func (e *FakeEngine) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		e.mu.Lock()
		e.requests = append(e.requests, req.Command)
		e.mu.Unlock()

		payload, _ := json.Marshal(map[string]any{
			"request_id": req.RequestID,
			"error":      "success",
		})
		conn.Write(append(payload, '\n'))
	}
}
