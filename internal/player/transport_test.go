package player_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"wavelink/internal/logging"
	"wavelink/internal/player"
)

// pipeTransport connects a transport to the near end of a net.Pipe and
// returns the far end playing the engine's role.
func pipeTransport(t *testing.T) (*player.Transport, net.Conn) {
	t.Helper()

	client, engine := net.Pipe()
	transport := player.NewWithDialer(func(context.Context) (net.Conn, error) {
		return client, nil
	}, logging.NewNop())
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("transport.Connect: %v", err)
	}
	t.Cleanup(func() {
		transport.Close()
		engine.Close()
	})
	return transport, engine
}

func TestSendWritesSingleJSONLine(t *testing.T) {
	transport, engine := pipeTransport(t)

	done := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(engine)
		line, err := reader.ReadString('\n')
		if err != nil {
			done <- ""
			return
		}
		done <- line
	}()

	cmd := player.NewCommand(player.VerbSeek, player.SourceUser, 3.25, player.SeekModeAbsolute)
	if err := transport.Send(cmd.WireRequest()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case line := <-done:
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.Fatalf("engine received malformed line %q: %v", line, err)
		}
		if req.RequestID != cmd.ID || req.Command[0] != "seek" {
			t.Fatalf("unexpected wire request: %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("engine never received the request")
	}
}

func TestResponsesAndEventsAreSplit(t *testing.T) {
	transport, engine := pipeTransport(t)

	go func() {
		engine.Write([]byte(`{"request_id":7,"error":"success","data":null}` + "\n"))
		engine.Write([]byte(`{"event":"property-change","name":"time-pos","data":12.5}` + "\n"))
	}()

	select {
	case resp := <-transport.Responses():
		if resp.RequestID != 7 || !resp.OK() {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("no response delivered")
	}

	select {
	case ev := <-transport.Events():
		if ev.Event != player.EventPropertyChange || ev.Name != player.PropertyTimePos {
			t.Fatalf("unexpected event: %+v", ev)
		}
		var pos float64
		if err := json.Unmarshal(ev.Data, &pos); err != nil || pos != 12.5 {
			t.Fatalf("event payload mangled: %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestMalformedLinesAreDroppedNotFatal(t *testing.T) {
	transport, engine := pipeTransport(t)

	go func() {
		engine.Write([]byte("this is not json\n"))
		engine.Write([]byte(`{"request_id":9,"error":"success"}` + "\n"))
	}()

	select {
	case resp := <-transport.Responses():
		if resp.RequestID != 9 {
			t.Fatalf("unexpected response after malformed line: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("transport died on malformed input")
	}
}

func TestDisconnectReportedOnceAndSendFailsAfter(t *testing.T) {
	transport, engine := pipeTransport(t)

	engine.Close()

	select {
	case <-transport.Disconnects():
	case <-time.After(time.Second):
		t.Fatal("disconnect never reported")
	}

	// The transport settles into the not-connected state after the reader
	// and writer both observe the close.
	deadline := time.Now().Add(time.Second)
	for {
		err := transport.Send(player.NewCommand(player.VerbPlay, player.SourceUser).WireRequest())
		if errors.Is(err, player.ErrNotConnected) {
			break
		}
		if err == nil {
			t.Fatal("Send should fail after disconnect")
		}
		if time.Now().After(deadline) {
			t.Fatalf("Send never settled on ErrNotConnected: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case reason := <-transport.Disconnects():
		t.Fatalf("second disconnect reported: %q", reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendBeforeConnectFailsFast(t *testing.T) {
	transport := player.NewWithDialer(func(context.Context) (net.Conn, error) {
		return nil, errors.New("unused")
	}, logging.NewNop())

	err := transport.Send(player.NewCommand(player.VerbPlay, player.SourceUser).WireRequest())
	if !errors.Is(err, player.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	conns := make(chan net.Conn, 2)
	clientA, engineA := net.Pipe()
	clientB, engineB := net.Pipe()
	conns <- clientA
	conns <- clientB
	t.Cleanup(func() {
		engineA.Close()
		engineB.Close()
	})

	transport := player.NewWithDialer(func(context.Context) (net.Conn, error) {
		return <-conns, nil
	}, logging.NewNop())
	t.Cleanup(func() { transport.Close() })

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	engineA.Close()
	select {
	case <-transport.Disconnects():
	case <-time.After(time.Second):
		t.Fatal("disconnect never reported")
	}

	deadline := time.Now().Add(time.Second)
	for transport.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("transport still connected after engine close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !transport.Connected() {
		t.Fatal("transport should be connected after redial")
	}
}
