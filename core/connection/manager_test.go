package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDelaySchedule(t *testing.T) {
	config := DefaultConfig("ws://localhost")
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		if got := config.Delay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(state State) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) wait(t *testing.T, match func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, state := range r.states {
			if match(state) {
				r.mu.Unlock()
				return state
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("timed out waiting for state, got %+v", r.states)
	return State{}
}

func (r *stateRecorder) count(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, state := range r.states {
		if state.Status == status {
			n++
		}
	}
	return n
}

type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestServer() *testServer {
	s := &testServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(msgType, data)
		}
	}))
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func TestManagerConnectsAndExchangesMessages(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	recorder := &stateRecorder{}
	m := NewManager(Config{URL: server.url()}, WithStatusCallback(recorder.record))
	m.Connect(context.Background())
	defer m.Disconnect()

	recorder.wait(t, func(s State) bool { return s.Status == StatusConnected })
	if err := m.SendJSON(map[string]string{"type": "control", "action": "stop"}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case msg := <-m.Messages():
		if !strings.Contains(string(msg), `"action":"stop"`) {
			t.Fatalf("unexpected echo %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected echoed message")
	}
}

func TestManagerReconnectsAfterConnectionLoss(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	recorder := &stateRecorder{}
	m := NewManager(Config{URL: server.url(), BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}, WithStatusCallback(recorder.record))
	m.Connect(context.Background())
	defer m.Disconnect()

	recorder.wait(t, func(s State) bool { return s.Status == StatusConnected })
	server.dropAll()

	reconnecting := recorder.wait(t, func(s State) bool { return s.Status == StatusReconnecting })
	if reconnecting.Attempt != 1 || reconnecting.Err == nil {
		t.Fatalf("expected first reconnect attempt with a cause, got %+v", reconnecting)
	}

	deadline := time.Now().Add(3 * time.Second)
	for recorder.count(StatusConnected) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected to reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if state := m.State(); state.Attempt != 0 {
		t.Fatalf("expected attempt to reset once connected, got %+v", state)
	}
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	server := newTestServer()
	url := server.url()
	server.Close()

	recorder := &stateRecorder{}
	m := NewManager(Config{URL: url, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, MaxAttempts: 2}, WithStatusCallback(recorder.record))
	m.Connect(context.Background())

	state := recorder.wait(t, func(s State) bool { return s.Status == StatusDisconnected })
	if !errors.Is(state.Err, ErrRetriesExhausted) || state.Attempt != 2 {
		t.Fatalf("expected exhausted retries after 2 attempts, got %+v", state)
	}
	if err := m.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManagerDisconnectNeverReconnects(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	recorder := &stateRecorder{}
	m := NewManager(Config{URL: server.url(), BaseDelay: 5 * time.Millisecond}, WithStatusCallback(recorder.record))
	m.Connect(context.Background())
	recorder.wait(t, func(s State) bool { return s.Status == StatusConnected })

	m.Disconnect()
	time.Sleep(100 * time.Millisecond)

	if got := recorder.count(StatusReconnecting); got != 0 {
		t.Fatalf("expected no reconnects after Disconnect, got %d", got)
	}
	if state := m.State(); state.Status != StatusDisconnected || state.Err != nil {
		t.Fatalf("expected a clean disconnect, got %+v", state)
	}
}

func TestManagerStopsWithContext(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	recorder := &stateRecorder{}
	m := NewManager(Config{URL: server.url()}, WithStatusCallback(recorder.record))
	m.Connect(ctx)
	recorder.wait(t, func(s State) bool { return s.Status == StatusConnected })

	cancel()
	recorder.wait(t, func(s State) bool { return s.Status == StatusDisconnected })
}
