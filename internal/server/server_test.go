package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/events"
	"github.com/koscakluka/ema-dictation/core/resultchannel"
	"github.com/koscakluka/ema-dictation/internal/config"
	"github.com/koscakluka/ema-dictation/internal/logging"
	"github.com/koscakluka/ema-dictation/internal/metrics"
)

type testOrchestrator struct {
	mu       sync.Mutex
	commands []orchestration.Command
	refiners []orchestration.Refiner
	handled  chan struct{}
}

func newTestOrchestrator() *testOrchestrator {
	return &testOrchestrator{handled: make(chan struct{}, 8)}
}

func (o *testOrchestrator) Handle(cmd orchestration.Command) error {
	o.mu.Lock()
	o.commands = append(o.commands, cmd)
	o.mu.Unlock()
	o.handled <- struct{}{}
	return nil
}

func (o *testOrchestrator) SetRefiner(refiner orchestration.Refiner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refiners = append(o.refiners, refiner)
}

func (o *testOrchestrator) Snapshot() orchestration.Snapshot {
	return orchestration.Snapshot{
		State:         orchestration.StateListening,
		Status:        events.StatusRecording,
		SessionID:     "session-1",
		PendingFinals: 1,
	}
}

type testDevices struct{ err error }

func (d testDevices) Devices() ([]audio.Device, error) {
	if d.err != nil {
		return nil, d.err
	}
	return []audio.Device{{Name: "Built-in Microphone", IsDefault: true}}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *testOrchestrator) {
	t.Helper()
	orchestrator := newTestOrchestrator()
	return New(Config{Addr: "127.0.0.1:0"}, orchestrator, opts...), orchestrator
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return recorder
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	recorder := get(t, s, "/health")
	if recorder.Code != http.StatusOK || strings.TrimSpace(recorder.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)

	recorder := get(t, s, "/api/status")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid status body: %v", err)
	}
	if body.State != "listening" || body.Status != "recording" || body.SessionID != "session-1" || body.PendingFinals != 1 {
		t.Fatalf("unexpected status %+v", body)
	}
	if body.ConsumerConnected {
		t.Fatalf("expected no consumer")
	}
}

func TestDevices(t *testing.T) {
	s, _ := newTestServer(t)
	if code := get(t, s, "/api/devices").Code; code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a device lister, got %d", code)
	}

	s, _ = newTestServer(t, WithDevices(testDevices{}))
	recorder := get(t, s, "/api/devices")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "Built-in Microphone") {
		t.Fatalf("unexpected devices response %d %s", recorder.Code, recorder.Body.String())
	}

	s, _ = newTestServer(t, WithDevices(testDevices{err: errors.New("no backend")}))
	if code := get(t, s, "/api/devices").Code; code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on listing failure, got %d", code)
	}
}

func TestProtocolSchema(t *testing.T) {
	s, _ := newTestServer(t)

	var schema map[string]map[string]any
	if err := json.Unmarshal(get(t, s, "/api/protocol/schema").Body.Bytes(), &schema); err != nil {
		t.Fatalf("invalid schema: %v", err)
	}
	if _, ok := schema["inbound"]["control"]; !ok {
		t.Fatalf("expected control message in inbound schema")
	}
	if _, ok := schema["outbound"]["transcription"]; !ok {
		t.Fatalf("expected transcription message in outbound schema")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	if code := get(t, s, "/metrics").Code; code != http.StatusNotFound {
		t.Fatalf("expected no metrics route without a registry, got %d", code)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveEvent(events.NewSessionStatus("s", events.StatusStarting))
	s, _ = newTestServer(t, WithMetrics(m, reg))

	recorder := get(t, s, "/metrics")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "ema_sessions_started_total 1") {
		t.Fatalf("unexpected metrics response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestResultChannelRoundTrip(t *testing.T) {
	s, orchestrator := newTestServer(t)
	httpServer := httptest.NewServer(s.Handler())
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws/audio"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","action":"start","config":{"language":"en"}}`)); err != nil {
		t.Fatalf("failed to send control: %v", err)
	}
	select {
	case <-orchestrator.handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the start command to reach the orchestrator")
	}
	orchestrator.mu.Lock()
	cmd := orchestrator.commands[0]
	orchestrator.mu.Unlock()
	if cmd.Action != orchestration.ActionStart || cmd.Config.Language == nil || *cmd.Config.Language != "en" {
		t.Fatalf("unexpected command %+v", cmd)
	}

	s.Publish(events.NewTranscriptFinal("session-1", 1, "Hello world.", time.Second, ""))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read result: %v", err)
	}
	var msg resultchannel.TranscriptionMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != resultchannel.TypeTranscription || msg.Text != "Hello world." {
		t.Fatalf("unexpected result %s (%v)", data, err)
	}
}

func TestLogStream(t *testing.T) {
	s, _ := newTestServer(t)
	if code := get(t, s, "/ws/logs").Code; code != http.StatusNotFound {
		t.Fatalf("expected no log route without a stream, got %d", code)
	}

	logs := resultchannel.NewLogHub(10)
	logger := logging.New(io.Discard, logging.Options{Level: "info", Stream: logs})
	s, _ = newTestServer(t, WithLogStream(logs), WithLogger(logger))
	logger.Info("session starting", "session", "session-1")

	httpServer := httptest.NewServer(s.Handler())
	defer httpServer.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/ws/logs", nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read log record: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("invalid log record %s: %v", data, err)
	}
	if record["type"] != "log" || record["msg"] != "session starting" || record["session"] != "session-1" {
		t.Fatalf("unexpected log record %v", record)
	}
}

func TestUpdateLLMConfig(t *testing.T) {
	var updates []resultchannel.LLMConfigMessage
	factory := func(update resultchannel.LLMConfigMessage) (orchestration.Refiner, error) {
		updates = append(updates, update)
		if update.Provider == "groq" {
			return nil, ErrMissingAPIKey
		}
		return NewRefiner(config.LLMConfig{Provider: "ollama", Timeout: time.Second, MaxTokens: 10})
	}
	s, orchestrator := newTestServer(t, WithRefinerFactory(factory))

	s.handleControl(resultchannel.Control{Action: resultchannel.ActionUpdateLLMConfig, LLM: resultchannel.LLMConfigMessage{Provider: "ollama"}})
	s.handleControl(resultchannel.Control{Action: resultchannel.ActionUpdateLLMConfig, LLM: resultchannel.LLMConfigMessage{Provider: "groq"}})

	if len(updates) != 2 {
		t.Fatalf("expected both updates to reach the factory, got %d", len(updates))
	}
	if len(orchestrator.refiners) != 1 {
		t.Fatalf("expected only the valid update to swap the refiner, got %d", len(orchestrator.refiners))
	}
	if len(orchestrator.commands) != 0 {
		t.Fatalf("expected no orchestrator command, got %v", orchestrator.commands)
	}
}

func TestLLMRefinerFactory(t *testing.T) {
	base := config.Default().LLM
	factory := LLMRefinerFactory(base)

	if _, err := factory(resultchannel.LLMConfigMessage{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}

	refiner, err := factory(resultchannel.LLMConfigMessage{Provider: "ollama", Model: "llama3", Timeout: 4})
	if err != nil {
		t.Fatalf("expected ollama without a key to work, got %v", err)
	}
	if refiner.Timeout() != 4*time.Second {
		t.Fatalf("expected 4s timeout, got %v", refiner.Timeout())
	}

	// The accumulated ollama config survives a model-only update.
	if _, err := factory(resultchannel.LLMConfigMessage{Model: "mistral"}); err != nil {
		t.Fatalf("expected model update to build on ollama config, got %v", err)
	}
}

func TestMergeLLMConfig(t *testing.T) {
	temperature := 0.7
	base := config.LLMConfig{Provider: "openai", APIBase: "https://proxy.local/v1", APIKey: "key", Model: "gpt-4o-mini", Timeout: 10 * time.Second}

	merged := mergeLLMConfig(base, resultchannel.LLMConfigMessage{Provider: "groq", Temperature: &temperature})
	if merged.APIBase != "" {
		t.Fatalf("expected provider switch to reset the base URL, got %q", merged.APIBase)
	}
	if merged.APIKey != "key" || merged.Model != "gpt-4o-mini" || merged.Temperature != 0.7 || merged.Timeout != 10*time.Second {
		t.Fatalf("unexpected merge %+v", merged)
	}
}
