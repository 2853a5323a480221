package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.With("component", "test").Warn("shown", "segment", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %q", buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("expected json output, got %v", err)
	}
	if record["msg"] != "shown" || record["component"] != "test" || record["segment"] != 3.0 {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}

func TestNewSkipsRecordsBelowConfiguredLevel(t *testing.T) {
	logger := New(io.Discard, Options{Level: "info"})
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected debug records to be disabled at info level")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("expected info records to be enabled")
	}
}

func TestNewCopiesRecordsToStream(t *testing.T) {
	var console, stream bytes.Buffer
	logger := New(&console, Options{Level: "info", Stream: &stream})

	logger.Debug("hidden")
	logger.With("component", "server").Info("listening", "addr", ":8080")

	lines := strings.Split(strings.TrimSpace(stream.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one streamed record, got %q", stream.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("expected json output, got %v", err)
	}
	if record["type"] != "log" || record["msg"] != "listening" || record["level"] != "INFO" || record["component"] != "server" {
		t.Fatalf("unexpected streamed record %v", record)
	}
	if !strings.Contains(console.String(), "listening") {
		t.Fatalf("expected the console to receive the record too, got %q", console.String())
	}
}
