package resultchannel

import (
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestLogHubKeepsNewestHistory(t *testing.T) {
	hub := NewLogHub(3)
	for i := range 5 {
		fmt.Fprintf(hub, "{\"msg\":\"record %d\"}\n", i)
	}

	history := hub.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history))
	}
	if string(history[0]) != `{"msg":"record 2"}` || string(history[2]) != `{"msg":"record 4"}` {
		t.Fatalf("expected the newest records without newlines, got %q", history)
	}
}

func TestLogHubReplaysHistoryThenStreams(t *testing.T) {
	hub := NewLogHub(DefaultLogHistory)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	fmt.Fprintln(hub, `{"type":"log","msg":"before"}`)

	conn := dial(t, server)
	defer conn.Close()

	if msg := readType(t, conn); msg["msg"] != "before" {
		t.Fatalf("expected history first, got %v", msg)
	}

	waitUntil(t, "client registration", func() bool { return hub.Clients() == 1 })
	fmt.Fprintln(hub, `{"type":"log","msg":"after"}`)
	if msg := readType(t, conn); msg["msg"] != "after" || msg["type"] != "log" {
		t.Fatalf("expected the live record, got %v", msg)
	}
}

func TestLogHubDropsForSlowClients(t *testing.T) {
	hub := NewLogHub(1)
	client := make(chan []byte, 1)
	hub.clients[client] = struct{}{}

	fmt.Fprintln(hub, `{"msg":"one"}`)
	fmt.Fprintln(hub, `{"msg":"two"}`)

	if got := hub.Dropped(); got != 1 {
		t.Fatalf("expected one dropped record, got %d", got)
	}
	if got := string(<-client); got != `{"msg":"one"}` {
		t.Fatalf("expected the first record to be delivered, got %q", got)
	}
}
