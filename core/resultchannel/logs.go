package resultchannel

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultLogHistory = 100
	logClientBuffer   = 500
)

// LogHub streams log records to websocket clients. It is an io.Writer that
// takes one encoded record per Write. The newest records are kept and
// replayed to every client on connect, then live records follow. A client
// that falls behind misses records.
//
// LogHub never logs itself, so it can sit behind the process logger.
type LogHub struct {
	upgrader websocket.Upgrader
	capacity int

	mu      sync.Mutex
	history [][]byte
	clients map[chan []byte]struct{}
	conns   map[*websocket.Conn]struct{}
	dropped uint64
}

func NewLogHub(history int) *LogHub {
	if history <= 0 {
		history = DefaultLogHistory
	}
	return &LogHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		capacity: history,
		clients:  map[chan []byte]struct{}{},
		conns:    map[*websocket.Conn]struct{}{},
	}
}

func (h *LogHub) Write(p []byte) (int, error) {
	record := bytes.Clone(bytes.TrimRight(p, "\n"))
	if len(record) == 0 {
		return len(p), nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.history) == h.capacity {
		h.history = append(h.history[:0], h.history[1:]...)
	}
	h.history = append(h.history, record)

	for client := range h.clients {
		select {
		case client <- record:
		default:
			h.dropped++
		}
	}
	return len(p), nil
}

// History returns the retained records, oldest first.
func (h *LogHub) History() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.history...)
}

// Dropped counts records slow clients missed.
func (h *LogHub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *LogHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *LogHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close()
	}
}

// subscribe registers a client and returns the history it has not seen yet.
func (h *LogHub) subscribe(conn *websocket.Conn) (chan []byte, [][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := make(chan []byte, logClientBuffer)
	h.clients[client] = struct{}{}
	h.conns[conn] = struct{}{}
	return client, append([][]byte(nil), h.history...)
}

func (h *LogHub) unsubscribe(conn *websocket.Conn, client chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
	delete(h.conns, conn)
}

func (h *LogHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client, history := h.subscribe(conn)
	defer h.unsubscribe(conn, client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(data []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for _, record := range history {
		if !write(record) {
			return
		}
	}
	for {
		select {
		case <-done:
			return
		case record := <-client:
			if !write(record) {
				return
			}
		}
	}
}
