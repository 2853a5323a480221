package resultchannel

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const waveformBuffer = 4

// WaveformObserver is notified when a slow client misses a frame.
type WaveformObserver interface {
	WaveformDropped()
}

type waveformClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// WaveformHub broadcasts level frames to any number of clients. Delivery is
// best effort: a client that falls behind misses frames.
type WaveformHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	observer WaveformObserver

	mu      sync.Mutex
	clients map[*waveformClient]struct{}
}

func NewWaveformHub(logger *slog.Logger, observer WaveformObserver) *WaveformHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WaveformHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger.With("component", "waveform"),
		observer: observer,
		clients:  map[*waveformClient]struct{}{},
	}
}

// Broadcast never blocks.
func (h *WaveformHub) Broadcast(levels []float32) {
	data, err := EncodeLevels(levels)
	if err != nil {
		h.logger.Debug("failed to encode levels", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			if h.observer != nil {
				h.observer.WaveformDropped()
			}
		}
	}
}

func (h *WaveformHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *WaveformHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.conn.Close()
	}
}

func (h *WaveformHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade waveform connection", "error", err)
		return
	}
	defer conn.Close()

	client := &waveformClient{conn: conn, send: make(chan []byte, waveformBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
	}()

	// Inbound messages are ignored; reading notices the client leaving.
	go func() {
		defer close(client.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-client.done:
			return
		case data := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("waveform client gone", "error", err)
				return
			}
		}
	}
}
