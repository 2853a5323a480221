package resultchannel

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-dictation/core/events"
)

const (
	// CloseSuperseded is sent to a consumer replaced by a newer connection.
	CloseSuperseded = 4000

	DefaultOutboxCapacity = 1024
	DefaultPingInterval   = 20 * time.Second
	DefaultPongWait       = 60 * time.Second

	writeWait = 10 * time.Second
)

// Observer is notified about channel health.
type Observer interface {
	ConsumerConnected()
	ConsumerDisconnected()
	ControlRejected()
	OutboxDropped()
}

type noopObserver struct{}

func (noopObserver) ConsumerConnected()    {}
func (noopObserver) ConsumerDisconnected() {}
func (noopObserver) ControlRejected()      {}
func (noopObserver) OutboxDropped()        {}

type outboxEntry struct {
	seq  uint64
	data []byte
}

type consumer struct {
	id   string
	conn *websocket.Conn
	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

func (c *consumer) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *consumer) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Endpoint serves the duplex result channel to a single consumer. Messages
// that could not be delivered stay in the outbox and are replayed, in order,
// to the next consumer.
//
// Around a supersede the same message can reach both consumers. Every
// message carries a seq that only grows, also across restarts, so consumers
// drop anything not newer than what they have seen.
type Endpoint struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	observer     Observer
	onControl    func(Control)
	capacity     int
	pingInterval time.Duration
	pongWait     time.Duration

	mu         sync.Mutex
	outbox     []outboxEntry
	nextSeq    uint64
	lastStatus events.Event
	current    *consumer
}

type EndpointOption func(*Endpoint)

// WithControlHandler receives every valid control message. It is called
// from the connection's read goroutine.
func WithControlHandler(handler func(Control)) EndpointOption {
	return func(e *Endpoint) { e.onControl = handler }
}

func WithLogger(logger *slog.Logger) EndpointOption {
	return func(e *Endpoint) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(observer Observer) EndpointOption {
	return func(e *Endpoint) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func WithOutboxCapacity(capacity int) EndpointOption {
	return func(e *Endpoint) {
		if capacity > 0 {
			e.capacity = capacity
		}
	}
}

func WithKeepalive(pingInterval, pongWait time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if pingInterval > 0 && pongWait > pingInterval {
			e.pingInterval = pingInterval
			e.pongWait = pongWait
		}
	}
}

func NewEndpoint(opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		upgrader: websocket.Upgrader{
			// The service listens on loopback for a local frontend.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:       slog.Default(),
		observer:     noopObserver{},
		onControl:    func(Control) {},
		capacity:     DefaultOutboxCapacity,
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
		nextSeq:      uint64(time.Now().UnixMicro()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "resultchannel")
	return e
}

// Publish queues an event for the consumer. It never blocks on the network.
func (e *Endpoint) Publish(event events.Event) {
	e.mu.Lock()
	err := e.push(event)
	if _, ok := event.(events.SessionStatus); ok && err == nil {
		e.lastStatus = event
	}
	current := e.current
	e.mu.Unlock()

	if err != nil {
		e.logger.Debug("skipping event", "kind", event.Kind(), "error", err)
		return
	}

	if current != nil {
		current.signal()
	}
}

// push stamps the next seq and appends to the outbox. Must hold mu.
func (e *Endpoint) push(event events.Event) error {
	data, err := EncodeEvent(event, e.nextSeq)
	if err != nil {
		return err
	}

	if len(e.outbox) >= e.capacity {
		e.outbox = e.outbox[1:]
		e.observer.OutboxDropped()
		e.logger.Warn("result outbox full, dropping oldest message", "capacity", e.capacity)
	}
	e.outbox = append(e.outbox, outboxEntry{seq: e.nextSeq, data: data})
	e.nextSeq++
	return nil
}

// Backlog is the number of undelivered messages.
func (e *Endpoint) Backlog() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outbox)
}

func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Close disconnects the consumer, if any.
func (e *Endpoint) Close() {
	e.mu.Lock()
	current := e.current
	e.current = nil
	e.mu.Unlock()

	if current != nil {
		_ = current.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		current.close()
	}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("failed to upgrade result channel connection", "error", err)
		return
	}

	c := &consumer{
		id:   uuid.NewString(),
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	e.mu.Lock()
	previous := e.current
	e.current = c
	if len(e.outbox) == 0 && e.lastStatus != nil {
		_ = e.push(e.lastStatus)
	}
	e.mu.Unlock()

	if previous != nil {
		e.logger.Info("consumer superseded", "consumer", previous.id, "by", c.id)
		_ = previous.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseSuperseded, "superseded"),
			time.Now().Add(writeWait))
		previous.close()
	}

	e.observer.ConsumerConnected()
	e.logger.Info("consumer connected", "consumer", c.id)
	c.signal()

	go e.writeLoop(c)
	e.readLoop(c)

	c.close()
	e.mu.Lock()
	if e.current == c {
		e.current = nil
	}
	e.mu.Unlock()
	e.observer.ConsumerDisconnected()
	e.logger.Info("consumer disconnected", "consumer", c.id)
}

func (e *Endpoint) readLoop(c *consumer) {
	_ = c.conn.SetReadDeadline(time.Now().Add(e.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(e.pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseSuperseded) {
				select {
				case <-c.done:
				default:
					e.logger.Debug("result channel read failed", "consumer", c.id, "error", err)
				}
			}
			return
		}
		if msgType != websocket.TextMessage {
			e.observer.ControlRejected()
			e.logger.Warn("ignoring non-text message", "consumer", c.id)
			continue
		}

		control, err := ParseControl(data)
		if err != nil {
			e.observer.ControlRejected()
			e.logger.Warn("ignoring invalid control message", "consumer", c.id, "error", err)
			continue
		}
		e.onControl(control)
	}
}

func (e *Endpoint) writeLoop(c *consumer) {
	ping := time.NewTicker(e.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				e.logger.Debug("ping failed", "consumer", c.id, "error", err)
				c.close()
				return
			}
		case <-c.wake:
			if err := e.flush(c); err != nil {
				e.logger.Debug("result delivery failed, keeping backlog", "consumer", c.id, "error", err)
				c.close()
				return
			}
		}
	}
}

// flush writes the outbox head by head. An entry leaves the outbox only
// after it was written to the current consumer.
func (e *Endpoint) flush(c *consumer) error {
	for {
		e.mu.Lock()
		if e.current != c {
			e.mu.Unlock()
			return nil
		}
		if len(e.outbox) == 0 {
			e.mu.Unlock()
			return nil
		}
		head := e.outbox[0]
		e.mu.Unlock()

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, head.data); err != nil {
			return fmt.Errorf("failed to write message %d: %w", head.seq, err)
		}

		e.mu.Lock()
		if len(e.outbox) > 0 && e.outbox[0].seq == head.seq {
			e.outbox = e.outbox[1:]
		}
		e.mu.Unlock()
	}
}
