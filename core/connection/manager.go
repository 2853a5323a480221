// Package connection keeps a consumer connected to the result channel,
// reconnecting with exponential backoff.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

type State struct {
	Status Status
	// Attempt is the number of the scheduled reconnect, zero once connected.
	Attempt int
	Err     error
}

type Config struct {
	URL       string
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts of zero retries forever.
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig(c.URL)
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = max(defaults.MaxDelay, c.BaseDelay)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	return c
}

// backoff doubles from BaseDelay up to MaxDelay without jitter.
func (c Config) backoff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.MaxDelay,
	}
	b.Reset()
	return b
}

// Delay is the wait before reconnect attempt n, counting from 1.
func (c Config) Delay(attempt int) time.Duration {
	b := c.withDefaults().backoff()
	var delay time.Duration
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}
	return delay
}

type Option func(*Manager)

// WithStatusCallback is called on every state change. It runs with the
// manager locked and must not call back into it.
func WithStatusCallback(callback func(State)) Option {
	return func(m *Manager) { m.onStatus = callback }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type Manager struct {
	config   Config
	dialer   *websocket.Dialer
	logger   *slog.Logger
	onStatus func(State)
	messages chan []byte

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	connDone   chan struct{}
	wanted     bool
	generation uint64
	retry      *time.Timer
	backoff    *backoff.ExponentialBackOff
	ctx        context.Context
	stopCtx    func() bool

	writeMu sync.Mutex
}

func NewManager(config Config, opts ...Option) *Manager {
	config = config.withDefaults()
	m := &Manager{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		logger:   slog.Default(),
		onStatus: func(State) {},
		messages: make(chan []byte, 64),
		state:    State{Status: StatusDisconnected},
		backoff:  config.backoff(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection")
	return m
}

// Connect starts connecting in the background and keeps the connection up
// until Disconnect is called or ctx is done. Calling it again restarts the
// schedule.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invalidate()
	m.wanted = true
	m.ctx = ctx
	m.stopCtx = context.AfterFunc(ctx, m.Disconnect)
	m.backoff.Reset()
	m.setState(State{Status: StatusConnecting})

	generation := m.generation
	go m.dial(generation)
}

// Disconnect closes the connection. It never triggers a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasActive := m.wanted || m.conn != nil
	m.wanted = false
	m.invalidate()
	if wasActive {
		m.setState(State{Status: StatusDisconnected})
	}
}

// invalidate cancels scheduled work and closes the connection. Must hold mu.
func (m *Manager) invalidate() {
	m.generation++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.stopCtx != nil {
		m.stopCtx()
		m.stopCtx = nil
	}
	if m.conn != nil {
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
}

func (m *Manager) setState(state State) {
	current := m.state
	if state.Status == current.Status && state.Attempt == current.Attempt && state.Err == nil && current.Err == nil {
		return
	}
	m.state = state
	m.onStatus(state)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Messages delivers inbound text messages across reconnects.
func (m *Manager) Messages() <-chan []byte { return m.messages }

func (m *Manager) dial(generation uint64) {
	m.mu.Lock()
	if generation != m.generation || !m.wanted {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.HandshakeTimeout)
	defer cancel()
	conn, _, err := m.dialer.DialContext(ctx, m.config.URL, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation || !m.wanted {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.scheduleRetry(generation, fmt.Errorf("failed to connect to %s: %w", m.config.URL, err))
		return
	}

	m.conn = conn
	m.connDone = make(chan struct{})
	m.backoff.Reset()
	m.setState(State{Status: StatusConnected})
	m.logger.Info("connected", "url", m.config.URL)
	go m.readLoop(conn, generation, m.connDone)
}

// scheduleRetry arms the next attempt. Must hold mu.
func (m *Manager) scheduleRetry(generation uint64, cause error) {
	attempt := m.state.Attempt + 1
	if m.state.Status == StatusConnected {
		attempt = 1
	}

	if m.config.MaxAttempts > 0 && attempt > m.config.MaxAttempts {
		m.wanted = false
		m.logger.Warn("giving up on reconnecting", "attempts", m.config.MaxAttempts, "error", cause)
		m.setState(State{Status: StatusDisconnected, Attempt: attempt - 1, Err: fmt.Errorf("%w: %w", ErrRetriesExhausted, cause)})
		return
	}

	delay := m.backoff.NextBackOff()
	m.logger.Debug("reconnect scheduled", "attempt", attempt, "delay", delay, "error", cause)
	m.setState(State{Status: StatusReconnecting, Attempt: attempt, Err: cause})
	m.retry = time.AfterFunc(delay, func() { m.dial(generation) })
}

func (m *Manager) readLoop(conn *websocket.Conn, generation uint64, stop <-chan struct{}) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if generation == m.generation && m.wanted && m.conn == conn {
				m.conn = nil
				m.connDone = nil
				_ = conn.Close()
				m.scheduleRetry(generation, fmt.Errorf("connection lost: %w", err))
			}
			m.mu.Unlock()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case m.messages <- data:
		case <-stop:
			return
		}
	}
}

func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (m *Manager) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return m.Send(data)
}
