// Package server is the daemon's HTTP surface: the result channel, the
// waveform stream and a few JSON endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/events"
	"github.com/koscakluka/ema-dictation/core/resultchannel"
	"github.com/koscakluka/ema-dictation/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Orchestrator is the part of the pipeline the server drives.
type Orchestrator interface {
	Handle(cmd orchestration.Command) error
	SetRefiner(refiner orchestration.Refiner)
	Snapshot() orchestration.Snapshot
}

type DeviceLister interface {
	Devices() ([]audio.Device, error)
}

type Config struct {
	Addr           string
	Debug          bool
	OutboxCapacity int
	PingInterval   time.Duration
	PongWait       time.Duration
}

type Server struct {
	config       Config
	orchestrator Orchestrator
	devices      DeviceLister
	newRefiner   RefinerFactory
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	logger       *slog.Logger

	endpoint *resultchannel.Endpoint
	waveform *resultchannel.WaveformHub
	logs     *resultchannel.LogHub
	engine   *gin.Engine
}

type Option func(*Server)

func WithDevices(devices DeviceLister) Option {
	return func(s *Server) { s.devices = devices }
}

// WithRefinerFactory enables update_llm_config.
func WithRefinerFactory(factory RefinerFactory) Option {
	return func(s *Server) { s.newRefiner = factory }
}

func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithLogStream serves the records written to logs on /ws/logs.
func WithLogStream(logs *resultchannel.LogHub) Option {
	return func(s *Server) { s.logs = logs }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(config Config, orchestrator Orchestrator, opts ...Option) *Server {
	s := &Server{
		config:       config,
		orchestrator: orchestrator,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	endpointOpts := []resultchannel.EndpointOption{
		resultchannel.WithControlHandler(s.handleControl),
		resultchannel.WithLogger(s.logger),
		resultchannel.WithOutboxCapacity(config.OutboxCapacity),
		resultchannel.WithKeepalive(config.PingInterval, config.PongWait),
	}
	var waveformObserver resultchannel.WaveformObserver
	if s.metrics != nil {
		endpointOpts = append(endpointOpts, resultchannel.WithObserver(s.metrics))
		waveformObserver = s.metrics
	}
	s.endpoint = resultchannel.NewEndpoint(endpointOpts...)
	s.waveform = resultchannel.NewWaveformHub(s.logger, waveformObserver)

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/ws/audio", gin.WrapH(s.endpoint))
	s.engine.GET("/ws/waveform", gin.WrapH(s.waveform))
	if s.logs != nil {
		s.engine.GET("/ws/logs", gin.WrapH(s.logs))
	}

	api := s.engine.Group("/api")
	api.GET("/status", s.status)
	api.GET("/devices", s.listDevices)
	api.GET("/protocol/schema", s.protocolSchema)

	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler serves every route with tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "ema",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }),
	)
}

// Publish hands an event to the result channel.
func (s *Server) Publish(event events.Event) {
	s.endpoint.Publish(event)
}

func (s *Server) BroadcastLevels(levels []float32) {
	s.waveform.Broadcast(levels)
}

func (s *Server) WaveformClients() int {
	return s.waveform.Clients()
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.config.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", listener.Addr().String())
		errs <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.endpoint.Close()
	s.waveform.Close()
	if s.logs != nil {
		s.logs.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
