// Command emad is the dictation daemon. It captures the microphone, serves
// the result channel and drives the pipeline on the consumer's commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/audio/miniaudio"
	"github.com/koscakluka/ema-dictation/core/audio/portaudio"
	"github.com/koscakluka/ema-dictation/core/events"
	"github.com/koscakluka/ema-dictation/core/resultchannel"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
	"github.com/koscakluka/ema-dictation/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-dictation/core/speechtotext/whisper"
	"github.com/koscakluka/ema-dictation/core/textinput"
	"github.com/koscakluka/ema-dictation/core/vad"
	"github.com/koscakluka/ema-dictation/internal/config"
	"github.com/koscakluka/ema-dictation/internal/logging"
	"github.com/koscakluka/ema-dictation/internal/metrics"
	"github.com/koscakluka/ema-dictation/internal/server"
	"github.com/koscakluka/ema-dictation/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("emad failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}

	logStream := resultchannel.NewLogHub(cfg.Logging.StreamHistory)
	logger := logging.New(os.Stderr, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stream: logStream,
	})
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	source, closeSource, err := newAudioSource(cfg.Audio)
	if err != nil {
		return err
	}
	defer closeSource()

	recognizer, err := newRecognizer(cfg.ASR)
	if err != nil {
		return err
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithLogger(logger),
		orchestration.WithAudioSource(source),
		orchestration.WithAudioQueueSoftLimit(cfg.Audio.QueueCapacity),
		orchestration.WithVoiceActivityClassifier(vad.EnergyClassifier{Reference: cfg.VAD.EnergyReference}),
		orchestration.WithSegmenterConfig(vad.Config{
			Threshold:       cfg.VAD.Threshold,
			StartFrames:     cfg.VAD.StartFrames,
			Hangover:        cfg.VAD.Hangover,
			MaxDuration:     cfg.VAD.MaxDuration,
			ClassifyTimeout: cfg.VAD.ClassifyTimeout,
		}),
		orchestration.WithRecognizer(recognizer),
		orchestration.WithTranscriptionConfig(orchestration.TranscriptionConfig{
			FinalTimeout:    cfg.ASR.FinalTimeout,
			PartialInterval: cfg.ASR.PartialInterval,
			PartialMinAudio: cfg.ASR.PartialMinAudio,
			PartialTimeout:  cfg.ASR.PartialTimeout,
			DisablePartials: cfg.ASR.DisablePartials,
		}),
		orchestration.WithRefinementConcurrency(cfg.LLM.Concurrency),
		orchestration.WithTextInjector(textinput.Clipboard{}),
		orchestration.WithDefaultSessionConfig(orchestration.SessionConfig{
			Language:           cfg.ASR.Language,
			CorrectionEnabled:  cfg.Session.CorrectionEnabled,
			TranslationEnabled: cfg.Session.TranslationEnabled,
			TargetLanguage:     cfg.Session.TargetLanguage,
			ContextCount:       cfg.Session.ContextCount,
			AutoInput:          cfg.Session.AutoInput,
			ReportSpeaking:     cfg.Session.ReportSpeaking,
		}),
		orchestration.WithDrainGrace(cfg.Channel.DrainGrace),
	}
	if cfg.LLM.Enabled() {
		refiner, err := server.NewRefiner(cfg.LLM)
		if err != nil {
			return err
		}
		opts = append(opts, orchestration.WithRefiner(refiner))
	} else {
		logger.Info("no language model configured, correction and translation are off until update_llm_config")
	}
	orchestrator := orchestration.NewOrchestrator(opts...)
	defer orchestrator.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	m.WatchOrchestrator(registry, orchestrator)
	m.WatchLogStream(registry, logStream)

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m, registry),
		server.WithLogStream(logStream),
		server.WithRefinerFactory(server.LLMRefinerFactory(cfg.LLM)),
	}
	if lister, ok := source.(server.DeviceLister); ok {
		serverOpts = append(serverOpts, server.WithDevices(lister))
	}
	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr(),
		Debug:          cfg.Logging.Level == "debug",
		OutboxCapacity: cfg.Channel.OutboxCapacity,
		PingInterval:   cfg.Channel.PingInterval,
		PongWait:       cfg.Channel.PongWait,
	}, orchestrator, serverOpts...)
	m.WatchWaveform(registry, srv.WaveformClients)

	orchestrator.Orchestrate(ctx,
		orchestration.WithEventCallback(func(event events.Event) {
			srv.Publish(event)
			m.ObserveEvent(event)
		}),
		orchestration.WithLevelsCallback(srv.BroadcastLevels),
	)

	logger.Info("emad started",
		"version", version,
		"addr", cfg.Server.Addr(),
		"audio_backend", cfg.Audio.Backend,
		"asr_provider", cfg.ASR.Provider,
		"llm_provider", cfg.LLM.Provider,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(ctx) })
	if preparer, ok := recognizer.(speechtotext.Preparer); ok {
		group.Go(func() error {
			// A failed probe only warns here; starting a session reports it.
			if err := preparer.Prepare(ctx, func(speechtotext.PrepareStage) {}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("speech recognizer is not ready yet", "error", err)
			}
			return nil
		})
	}
	err = group.Wait()
	logger.Info("emad stopped")
	return err
}

func newAudioSource(cfg config.AudioConfig) (orchestration.AudioSource, func(), error) {
	switch cfg.Backend {
	case "portaudio":
		client, err := portaudio.NewClient(cfg.BufferSize)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

func newRecognizer(cfg config.ASRConfig) (speechtotext.Recognizer, error) {
	switch cfg.Provider {
	case "deepgram":
		var opts []deepgram.Option
		if cfg.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Model))
		}
		client, err := deepgram.NewTranscriptionClient(cfg.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepgram recognizer: %w", err)
		}
		return client, nil
	default:
		return whisper.NewClient(cfg.Endpoint), nil
	}
}
