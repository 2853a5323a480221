// Package metrics exposes the daemon's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/events"
)

const namespace = "ema"

// SnapshotSource is polled at scrape time.
type SnapshotSource interface {
	Snapshot() orchestration.Snapshot
}

// Metrics implements the result channel observers and counts session events.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	Events           *prometheus.CounterVec
	Transcriptions   *prometheus.CounterVec
	AudioDuration    prometheus.Histogram
	Refinements      *prometheus.CounterVec
	SessionErrors    prometheus.Counter
	Consumers        prometheus.Gauge
	ControlRejects   prometheus.Counter
	OutboxDrops      prometheus.Counter
	WaveformDrops    prometheus.Counter
	LLMConfigUpdates *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of dictation sessions started",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session events emitted, by kind",
		}, []string{"kind"}),
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Final transcriptions, by outcome",
		}, []string{"outcome"}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_audio_duration_seconds",
			Help:      "Audio duration of transcribed segments",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		Refinements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refinements_total",
			Help:      "Delivered refinements, by kind and whether the text changed",
		}, []string{"kind", "changed"}),
		SessionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Fatal session errors",
		}),
		Consumers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "result_consumers",
			Help:      "Connected result channel consumers",
		}),
		ControlRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_rejected_total",
			Help:      "Inbound messages that were not valid control messages",
		}),
		OutboxDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dropped_total",
			Help:      "Undelivered results dropped from a full outbox",
		}),
		WaveformDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waveform_frames_dropped_total",
			Help:      "Waveform frames dropped for slow clients",
		}),
		LLMConfigUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_config_updates_total",
			Help:      "Language model reconfigurations, by provider",
		}, []string{"provider"}),
	}
}

// WatchOrchestrator registers scrape-time views of the orchestrator state.
func (m *Metrics) WatchOrchestrator(reg prometheus.Registerer, source SnapshotSource) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_finals",
		Help:      "Finals awaiting refinement or release",
	}, func() float64 { return float64(source.Snapshot().PendingFinals) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_active",
		Help:      "1 while a dictation session is running",
	}, func() float64 {
		if source.Snapshot().SessionID != "" {
			return 1
		}
		return 0
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "levels_dropped_total",
		Help:      "Visualisation frames dropped before level analysis",
	}, func() float64 { return float64(source.Snapshot().DroppedLevels) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_queue_overruns_total",
		Help:      "Capture chunks queued beyond the soft limit",
	}, func() float64 { return float64(source.Snapshot().AudioQueueOverruns) })
}

// ObserveEvent counts an emitted session event.
func (m *Metrics) ObserveEvent(event events.Event) {
	m.Events.WithLabelValues(string(event.Kind())).Inc()

	switch e := event.(type) {
	case events.SessionStatus:
		if e.Status == events.StatusStarting {
			m.SessionsStarted.Inc()
		}
	case events.SessionError:
		m.SessionErrors.Inc()
	case events.TranscriptFinal:
		m.Transcriptions.WithLabelValues(transcriptionOutcome(e)).Inc()
		m.AudioDuration.Observe(e.AudioDuration.Seconds())
	case events.Correction:
		m.Refinements.WithLabelValues("correction", changed(e.Text, e.OriginalText)).Inc()
	case events.Translation:
		m.Refinements.WithLabelValues("translation", changed(e.Text, e.OriginalText)).Inc()
	}
}

func transcriptionOutcome(e events.TranscriptFinal) string {
	switch {
	case e.Warning != "":
		return "degraded"
	case e.Text == "":
		return "empty"
	default:
		return "ok"
	}
}

func changed(text, original string) string {
	if text == original {
		return "false"
	}
	return "true"
}

func (m *Metrics) ObserveLLMConfigUpdate(provider string) {
	m.LLMConfigUpdates.WithLabelValues(provider).Inc()
}

func (m *Metrics) ConsumerConnected()    { m.Consumers.Inc() }
func (m *Metrics) ConsumerDisconnected() { m.Consumers.Dec() }
func (m *Metrics) ControlRejected()      { m.ControlRejects.Inc() }
func (m *Metrics) OutboxDropped()        { m.OutboxDrops.Inc() }

func (m *Metrics) WaveformDropped() { m.WaveformDrops.Inc() }

// WatchWaveform exposes the number of connected waveform clients.
func (m *Metrics) WatchWaveform(reg prometheus.Registerer, clients func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "waveform_clients",
		Help:      "Connected waveform clients",
	}, func() float64 { return float64(clients()) })
}

// LogStream is the live log hub as seen by metrics.
type LogStream interface {
	Clients() int
	Dropped() uint64
}

func (m *Metrics) WatchLogStream(reg prometheus.Registerer, logs LogStream) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_stream_clients",
		Help:      "Connected live log clients",
	}, func() float64 { return float64(logs.Clients()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_stream_dropped_total",
		Help:      "Log records slow live log clients missed",
	}, func() float64 { return float64(logs.Dropped()) })
}
