package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/events"
)

func TestObserveEvent(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvent(events.NewSessionStatus("s", events.StatusStarting))
	m.ObserveEvent(events.NewSessionStatus("s", events.StatusRecording))
	m.ObserveEvent(events.NewTranscriptFinal("s", 1, "hello", time.Second, ""))
	m.ObserveEvent(events.NewTranscriptFinal("s", 2, "", time.Second, ""))
	m.ObserveEvent(events.NewTranscriptFinal("s", 3, "", time.Second, "recognition failed"))
	m.ObserveEvent(events.NewCorrection("s", 1, "Hello.", "hello"))
	m.ObserveEvent(events.NewTranslation("s", 1, "Bonjour.", "Hello.", "French"))

	if got := testutil.ToFloat64(m.SessionsStarted); got != 1 {
		t.Fatalf("expected 1 session started, got %v", got)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues(string(events.KindSessionStatus))); got != 2 {
		t.Fatalf("expected 2 status events, got %v", got)
	}
	for _, outcome := range []string{"ok", "empty", "degraded"} {
		if got := testutil.ToFloat64(m.Transcriptions.WithLabelValues(outcome)); got != 1 {
			t.Fatalf("expected 1 %s transcription, got %v", outcome, got)
		}
	}
	if got := testutil.ToFloat64(m.Refinements.WithLabelValues("correction", "true")); got != 1 {
		t.Fatalf("expected 1 changed correction, got %v", got)
	}
	if got := testutil.ToFloat64(m.Refinements.WithLabelValues("translation", "true")); got != 1 {
		t.Fatalf("expected 1 translation, got %v", got)
	}
}

func TestObserverCallbacks(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConsumerConnected()
	m.ConsumerConnected()
	m.ConsumerDisconnected()
	m.ControlRejected()
	m.OutboxDropped()
	m.WaveformDropped()

	if got := testutil.ToFloat64(m.Consumers); got != 1 {
		t.Fatalf("expected 1 consumer, got %v", got)
	}
	if testutil.ToFloat64(m.ControlRejects) != 1 || testutil.ToFloat64(m.OutboxDrops) != 1 || testutil.ToFloat64(m.WaveformDrops) != 1 {
		t.Fatalf("expected every drop counted once")
	}
}

type fixedSnapshot orchestration.Snapshot

func (s fixedSnapshot) Snapshot() orchestration.Snapshot { return orchestration.Snapshot(s) }

func TestWatchOrchestrator(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchOrchestrator(reg, fixedSnapshot{SessionID: "abc", PendingFinals: 2, DroppedLevels: 5})

	values := scrape(t, reg)
	if values["ema_pending_finals"] != 2 || values["ema_session_active"] != 1 || values["ema_levels_dropped_total"] != 5 {
		t.Fatalf("unexpected scraped values %v", values)
	}
}

type fixedLogStream struct {
	clients int
	dropped uint64
}

func (s fixedLogStream) Clients() int    { return s.clients }
func (s fixedLogStream) Dropped() uint64 { return s.dropped }

func TestWatchLogStream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchLogStream(reg, fixedLogStream{clients: 2, dropped: 7})

	values := scrape(t, reg)
	if values["ema_log_stream_clients"] != 2 || values["ema_log_stream_dropped_total"] != 7 {
		t.Fatalf("unexpected scraped values %v", values)
	}
}

func scrape(t *testing.T, reg prometheus.Gatherer) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}
	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[family.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[family.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}
	return values
}
