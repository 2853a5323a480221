package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
)

func TestTranscribeUploadsWAVAndParsesText(t *testing.T) {
	var gotLanguage, gotFormat string
	var gotFileSize int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		if _, header, err := r.FormFile("file"); err == nil {
			gotFileSize = header.Size
		}
		w.Write([]byte(`{"text":"  hello world \n"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	text, err := client.Transcribe(context.Background(), make([]byte, 3200), speechtotext.WithLanguage("en"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
	if gotLanguage != "en" || gotFormat != "json" {
		t.Fatalf("unexpected form fields language=%q format=%q", gotLanguage, gotFormat)
	}
	if gotFileSize != 44+3200 {
		t.Fatalf("expected a WAV upload of %d bytes, got %d", 44+3200, gotFileSize)
	}
}

func TestTranscribeDropsNonSpeechMarkers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"[BLANK_AUDIO]"}`))
	}))
	defer server.Close()

	text, err := NewClient(server.URL).Transcribe(context.Background(), make([]byte, 320))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
}

func TestTranscribeReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).Transcribe(context.Background(), make([]byte, 320)); err == nil {
		t.Fatalf("expected error for a failing server")
	}
}

func TestTranscribeRejectsNonLinearEncoding(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Transcribe(context.Background(), make([]byte, 320),
		speechtotext.WithEncodingInfo(audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}))
	if err == nil {
		t.Fatalf("expected error for mulaw audio")
	}
}

func TestPrepareWaitsForModel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	var stages []speechtotext.PrepareStage
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := NewClient(server.URL).Prepare(ctx, func(stage speechtotext.PrepareStage) {
		stages = append(stages, stage)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(stages) != 1 || stages[0] != speechtotext.PrepareLoading {
		t.Fatalf("expected a single loading report, got %v", stages)
	}
}
