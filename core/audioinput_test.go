package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-dictation/core/audio"
)

func TestWithAudioSourceConfiguresAudioInputFacade(t *testing.T) {
	source := &testAudioSource{}
	o := NewOrchestrator(WithAudioSource(source))

	if !o.audioInput.IsConfigured() {
		t.Fatalf("expected audio input facade to be configured")
	}
	if o.audioInput.base != source {
		t.Fatalf("expected facade source to match configured audio source")
	}
	if o.audioInput.faults == nil {
		t.Fatalf("expected fault reporting source to be detected")
	}
}

func TestAudioInputFacadeUsesDefaultEncodingInfoWhenUnset(t *testing.T) {
	facade := newTestAudioInput(nil)

	if facade.IsConfigured() {
		t.Fatalf("expected unset facade to be unconfigured")
	}

	if got, want := facade.EncodingInfo(), audio.GetDefaultEncodingInfo(); got != want {
		t.Fatalf("expected default encoding info %+v, got %+v", want, got)
	}
}

func TestAudioInputFacadeCaptureIsIdempotent(t *testing.T) {
	source := &testAudioSource{}
	facade := newTestAudioInput(source)

	for range 2 {
		if err := facade.Capture(context.Background()); err != nil {
			t.Fatalf("expected capture to start, got %v", err)
		}
	}
	for range 2 {
		if err := facade.StopCapture(); err != nil {
			t.Fatalf("expected capture to stop, got %v", err)
		}
	}

	if got := source.startCalls.Load(); got != 1 {
		t.Fatalf("expected 1 start call, got %d", got)
	}
	if got := source.stopCalls.Load(); got != 1 {
		t.Fatalf("expected 1 stop call, got %d", got)
	}
}

func TestAudioInputFacadeCaptureFailureResetsState(t *testing.T) {
	source := &testAudioSource{startErr: errors.New("device busy")}
	facade := newTestAudioInput(source)

	if err := facade.Capture(context.Background()); err == nil {
		t.Fatalf("expected capture error")
	}
	if facade.IsCapturing() {
		t.Fatalf("expected facade to not be capturing after a failed start")
	}
}

func TestAudioInputFacadeQueuesAudioOnlyWhileCapturing(t *testing.T) {
	source := &testAudioSource{}
	facade := newTestAudioInput(source)

	facade.onAudio([]byte{0x01})
	if err := facade.Capture(context.Background()); err != nil {
		t.Fatalf("expected capture to start, got %v", err)
	}
	source.push([]byte{0x02})
	source.push([]byte{0x03})
	if err := facade.StopCapture(); err != nil {
		t.Fatalf("expected capture to stop, got %v", err)
	}
	facade.onAudio([]byte{0x04})

	select {
	case <-facade.Ready():
	case <-time.After(time.Second):
		t.Fatalf("expected queued audio to signal readiness")
	}

	chunks := facade.Drain()
	if len(chunks) != 2 || chunks[0][0] != 0x02 || chunks[1][0] != 0x03 {
		t.Fatalf("expected chunks captured while capturing, got %v", chunks)
	}
}

func TestAudioInputFacadeReportsSoftLimitOnce(t *testing.T) {
	facade := newAudioInput(&testAudioSource{})
	facade.softLimit = 2
	var overruns atomic.Int32
	facade.init(func(int) { overruns.Add(1) })

	if err := facade.Capture(context.Background()); err != nil {
		t.Fatalf("expected capture to start, got %v", err)
	}
	for range 5 {
		facade.onAudio([]byte{0x01})
	}

	if got := overruns.Load(); got != 1 {
		t.Fatalf("expected a single overrun report, got %d", got)
	}
	if got := len(facade.Drain()); got != 5 {
		t.Fatalf("expected no audio to be dropped, got %d chunks", got)
	}
}

func newTestAudioInput(source AudioSource) *audioInput {
	facade := newAudioInput(source)
	facade.init(nil)
	return facade
}

type testAudioSource struct {
	mu       sync.Mutex
	onAudio  func([]byte)
	onFault  func(error)
	startErr error

	startCalls atomic.Int32
	stopCalls  atomic.Int32
}

func (s *testAudioSource) StartCapture(_ context.Context, onAudio func([]byte)) error {
	s.startCalls.Add(1)
	if s.startErr != nil {
		return s.startErr
	}

	s.mu.Lock()
	s.onAudio = onAudio
	s.mu.Unlock()
	return nil
}

func (s *testAudioSource) StopCapture() error {
	s.stopCalls.Add(1)
	return nil
}

func (s *testAudioSource) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (s *testAudioSource) OnFault(handler func(error)) {
	s.mu.Lock()
	s.onFault = handler
	s.mu.Unlock()
}

func (s *testAudioSource) push(pcm []byte) {
	s.mu.Lock()
	onAudio := s.onAudio
	s.mu.Unlock()
	if onAudio != nil {
		onAudio(pcm)
	}
}

func (s *testAudioSource) fault(err error) {
	s.mu.Lock()
	onFault := s.onFault
	s.mu.Unlock()
	if onFault != nil {
		onFault(err)
	}
}
