package orchestration

import (
	"context"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/events"
	"github.com/koscakluka/ema-dictation/core/refinement"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
	"github.com/koscakluka/ema-dictation/core/textinput"
	"github.com/koscakluka/ema-dictation/core/vad"
)

type OrchestratorOption func(*Orchestrator)

// AudioSource produces linear16 audio while capturing. onAudio is called
// from the capture thread and must not block.
type AudioSource interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

// AudioSourceWithFaults is implemented by sources that can fail after
// capture started, for example when the device is unplugged.
type AudioSourceWithFaults interface {
	AudioSource
	OnFault(handler func(error))
}

func WithAudioSource(source AudioSource) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput.Set(source) }
}

func WithVoiceActivityClassifier(classifier vad.Classifier) OrchestratorOption {
	return func(o *Orchestrator) { o.classifier = classifier }
}

func WithSegmenterConfig(config vad.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.segmenterConfig = config }
}

func WithRecognizer(recognizer speechtotext.Recognizer) OrchestratorOption {
	return func(o *Orchestrator) { o.transcription.recognizer = recognizer }
}

func WithTranscriptionConfig(config TranscriptionConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.transcription.config = config.withDefaults() }
}

// Refiner post-processes final transcripts.
type Refiner interface {
	Refine(ctx context.Context, req refinement.Request, progress func(refinement.Stage)) refinement.Result
	Timeout() time.Duration
}

func WithRefiner(refiner Refiner) OrchestratorOption {
	return func(o *Orchestrator) { o.refinement.refiner = refiner }
}

// WithRefinementConcurrency bounds how many segments are refined at once.
func WithRefinementConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.refinement.concurrency = int64(n)
		}
	}
}

func WithTextInjector(injector textinput.Injector) OrchestratorOption {
	return func(o *Orchestrator) { o.injector = injector }
}

func WithDefaultSessionConfig(config SessionConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.defaults = config.clone() }
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAudioQueueSoftLimit sets the number of queued capture chunks above
// which a stall is reported. Audio is never dropped.
func WithAudioQueueSoftLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput.softLimit = limit }
}

// WithDrainGrace extends the stop drain deadline beyond the final and
// refinement timeouts.
func WithDrainGrace(grace time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.drainGrace = grace }
}

type OrchestrateOptions struct {
	onEvent         func(events.Event)
	onStatus        func(events.Status)
	onPartial       func(transcript string)
	onTranscription func(transcript string)
	onLevels        func(levels []float32)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithEventCallback receives every event in emission order. It is called
// from the dispatch loop and must not block.
func WithEventCallback(callback func(event events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onEvent = callback }
}

func WithStatusCallback(callback func(status events.Status)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onStatus = callback }
}

func WithPartialTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onPartial = callback }
}

func WithTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onTranscription = callback }
}

// WithLevelsCallback receives waveform levels. Levels are produced on a
// separate goroutine and may be dropped when the callback is slow.
func WithLevelsCallback(callback func(levels []float32)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onLevels = callback }
}
