package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// openSegment is the audio of the segment currently being spoken. Owned by
// the dispatch loop.
type openSegment struct {
	id       uint64
	pcm      []byte
	duration time.Duration

	sinceLastPartial time.Duration
	partialRunning   bool
	cancelPartial    context.CancelFunc
	revision         uint64
	lastPartial      string
}

type finalJob struct {
	ctx        context.Context
	generation uint64
	segmentID  uint64
	pcm        []byte
	duration   time.Duration
	language   string
}

type finalResult struct {
	generation uint64
	segmentID  uint64
	text       string
	duration   time.Duration
	warning    string
}

type transcriptionStage struct {
	recognizer speechtotext.Recognizer
	config     TranscriptionConfig
	encoding   audio.EncodingInfo

	open          *openSegment
	pendingFinals int

	// jobs feeds the final worker. Finals are produced strictly in the
	// order segments closed.
	jobs *queue[finalJob]
}

func newTranscriptionStage() *transcriptionStage {
	return &transcriptionStage{
		config: DefaultTranscriptionConfig(),
		jobs:   newQueue[finalJob](0, nil),
	}
}

func (t *transcriptionStage) onSegmentOpened(id uint64) {
	t.open = &openSegment{id: id}
}

// onAudioAppended adds a frame to the open segment and reports whether a
// partial inference is due.
func (t *transcriptionStage) onAudioAppended(id uint64, frame audio.Frame) bool {
	if t.open == nil || t.open.id != id {
		return false
	}

	t.open.pcm = append(t.open.pcm, frame.PCM...)
	t.open.duration += frame.Duration
	t.open.sinceLastPartial += frame.Duration

	return t.partialDue()
}

func (t *transcriptionStage) partialDue() bool {
	if t.recognizer == nil || t.config.DisablePartials || t.open == nil {
		return false
	}
	// Partials yield to finals.
	if t.open.partialRunning || t.pendingFinals > 0 {
		return false
	}
	return t.open.duration >= t.config.PartialMinAudio && t.open.sinceLastPartial >= t.config.PartialInterval
}

// startPartial snapshots the open segment audio for a partial run.
func (t *transcriptionStage) startPartial(ctx context.Context) (context.Context, []byte) {
	ctx, cancel := context.WithTimeout(ctx, t.config.PartialTimeout)
	t.open.partialRunning = true
	t.open.cancelPartial = cancel
	t.open.sinceLastPartial = 0
	return ctx, append([]byte(nil), t.open.pcm...)
}

// acceptPartial records a partial hypothesis and returns the revision to
// publish it under, or false when it must be dropped. done marks the end of
// the partial run that produced it.
func (t *transcriptionStage) acceptPartial(id uint64, text string, done bool) (uint64, bool) {
	if t.open == nil || t.open.id != id {
		return 0, false
	}
	if done {
		t.open.partialRunning = false
		if t.open.cancelPartial != nil {
			t.open.cancelPartial()
			t.open.cancelPartial = nil
		}
	}

	if text == "" || text == t.open.lastPartial {
		return 0, false
	}
	t.open.revision++
	t.open.lastPartial = text
	return t.open.revision, true
}

// onSegmentClosed cancels partial work and queues the final inference.
func (t *transcriptionStage) onSegmentClosed(ctx context.Context, generation uint64, id uint64, language string) bool {
	if t.open == nil || t.open.id != id {
		return false
	}

	segment := t.open
	t.open = nil
	if segment.cancelPartial != nil {
		segment.cancelPartial()
	}

	t.pendingFinals++
	t.jobs.Push(finalJob{
		ctx:        ctx,
		generation: generation,
		segmentID:  id,
		pcm:        segment.pcm,
		duration:   segment.duration,
		language:   language,
	})
	return true
}

func (t *transcriptionStage) reset() {
	if t.open != nil && t.open.cancelPartial != nil {
		t.open.cancelPartial()
	}
	t.open = nil
	t.pendingFinals = 0
	t.jobs.Drain()
}

// runFinals transcribes queued segments one at a time until ctx is done.
func (t *transcriptionStage) runFinals(ctx context.Context, deliver func(finalResult)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.jobs.Ready():
			for _, job := range t.jobs.Drain() {
				deliver(t.transcribeFinal(job))
			}
		}
	}
}

func (t *transcriptionStage) transcribeFinal(job finalJob) finalResult {
	result := finalResult{generation: job.generation, segmentID: job.segmentID, duration: job.duration}
	if job.ctx.Err() != nil {
		result.warning = "transcription cancelled"
		return result
	}
	if t.recognizer == nil {
		result.warning = "no speech recognizer configured"
		return result
	}

	ctx, span := tracer.Start(job.ctx, "transcribe segment")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("segment.id", int64(job.segmentID)),
		attribute.Float64("segment.duration_seconds", job.duration.Seconds()),
	)

	ctx, cancel := context.WithTimeout(ctx, t.config.FinalTimeout)
	defer cancel()

	text, err := t.recognizer.Transcribe(ctx, job.pcm,
		speechtotext.WithEncodingInfo(t.encoding),
		speechtotext.WithLanguage(job.language),
	)
	if err != nil {
		recordedErr := fmt.Errorf("failed to transcribe segment %d: %w", job.segmentID, err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		result.warning = "transcription failed: " + err.Error()
		return result
	}

	result.text = text
	return result
}

// transcribePartial runs a low-priority inference over the audio so far.
// Streaming recognizers may report hypotheses before returning.
func (t *transcriptionStage) transcribePartial(ctx context.Context, pcm []byte, language string, onHypothesis func(string)) (string, error) {
	if t.recognizer == nil {
		return "", nil
	}

	opts := []speechtotext.TranscriptionOption{
		speechtotext.WithPartial(true),
		speechtotext.WithEncodingInfo(t.encoding),
		speechtotext.WithLanguage(language),
	}
	if onHypothesis != nil {
		opts = append(opts, speechtotext.WithHypothesisCallback(onHypothesis))
	}
	return t.recognizer.Transcribe(ctx, pcm, opts...)
}
