// Package vad groups classified audio frames into speech segments.
package vad

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-dictation/core/audio"
	"go.opentelemetry.io/otel/codes"
)

type EventType int

const (
	SegmentOpened EventType = iota + 1
	SegmentAppended
	SegmentClosed
)

func (t EventType) String() string {
	switch t {
	case SegmentOpened:
		return "opened"
	case SegmentAppended:
		return "appended"
	case SegmentClosed:
		return "closed"
	}
	return "unknown"
}

type CloseReason string

const (
	CloseSilence     CloseReason = "silence"
	CloseMaxDuration CloseReason = "max_duration"
	CloseUserStop    CloseReason = "user_stop"
)

// Event is emitted by the Segmenter. Frame is set for SegmentAppended,
// Reason for SegmentClosed.
type Event struct {
	Type      EventType
	SegmentID uint64
	Frame     audio.Frame
	Reason    CloseReason
	// Offset is the stream time the event refers to: the first speech frame
	// for opened, the frame for appended and the closing point for closed.
	Offset time.Duration
}

type Config struct {
	// Threshold is the probability at or above which a frame is speech.
	Threshold float32
	// StartFrames is how many consecutive speech frames open a segment.
	StartFrames int
	// Hangover is the silence that has to pass before a segment closes.
	Hangover time.Duration
	// MaxDuration force-closes a segment that would grow longer.
	MaxDuration time.Duration
	// ClassifyTimeout bounds a single classifier call.
	ClassifyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:       0.5,
		StartFrames:     2,
		Hangover:        600 * time.Millisecond,
		MaxDuration:     30 * time.Second,
		ClassifyTimeout: 100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = defaults.Threshold
	}
	if c.StartFrames <= 0 {
		c.StartFrames = defaults.StartFrames
	}
	if c.Hangover <= 0 {
		c.Hangover = defaults.Hangover
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaults.MaxDuration
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = defaults.ClassifyTimeout
	}
	return c
}

// Segmenter turns a stream of frames into segment events. At most one
// segment is open at a time and every frame between its opening and its
// closing belongs to it.
//
// A Segmenter is driven from a single goroutine and is not safe for
// concurrent use.
type Segmenter struct {
	classifier Classifier
	config     Config

	nextID uint64

	open         bool
	current      uint64
	segmentStart time.Duration
	// silenceStart is the offset of the first silent frame of the current
	// trailing silence, valid while inSilence.
	silenceStart time.Duration
	inSilence    bool

	pending    []audio.Frame
	lastSpeech bool
	stopped    bool
}

func NewSegmenter(classifier Classifier, config Config) *Segmenter {
	if classifier == nil {
		classifier = EnergyClassifier{}
	}
	return &Segmenter{classifier: classifier, config: config.withDefaults(), nextID: 1}
}

func (s *Segmenter) Config() Config { return s.config }

// Open reports the id of the open segment, if any.
func (s *Segmenter) Open() (uint64, bool) { return s.current, s.open }

// Submit classifies a frame and advances the segmentation state.
func (s *Segmenter) Submit(ctx context.Context, frame audio.Frame) []Event {
	if s.stopped {
		return nil
	}

	isSpeech := s.classify(ctx, frame)

	if !s.open {
		return s.submitClosed(frame, isSpeech)
	}
	return s.submitOpen(frame, isSpeech)
}

func (s *Segmenter) submitClosed(frame audio.Frame, isSpeech bool) []Event {
	if !isSpeech {
		s.pending = s.pending[:0]
		return nil
	}

	s.pending = append(s.pending, frame)
	if len(s.pending) < s.config.StartFrames {
		return nil
	}

	return s.openWith(s.pending)
}

func (s *Segmenter) openWith(frames []audio.Frame) []Event {
	s.open = true
	s.current = s.nextID
	s.nextID++
	s.segmentStart = frames[0].Offset
	s.inSilence = false

	events := make([]Event, 0, len(frames)+1)
	events = append(events, Event{Type: SegmentOpened, SegmentID: s.current, Offset: s.segmentStart})
	for _, f := range frames {
		events = append(events, Event{Type: SegmentAppended, SegmentID: s.current, Frame: f, Offset: f.Offset})
	}
	s.pending = s.pending[:0]
	return events
}

func (s *Segmenter) submitOpen(frame audio.Frame, isSpeech bool) []Event {
	// A frame that would carry the segment past its limit is not part of it.
	if frame.End()-s.segmentStart > s.config.MaxDuration {
		events := []Event{s.close(CloseMaxDuration, frame.Offset)}
		if isSpeech {
			events = append(events, s.openWith([]audio.Frame{frame})...)
		}
		return events
	}

	events := []Event{{Type: SegmentAppended, SegmentID: s.current, Frame: frame, Offset: frame.Offset}}

	if isSpeech {
		s.inSilence = false
		return events
	}

	if !s.inSilence {
		s.inSilence = true
		s.silenceStart = frame.Offset
	}
	if frame.End()-s.silenceStart >= s.config.Hangover {
		events = append(events, s.close(CloseSilence, frame.End()))
	}
	return events
}

func (s *Segmenter) close(reason CloseReason, at time.Duration) Event {
	event := Event{Type: SegmentClosed, SegmentID: s.current, Reason: reason, Offset: at}
	s.open = false
	s.inSilence = false
	return event
}

// Stop closes any open segment with CloseUserStop. Frames submitted after
// Stop are ignored until Reset.
func (s *Segmenter) Stop(at time.Duration) []Event {
	s.stopped = true
	s.pending = s.pending[:0]
	if !s.open {
		return nil
	}
	return []Event{s.close(CloseUserStop, at)}
}

// Reset prepares the segmenter for a new stream. Segment ids keep
// increasing across resets.
func (s *Segmenter) Reset() {
	s.open = false
	s.inSilence = false
	s.pending = s.pending[:0]
	s.lastSpeech = false
	s.stopped = false
}

func (s *Segmenter) classify(ctx context.Context, frame audio.Frame) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.ClassifyTimeout)
	defer cancel()

	probability, err := s.classifier.Classify(ctx, frame)
	if err != nil {
		_, span := tracer.Start(ctx, "classify frame")
		recordedErr := fmt.Errorf("failed to classify frame %d: %w", frame.Seq, err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		span.End()
		logger.Debug("voice activity classification failed, keeping previous decision", "seq", frame.Seq, "error", err)
		return s.lastSpeech
	}

	s.lastSpeech = probability >= s.config.Threshold
	return s.lastSpeech
}
