package events

import "time"

const (
	// KindTranscriptPartial identifies partial hypotheses of an open segment.
	KindTranscriptPartial Kind = "transcript.partial"
	// KindTranscriptFinal identifies the final transcript of a segment.
	KindTranscriptFinal Kind = "transcript.final"
)

// TranscriptPartial carries a partial hypothesis for an open segment.
type TranscriptPartial struct {
	Base
	SegmentID uint64
	Revision  uint64
	Text      string
}

// NewTranscriptPartial creates a partial transcript event.
func NewTranscriptPartial(session string, segment uint64, revision uint64, text string) TranscriptPartial {
	return TranscriptPartial{Base: NewBase(KindTranscriptPartial, session), SegmentID: segment, Revision: revision, Text: text}
}

// TranscriptFinal carries the final transcript of a closed segment.
type TranscriptFinal struct {
	Base
	SegmentID     uint64
	Text          string
	AudioDuration time.Duration
	// Warning is set when recognition degraded, Text is empty then.
	Warning string
}

// NewTranscriptFinal creates a final transcript event.
func NewTranscriptFinal(session string, segment uint64, text string, audioDuration time.Duration, warning string) TranscriptFinal {
	return TranscriptFinal{
		Base:          NewBase(KindTranscriptFinal, session),
		SegmentID:     segment,
		Text:          text,
		AudioDuration: audioDuration,
		Warning:       warning,
	}
}
