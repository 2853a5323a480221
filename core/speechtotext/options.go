package speechtotext

import "github.com/koscakluka/ema-dictation/core/audio"

type TranscriptionOptions struct {
	// Partial marks a low-priority inference over an incomplete segment.
	// Recognizers may trade accuracy for latency when it is set.
	Partial bool
	// Language is a BCP-47 style hint, empty means auto-detect.
	Language string
	// HypothesisCallback receives intermediate hypotheses when the
	// recognizer can stream them.
	HypothesisCallback func(transcript string)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithPartial(partial bool) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Partial = partial
	}
}

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Language = language
	}
}

func WithHypothesisCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.HypothesisCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
