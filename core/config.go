package orchestration

import (
	"time"

	"github.com/jinzhu/copier"
)

// SessionConfig is captured when a session starts. Updates while a session
// runs apply to segments that close afterwards.
type SessionConfig struct {
	// Language is the recognition language hint, empty for auto-detection.
	Language string `json:"language"`

	CorrectionEnabled  bool   `json:"correctionEnabled"`
	TranslationEnabled bool   `json:"translationEnabled"`
	TargetLanguage     string `json:"targetLanguage"`

	// ContextCount is how many preceding finals are given to refinement.
	ContextCount int `json:"contextCount"`

	// AutoInput delivers every settled result to the text injector.
	AutoInput bool `json:"autoInput"`
	// ReportSpeaking broadcasts the speaking status while a segment is open.
	ReportSpeaking bool `json:"reportSpeaking"`
}

const DefaultContextCount = 3

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{ContextCount: DefaultContextCount}
}

func (c SessionConfig) translate() bool {
	return c.TranslationEnabled && c.TargetLanguage != ""
}

func (c SessionConfig) clone() SessionConfig {
	var snapshot SessionConfig
	if err := copier.CopyWithOption(&snapshot, &c, copier.Option{DeepCopy: true}); err != nil {
		return c
	}
	return snapshot
}

// ConfigUpdate is a partial SessionConfig. Nil fields keep their value.
type ConfigUpdate struct {
	Language           *string
	CorrectionEnabled  *bool
	TranslationEnabled *bool
	TargetLanguage     *string
	ContextCount       *int
	AutoInput          *bool
	ReportSpeaking     *bool
}

func (u ConfigUpdate) Apply(config SessionConfig) SessionConfig {
	config = config.clone()
	if u.Language != nil {
		config.Language = *u.Language
	}
	if u.CorrectionEnabled != nil {
		config.CorrectionEnabled = *u.CorrectionEnabled
	}
	if u.TargetLanguage != nil {
		config.TargetLanguage = *u.TargetLanguage
		// Naming a target language without an explicit toggle enables
		// translation, clearing it disables translation.
		if u.TranslationEnabled == nil {
			config.TranslationEnabled = *u.TargetLanguage != ""
		}
	}
	if u.TranslationEnabled != nil {
		config.TranslationEnabled = *u.TranslationEnabled
	}
	if u.ContextCount != nil && *u.ContextCount >= 0 {
		config.ContextCount = *u.ContextCount
	}
	if u.AutoInput != nil {
		config.AutoInput = *u.AutoInput
	}
	if u.ReportSpeaking != nil {
		config.ReportSpeaking = *u.ReportSpeaking
	}
	return config
}

type TranscriptionConfig struct {
	// FinalTimeout bounds the final inference of a segment.
	FinalTimeout time.Duration
	// PartialInterval is how much new audio triggers another partial.
	PartialInterval time.Duration
	// PartialMinAudio is the audio a segment needs before its first partial.
	PartialMinAudio time.Duration
	// PartialTimeout bounds a single partial inference.
	PartialTimeout time.Duration
	// DisablePartials turns off partial inference entirely.
	DisablePartials bool
}

func DefaultTranscriptionConfig() TranscriptionConfig {
	return TranscriptionConfig{
		FinalTimeout:    30 * time.Second,
		PartialInterval: time.Second,
		PartialMinAudio: 500 * time.Millisecond,
		PartialTimeout:  5 * time.Second,
	}
}

func (c TranscriptionConfig) withDefaults() TranscriptionConfig {
	defaults := DefaultTranscriptionConfig()
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = defaults.FinalTimeout
	}
	if c.PartialInterval <= 0 {
		c.PartialInterval = defaults.PartialInterval
	}
	if c.PartialMinAudio < 0 {
		c.PartialMinAudio = defaults.PartialMinAudio
	}
	if c.PartialTimeout <= 0 {
		c.PartialTimeout = defaults.PartialTimeout
	}
	return c
}
