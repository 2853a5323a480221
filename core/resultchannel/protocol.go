// Package resultchannel carries session events to the consumer and control
// requests back over websockets.
package resultchannel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/events"
)

const (
	TypeControl              = "control"
	TypeStatus               = "status"
	TypeError                = "error"
	TypeTranscriptionPartial = "transcription_partial"
	TypeTranscription        = "transcription"
	TypeCorrection           = "correction"
	TypeTranslation          = "translation"
	TypeWaveform             = "waveform"

	// ActionUpdateLLMConfig replaces the language model used for refinement.
	// It is handled by the service rather than the orchestrator.
	ActionUpdateLLMConfig = "update_llm_config"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrNotControl       = errors.New("message is not a control message")
	ErrUnsupportedEvent = errors.New("event has no wire representation")
)

// ControlMessage is the only inbound message type.
type ControlMessage struct {
	Type   string          `json:"type" jsonschema:"enum=control"`
	Action string          `json:"action" jsonschema:"enum=start,enum=stop,enum=update_config,enum=update_llm_config"`
	Config json.RawMessage `json:"config,omitempty"`
}

// SessionConfigMessage is the config of start and update_config. Absent
// fields keep their current value.
type SessionConfigMessage struct {
	Language           *string `json:"language,omitempty" jsonschema:"description=Recognition language hint, empty for auto-detection"`
	CorrectionEnabled  *bool   `json:"correctionEnabled,omitempty"`
	TranslationEnabled *bool   `json:"translationEnabled,omitempty" jsonschema:"description=Defaults to whether targetLanguage is set"`
	TargetLanguage     *string `json:"targetLanguage,omitempty"`
	ContextCount       *int    `json:"contextCount,omitempty" jsonschema:"minimum=0"`
	AutoInput          *bool   `json:"autoInput,omitempty"`
	ReportSpeaking     *bool   `json:"reportSpeaking,omitempty"`
}

func (m SessionConfigMessage) update() orchestration.ConfigUpdate {
	return orchestration.ConfigUpdate{
		Language:           m.Language,
		CorrectionEnabled:  m.CorrectionEnabled,
		TranslationEnabled: m.TranslationEnabled,
		TargetLanguage:     m.TargetLanguage,
		ContextCount:       m.ContextCount,
		AutoInput:          m.AutoInput,
		ReportSpeaking:     m.ReportSpeaking,
	}
}

// LLMConfigMessage is the config of update_llm_config.
type LLMConfigMessage struct {
	Provider string `json:"provider,omitempty" jsonschema:"enum=openai,enum=ollama,enum=groq"`
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	// Timeout is in seconds.
	Timeout     float64  `json:"timeout,omitempty" jsonschema:"minimum=0"`
	Temperature *float64 `json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
}

// Control is a parsed control message.
type Control struct {
	Action  string
	Session orchestration.ConfigUpdate
	LLM     LLMConfigMessage
}

func (c Control) Command() orchestration.Command {
	return orchestration.Command{Action: orchestration.Action(c.Action), Config: c.Session}
}

// ParseControl decodes an inbound message.
func ParseControl(data []byte) (Control, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Control{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if msg.Type != TypeControl {
		return Control{}, fmt.Errorf("%w: type %q", ErrNotControl, msg.Type)
	}

	control := Control{Action: msg.Action}
	switch msg.Action {
	case string(orchestration.ActionStop):
	case string(orchestration.ActionStart), string(orchestration.ActionUpdateConfig):
		var config SessionConfigMessage
		if err := decodeConfig(msg.Config, &config); err != nil {
			return Control{}, err
		}
		control.Session = config.update()
	case ActionUpdateLLMConfig:
		if err := decodeConfig(msg.Config, &control.LLM); err != nil {
			return Control{}, err
		}
	default:
		return Control{}, fmt.Errorf("%w: %q", orchestration.ErrUnknownAction, msg.Action)
	}
	return control, nil
}

// NewControlMessage builds a control request as a consumer sends it. A nil
// config is omitted.
func NewControlMessage(action string, config any) (ControlMessage, error) {
	msg := ControlMessage{Type: TypeControl, Action: action}
	if config == nil {
		return msg, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return ControlMessage{}, fmt.Errorf("failed to encode %s config: %w", action, err)
	}
	msg.Config = raw
	return msg, nil
}

func decodeConfig(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: invalid config: %w", ErrMalformedMessage, err)
	}
	return nil
}

type StatusMessage struct {
	Type      string `json:"type" jsonschema:"enum=status"`
	Seq       uint64 `json:"seq" jsonschema:"description=Increases with every result message"`
	Status    string `json:"status" jsonschema:"enum=starting,enum=downloading,enum=recording,enum=speaking,enum=transcribing,enum=correcting,enum=translating,enum=stopped,enum=error"`
	SessionID string `json:"session_id,omitempty"`
}

type ErrorMessage struct {
	Type      string `json:"type" jsonschema:"enum=error"`
	Seq       uint64 `json:"seq" jsonschema:"description=Increases with every result message"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type TranscriptionPartialMessage struct {
	Type      string `json:"type" jsonschema:"enum=transcription_partial"`
	Seq       uint64 `json:"seq" jsonschema:"description=Increases with every result message"`
	Text      string `json:"text"`
	SegmentID uint64 `json:"segment_id"`
	// Revision increases with every partial of the same segment.
	Revision uint64 `json:"revision"`
}

type TranscriptionMessage struct {
	Type      string `json:"type" jsonschema:"enum=transcription"`
	Seq       uint64 `json:"seq" jsonschema:"description=Increases with every result message"`
	Text      string `json:"text"`
	SegmentID uint64 `json:"segment_id"`
	// AudioDuration is in seconds.
	AudioDuration float64 `json:"audio_duration"`
	Warning       string  `json:"warning,omitempty"`
}

type CorrectionMessage struct {
	Type         string `json:"type" jsonschema:"enum=correction"`
	Seq          uint64 `json:"seq" jsonschema:"description=Increases with every result message"`
	Text         string `json:"text"`
	OriginalText string `json:"original_text"`
	SegmentID    uint64 `json:"segment_id"`
}

type TranslationMessage struct {
	Type           string `json:"type" jsonschema:"enum=translation"`
	Seq            uint64 `json:"seq" jsonschema:"description=Increases with every result message"`
	Text           string `json:"text"`
	OriginalText   string `json:"original_text"`
	TargetLanguage string `json:"target_language"`
	SegmentID      uint64 `json:"segment_id"`
}

type WaveformMessage struct {
	Type   string    `json:"type" jsonschema:"enum=waveform"`
	Levels []float32 `json:"levels" jsonschema:"description=Band levels between 0 and 1"`
}

// EncodeEvent renders an event as an outbound message stamped with seq.
func EncodeEvent(event events.Event, seq uint64) ([]byte, error) {
	var msg any
	switch e := event.(type) {
	case events.SessionStatus:
		msg = StatusMessage{Type: TypeStatus, Seq: seq, Status: string(e.Status), SessionID: e.SessionID()}
	case events.SessionError:
		msg = ErrorMessage{Type: TypeError, Seq: seq, Message: e.Message, SessionID: e.SessionID()}
	case events.TranscriptPartial:
		msg = TranscriptionPartialMessage{Type: TypeTranscriptionPartial, Seq: seq, Text: e.Text, SegmentID: e.SegmentID, Revision: e.Revision}
	case events.TranscriptFinal:
		msg = TranscriptionMessage{
			Type:          TypeTranscription,
			Seq:           seq,
			Text:          e.Text,
			SegmentID:     e.SegmentID,
			AudioDuration: e.AudioDuration.Seconds(),
			Warning:       e.Warning,
		}
	case events.Correction:
		msg = CorrectionMessage{Type: TypeCorrection, Seq: seq, Text: e.Text, OriginalText: e.OriginalText, SegmentID: e.SegmentID}
	case events.Translation:
		msg = TranslationMessage{
			Type:           TypeTranslation,
			Seq:            seq,
			Text:           e.Text,
			OriginalText:   e.OriginalText,
			TargetLanguage: e.TargetLanguage,
			SegmentID:      e.SegmentID,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Kind(), err)
	}
	return data, nil
}

func EncodeLevels(levels []float32) ([]byte, error) {
	return json.Marshal(WaveformMessage{Type: TypeWaveform, Levels: levels})
}

// ProtocolSchema describes every message of both channels.
type ProtocolSchema struct {
	Inbound  map[string]*jsonschema.Schema `json:"inbound"`
	Outbound map[string]*jsonschema.Schema `json:"outbound"`
}

func Schema() ProtocolSchema {
	reflector := jsonschema.Reflector{DoNotReference: true}

	return ProtocolSchema{
		Inbound: map[string]*jsonschema.Schema{
			TypeControl:           reflector.Reflect(ControlMessage{}),
			"session_config":      reflector.Reflect(SessionConfigMessage{}),
			ActionUpdateLLMConfig: reflector.Reflect(LLMConfigMessage{}),
		},
		Outbound: map[string]*jsonschema.Schema{
			TypeStatus:               reflector.Reflect(StatusMessage{}),
			TypeError:                reflector.Reflect(ErrorMessage{}),
			TypeTranscriptionPartial: reflector.Reflect(TranscriptionPartialMessage{}),
			TypeTranscription:        reflector.Reflect(TranscriptionMessage{}),
			TypeCorrection:           reflector.Reflect(CorrectionMessage{}),
			TypeTranslation:          reflector.Reflect(TranslationMessage{}),
			TypeWaveform:             reflector.Reflect(WaveformMessage{}),
		},
	}
}
