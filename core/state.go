package orchestration

import (
	"github.com/koscakluka/ema-dictation/core/events"
)

type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
	StateTranscribing State = "transcribing"
	StateCorrecting   State = "correcting"
	StateTranslating  State = "translating"
	StateError        State = "error"
)

// phase is the session lifecycle. Listening and the work stages are derived
// from in-flight work while the phase is active or draining.
type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseActive
	phaseDraining
	phaseError
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseStarting:
		return "starting"
	case phaseActive:
		return "active"
	case phaseDraining:
		return "draining"
	case phaseError:
		return "error"
	}
	return "unknown"
}

var phaseTransitions = map[phase][]phase{
	phaseIdle:     {phaseStarting},
	phaseStarting: {phaseActive, phaseDraining, phaseError},
	phaseActive:   {phaseDraining, phaseError},
	phaseDraining: {phaseIdle, phaseError},
	phaseError:    {phaseStarting},
}

func canTransition(from, to phase) bool {
	for _, allowed := range phaseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// activity is what the pipeline is doing right now, used to derive both the
// reported state and the broadcast status.
type activity struct {
	phase          phase
	segmentOpen    bool
	pendingFinals  int
	correcting     int
	translating    int
	reportSpeaking bool
}

func (a activity) state() State {
	switch a.phase {
	case phaseIdle:
		return StateIdle
	case phaseStarting:
		return StateStarting
	case phaseError:
		return StateError
	}

	switch {
	case a.translating > 0:
		return StateTranslating
	case a.correcting > 0:
		return StateCorrecting
	case a.pendingFinals > 0:
		return StateTranscribing
	case a.segmentOpen:
		return StateSpeaking
	}
	return StateListening
}

// status is the most advanced in-flight stage. ok is false when nothing
// should be broadcast, such as a draining session with no work left.
func (a activity) status() (events.Status, bool) {
	switch a.state() {
	case StateStarting:
		return events.StatusStarting, true
	case StateError:
		return events.StatusError, true
	case StateIdle:
		return events.StatusStopped, true
	case StateTranslating:
		return events.StatusTranslating, true
	case StateCorrecting:
		return events.StatusCorrecting, true
	case StateTranscribing:
		return events.StatusTranscribing, true
	case StateSpeaking:
		if a.reportSpeaking {
			return events.StatusSpeaking, true
		}
	}

	if a.phase == phaseDraining {
		return "", false
	}
	return events.StatusRecording, true
}
