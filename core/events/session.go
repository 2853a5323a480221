package events

const (
	// KindSessionStatus identifies pipeline status changes.
	KindSessionStatus Kind = "session.status"
	// KindSessionError identifies fatal session faults.
	KindSessionError Kind = "session.error"
)

type Status string

const (
	StatusStarting     Status = "starting"
	StatusDownloading  Status = "downloading"
	StatusRecording    Status = "recording"
	StatusSpeaking     Status = "speaking"
	StatusTranscribing Status = "transcribing"
	StatusCorrecting   Status = "correcting"
	StatusTranslating  Status = "translating"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// SessionStatus reports the pipeline status.
type SessionStatus struct {
	Base
	Status Status
}

// NewSessionStatus creates a status change event.
func NewSessionStatus(session string, status Status) SessionStatus {
	return SessionStatus{Base: NewBase(KindSessionStatus, session), Status: status}
}

// SessionError carries a fatal fault that ended the session.
type SessionError struct {
	Base
	Message string
}

// NewSessionError creates a fatal session error event.
func NewSessionError(session string, message string) SessionError {
	return SessionError{Base: NewBase(KindSessionError, session), Message: message}
}
