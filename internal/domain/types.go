package domain

// SessionState models the voice-input lifecycle.
type SessionState string

const (
	SessionStateIdle                 SessionState = "idle"
	SessionStateRequestingPermission SessionState = "requesting_permission"
	SessionStateListening            SessionState = "listening"
	SessionStateStopped              SessionState = "stopped"
	SessionStateErrored              SessionState = "errored"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady             SessionStateReason = "ready"
	SessionReasonPermissionPrompt  SessionStateReason = "permission_prompt"
	SessionReasonListeningStarted  SessionStateReason = "listening_started"
	SessionReasonUtteranceComplete SessionStateReason = "utterance_complete"
	SessionReasonStoppedByCaller   SessionStateReason = "stopped_by_caller"
	SessionReasonEngineEnded       SessionStateReason = "engine_ended"
	SessionReasonPermissionFailed  SessionStateReason = "permission_failed"
	SessionReasonEngineFailed      SessionStateReason = "engine_failed"
)

// ErrorCode identifies classified voice and search failures.
type ErrorCode string

const (
	ErrorCodeCapabilityUnsupported ErrorCode = "capability_unsupported"
	ErrorCodeTransportInsecure     ErrorCode = "transport_insecure"
	ErrorCodePermissionDenied      ErrorCode = "permission_denied"
	ErrorCodeDeviceNotFound        ErrorCode = "device_not_found"
	ErrorCodeNoSpeech              ErrorCode = "no_speech"
	ErrorCodeRecognition           ErrorCode = "recognition"
	ErrorCodeStartup               ErrorCode = "startup"
	ErrorCodeRules                 ErrorCode = "rules"
	ErrorCodeSearch                ErrorCode = "search"
	ErrorCodeClipboard             ErrorCode = "clipboard"
)

// VoiceError is a classified failure surfaced to the host UI. The code picks
// the user-facing message; Detail carries the underlying cause for logs.
type VoiceError struct {
	Code   ErrorCode
	Detail string
}

func NewVoiceError(code ErrorCode, detail string) *VoiceError {
	return &VoiceError{Code: code, Detail: detail}
}

func (e *VoiceError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

// TranscriptKind identifies whether a recognition event is provisional or final.
type TranscriptKind string

const (
	TranscriptKindInterim TranscriptKind = "interim"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental recognition output from an engine.
type TranscriptEvent struct {
	Kind         TranscriptKind `json:"kind"`
	Text         string         `json:"text"`
	UtteranceEnd bool           `json:"utteranceEnd"`
}

// VoiceStatus summarizes the current voice session for the UI.
type VoiceStatus struct {
	State      SessionState `json:"state"`
	Listening  bool         `json:"listening"`
	Supported  bool         `json:"supported"`
	Transcript string       `json:"transcript"`
	Message    string       `json:"message,omitempty"`
}

// Title is one movie or TV entry returned by the catalog.
type Title struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	MediaType  string  `json:"mediaType"`
	Year       int     `json:"year,omitempty"`
	Popularity float64 `json:"popularity,omitempty"`
}

// SuggestionPage is one page of search suggestions for a query.
type SuggestionPage struct {
	Query        string  `json:"query"`
	Page         int     `json:"page"`
	TotalPages   int     `json:"totalPages"`
	TotalResults int     `json:"totalResults"`
	Titles       []Title `json:"titles"`
}
