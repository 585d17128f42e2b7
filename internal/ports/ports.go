package ports

import (
	"context"
	"io"

	"mictap/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// MicrophoneHandle is a granted microphone acquisition. Release is idempotent.
type MicrophoneHandle interface {
	Release() error
}

// MicrophoneProbe negotiates microphone access by acquiring the device
// directly. There is deliberately no status query on this port: cached
// permission state goes stale on some platforms, so the only reliable way to
// learn the answer is to ask for the resource and handle the outcome.
type MicrophoneProbe interface {
	RequestAccess(ctx context.Context) (MicrophoneHandle, error)
}

// EngineConfig describes one recognition run.
type EngineConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
	SampleRate     int
	Channels       int
}

// RecognitionSession is an active speech-recognition run. Events is closed
// once the run ends; Wait reports the run's terminal error, if any.
type RecognitionSession interface {
	Events() <-chan domain.TranscriptEvent
	Stop() error
	Wait() error
}

// SpeechEngine starts streaming recognition runs.
type SpeechEngine interface {
	// Supported reports whether the engine can run at all on this host.
	// Computed from static capability checks, never from a network call.
	Supported() bool
	// SecureTransport reports whether the engine endpoint is safe to send
	// microphone audio to: TLS always, plaintext only on loopback.
	SecureTransport() bool
	Start(ctx context.Context, cfg EngineConfig) (RecognitionSession, error)
}

// TitleIndex searches the movie/TV catalog.
type TitleIndex interface {
	Search(ctx context.Context, query string, page int) (domain.SuggestionPage, error)
}

// QueryRules normalizes a raw voice transcript into a search query.
type QueryRules interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	VoiceStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	InterimTranscript(text string)
	FinalTranscript(raw string, query string)
	VoiceError(code domain.ErrorCode, detail string)
	SuggestionsReady(page domain.SuggestionPage)
	SearchFailed(query string, detail string)
}
