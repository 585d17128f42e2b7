package voice

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mictap/internal/domain"
	"mictap/internal/ports"
)

// Config controls how recognition runs are started.
type Config struct {
	Language   string
	Continuous bool
	SampleRate int
	Channels   int
}

// Handlers receive recognition output. They live in a mutable slot read at
// dispatch time, so the host can swap them without restarting the engine.
type Handlers struct {
	OnResult func(text string, final bool)
	OnError  func(err *domain.VoiceError)
}

// Session is a start/stop-able speech-to-text session with explicit
// permission negotiation. At most one recognition run is active at a time;
// starting again from stopped or errored fully resets transcript state.
type Session struct {
	engine ports.SpeechEngine
	probe  ports.MicrophoneProbe
	events ports.EventSink
	cfg    Config
	log    zerolog.Logger

	supported bool

	handlersMu sync.Mutex
	handlers   Handlers

	mu         sync.Mutex
	state      domain.SessionState
	transcript string
	interim    string
	current    *run
}

type run struct {
	id     string
	cancel context.CancelFunc
	rec    ports.RecognitionSession
	done   chan struct{}

	stopOnce sync.Once
	reasonMu sync.Mutex
	reason   domain.SessionStateReason
}

func (r *run) stop(reason domain.SessionStateReason) {
	r.stopOnce.Do(func() {
		r.reasonMu.Lock()
		r.reason = reason
		r.reasonMu.Unlock()
		_ = r.rec.Stop()
		r.cancel()
	})
}

func (r *run) stopReason() domain.SessionStateReason {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	return r.reason
}

func NewSession(
	engine ports.SpeechEngine,
	probe ports.MicrophoneProbe,
	events ports.EventSink,
	cfg Config,
	log zerolog.Logger,
) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Session{
		engine:    engine,
		probe:     probe,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "voice").Logger(),
		supported: engine.Supported(),
		state:     domain.SessionStateIdle,
	}
}

// SetHandlers replaces the result/error handlers for subsequent events.
func (s *Session) SetHandlers(h Handlers) {
	s.handlersMu.Lock()
	s.handlers = h
	s.handlersMu.Unlock()
}

// StartListening negotiates microphone access and starts a recognition run.
// It is a no-op while a run is already listening or being started. Permission
// is negotiated by direct acquisition, never by a cached status check.
func (s *Session) StartListening(ctx context.Context) error {
	if !s.supported {
		return s.refuse(domain.ErrorCodeCapabilityUnsupported, "speech recognition engine is not configured on this host")
	}
	if !s.engine.SecureTransport() {
		return s.refuse(domain.ErrorCodeTransportInsecure, "recognition endpoint is not TLS and not loopback")
	}

	s.mu.Lock()
	switch s.state {
	case domain.SessionStateListening, domain.SessionStateRequestingPermission:
		s.mu.Unlock()
		return nil
	}
	s.transcript = ""
	s.interim = ""
	s.state = domain.SessionStateRequestingPermission
	s.mu.Unlock()
	s.events.VoiceStateChanged(domain.SessionStateRequestingPermission, domain.SessionReasonPermissionPrompt)

	handle, err := s.probe.RequestAccess(ctx)
	if err != nil {
		verr := asVoiceError(err, domain.ErrorCodePermissionDenied)
		s.mu.Lock()
		s.state = domain.SessionStateErrored
		s.mu.Unlock()
		s.log.Warn().Str("code", string(verr.Code)).Msg("microphone access refused")
		s.events.VoiceStateChanged(domain.SessionStateErrored, domain.SessionReasonPermissionFailed)
		s.events.VoiceError(verr.Code, verr.Detail)
		s.dispatchError(verr)
		return verr
	}
	// The handle was only needed to force the permission prompt. The engine
	// owns the device for the listening duration.
	_ = handle.Release()

	runCtx, cancel := context.WithCancel(ctx)
	rec, err := s.engine.Start(runCtx, ports.EngineConfig{
		Language:       s.cfg.Language,
		Continuous:     s.cfg.Continuous,
		InterimResults: true,
		SampleRate:     s.cfg.SampleRate,
		Channels:       s.cfg.Channels,
	})
	if err != nil {
		cancel()
		verr := asVoiceError(err, domain.ErrorCodeRecognition)
		s.mu.Lock()
		s.state = domain.SessionStateErrored
		s.mu.Unlock()
		s.events.VoiceStateChanged(domain.SessionStateErrored, domain.SessionReasonEngineFailed)
		s.events.VoiceError(verr.Code, verr.Detail)
		s.dispatchError(verr)
		return verr
	}

	active := &run{
		id:     uuid.NewString(),
		cancel: cancel,
		rec:    rec,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.current = active
	s.state = domain.SessionStateListening
	s.mu.Unlock()

	s.log.Debug().Str("run", active.id).Msg("listening started")
	s.events.VoiceStateChanged(domain.SessionStateListening, domain.SessionReasonListeningStarted)
	go s.consume(active)
	return nil
}

// StopListening ends the active run, waits for the engine handle to be
// released, and transitions the session to stopped. Calling it while nothing
// is listening is a no-op.
func (s *Session) StopListening() {
	s.mu.Lock()
	active := s.current
	listening := s.state == domain.SessionStateListening
	s.mu.Unlock()
	if !listening || active == nil {
		return
	}
	active.stop(domain.SessionReasonStoppedByCaller)
	<-active.done
}

// Close releases any active recognition run. Used by the host on teardown.
func (s *Session) Close() {
	s.StopListening()
}

// ResetTranscript clears accumulated transcript state regardless of session state.
func (s *Session) ResetTranscript() {
	s.mu.Lock()
	s.transcript = ""
	s.interim = ""
	s.mu.Unlock()
}

// Transcript returns committed finals plus the trailing interim, if any.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return joinTranscript(s.transcript, s.interim)
}

func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.SessionStateListening
}

func (s *Session) IsSupported() bool {
	return s.supported
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current session status for the UI.
func (s *Session) Status() domain.VoiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.VoiceStatus{
		State:      s.state,
		Listening:  s.state == domain.SessionStateListening,
		Supported:  s.supported,
		Transcript: joinTranscript(s.transcript, s.interim),
	}
}

func (s *Session) consume(active *run) {
	defer close(active.done)

	finalSeen := false
	for event := range active.rec.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		if finalSeen && !s.cfg.Continuous {
			// Single-utterance mode: the run is already winding down and a
			// duplicate final must not re-trigger side effects.
			continue
		}

		switch event.Kind {
		case domain.TranscriptKindInterim:
			s.mu.Lock()
			s.interim = text
			s.mu.Unlock()
			s.events.InterimTranscript(text)
			s.dispatchResult(text, false)
		case domain.TranscriptKindFinal:
			s.mu.Lock()
			s.transcript = joinTranscript(s.transcript, text)
			s.interim = ""
			s.mu.Unlock()
			s.dispatchResult(text, true)
			if !s.cfg.Continuous {
				finalSeen = true
				active.stop(domain.SessionReasonUtteranceComplete)
			}
		}
	}

	err := active.rec.Wait()
	s.finish(active, err)
}

func (s *Session) finish(active *run, err error) {
	s.mu.Lock()
	if s.current == active {
		s.current = nil
	}
	if err != nil {
		s.state = domain.SessionStateErrored
	} else {
		s.state = domain.SessionStateStopped
	}
	s.mu.Unlock()

	if err != nil {
		verr := asVoiceError(err, domain.ErrorCodeRecognition)
		s.log.Warn().Str("run", active.id).Str("code", string(verr.Code)).Msg("recognition run failed")
		s.events.VoiceStateChanged(domain.SessionStateErrored, domain.SessionReasonEngineFailed)
		s.events.VoiceError(verr.Code, verr.Detail)
		s.dispatchError(verr)
		return
	}

	reason := active.stopReason()
	if reason == "" {
		reason = domain.SessionReasonEngineEnded
	}
	s.log.Debug().Str("run", active.id).Str("reason", string(reason)).Msg("listening stopped")
	s.events.VoiceStateChanged(domain.SessionStateStopped, reason)
}

func (s *Session) dispatchResult(text string, final bool) {
	s.handlersMu.Lock()
	handler := s.handlers.OnResult
	s.handlersMu.Unlock()
	if handler != nil {
		handler(text, final)
	}
}

func (s *Session) dispatchError(verr *domain.VoiceError) {
	s.handlersMu.Lock()
	handler := s.handlers.OnError
	s.handlersMu.Unlock()
	if handler != nil {
		handler(verr)
	}
}

// refuse reports a precondition failure without starting a session. The
// microphone is never touched and the current state is left alone.
func (s *Session) refuse(code domain.ErrorCode, detail string) error {
	verr := domain.NewVoiceError(code, detail)
	s.events.VoiceError(code, detail)
	s.dispatchError(verr)
	return verr
}

func asVoiceError(err error, fallback domain.ErrorCode) *domain.VoiceError {
	var verr *domain.VoiceError
	if errors.As(err, &verr) {
		return verr
	}
	return domain.NewVoiceError(fallback, err.Error())
}

func joinTranscript(committed string, tail string) string {
	committed = strings.TrimSpace(committed)
	tail = strings.TrimSpace(tail)
	switch {
	case committed == "":
		return tail
	case tail == "":
		return committed
	default:
		return committed + " " + tail
	}
}
