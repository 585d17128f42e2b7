package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mictap/internal/domain"
	"mictap/internal/ports"
)

func TestStartStopListeningLifecycle(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognition(3)
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindInterim, Text: "hel"}
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindInterim, Text: "hello"}
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello world", UtteranceEnd: true}

	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{rec}}
	probe := &fakeProbe{handle: &fakeHandle{}}
	sink := &fakeEventSink{}
	handlers := newRecordingHandlers()

	session := newTestSession(engine, probe, sink, Config{})
	session.SetHandlers(handlers.handlers())

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, func() bool {
		states := sink.snapshotStates()
		return len(states) > 0 && states[len(states)-1].state == domain.SessionStateStopped
	})

	results := handlers.snapshotResults()
	want := []recordedResult{
		{text: "hel", final: false},
		{text: "hello", final: false},
		{text: "hello world", final: true},
	}
	if len(results) != len(want) {
		t.Fatalf("unexpected result count: %d (%v)", len(results), results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result %d: got %+v want %+v", i, results[i], want[i])
		}
	}

	if got := session.Transcript(); got != "hello world" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if probe.handle.releases == 0 {
		t.Fatalf("expected permission probe handle to be released")
	}
	if rec.stopCalls() == 0 {
		t.Fatalf("expected recognition run to be stopped after final")
	}

	states := sink.snapshotStates()
	if len(states) < 3 {
		t.Fatalf("expected at least 3 state transitions, got %d", len(states))
	}
	if states[0].state != domain.SessionStateRequestingPermission {
		t.Fatalf("unexpected first state: %s", states[0].state)
	}
	if states[1].state != domain.SessionStateListening {
		t.Fatalf("unexpected second state: %s", states[1].state)
	}
	last := states[len(states)-1]
	if last.state != domain.SessionStateStopped || last.reason != domain.SessionReasonUtteranceComplete {
		t.Fatalf("unexpected terminal transition: %+v", last)
	}
}

func TestDuplicateFinalStopsExactlyOnce(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognition(2)
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "dune"}
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "dune"}

	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{rec}}
	sink := &fakeEventSink{}
	handlers := newRecordingHandlers()

	session := newTestSession(engine, &fakeProbe{handle: &fakeHandle{}}, sink, Config{})
	session.SetHandlers(handlers.handlers())

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool {
		states := sink.snapshotStates()
		return len(states) > 0 && states[len(states)-1].state == domain.SessionStateStopped
	})

	finals := 0
	for _, result := range handlers.snapshotResults() {
		if result.final {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final dispatch, got %d", finals)
	}

	stopped := 0
	for _, transition := range sink.snapshotStates() {
		if transition.state == domain.SessionStateStopped {
			stopped++
		}
	}
	if stopped != 1 {
		t.Fatalf("expected exactly one stopped transition, got %d", stopped)
	}
	if got := session.Transcript(); got != "dune" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestStartWhileListeningIsNoOp(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognition(0)
	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{rec}}
	probe := &fakeProbe{handle: &fakeHandle{}}

	session := newTestSession(engine, probe, &fakeEventSink{}, Config{Continuous: true})

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return session.IsListening() })

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if probe.calls != 1 {
		t.Fatalf("expected a single permission probe, got %d", probe.calls)
	}
	if engine.calls != 1 {
		t.Fatalf("expected a single engine start, got %d", engine.calls)
	}

	session.StopListening()
	if session.State() != domain.SessionStateStopped {
		t.Fatalf("unexpected state after stop: %s", session.State())
	}
}

func TestStopListeningWhenNotListeningIsNoOp(t *testing.T) {
	t.Parallel()

	session := newTestSession(&fakeEngine{supported: true, secure: true}, &fakeProbe{}, &fakeEventSink{}, Config{})

	session.StopListening()
	if session.State() != domain.SessionStateIdle {
		t.Fatalf("unexpected state: %s", session.State())
	}
	session.StopListening()
}

func TestUnsupportedEngineNeverTouchesMicrophone(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{handle: &fakeHandle{}}
	handlers := newRecordingHandlers()
	session := newTestSession(&fakeEngine{supported: false, secure: true}, probe, &fakeEventSink{}, Config{})
	session.SetHandlers(handlers.handlers())

	err := session.StartListening(context.Background())
	if err == nil {
		t.Fatalf("expected capability error")
	}
	var verr *domain.VoiceError
	if !errors.As(err, &verr) || verr.Code != domain.ErrorCodeCapabilityUnsupported {
		t.Fatalf("unexpected error: %v", err)
	}
	if probe.calls != 0 {
		t.Fatalf("microphone must not be probed when unsupported")
	}

	errs := handlers.snapshotErrors()
	if len(errs) != 1 || errs[0].Code != domain.ErrorCodeCapabilityUnsupported {
		t.Fatalf("expected synchronous capability error callback, got %+v", errs)
	}
	if session.IsSupported() {
		t.Fatalf("expected unsupported session")
	}
}

func TestInsecureTransportRefusedBeforePrompt(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{handle: &fakeHandle{}}
	session := newTestSession(&fakeEngine{supported: true, secure: false}, probe, &fakeEventSink{}, Config{})

	err := session.StartListening(context.Background())
	var verr *domain.VoiceError
	if !errors.As(err, &verr) || verr.Code != domain.ErrorCodeTransportInsecure {
		t.Fatalf("unexpected error: %v", err)
	}
	if probe.calls != 0 {
		t.Fatalf("insecure transport must be refused before the permission prompt")
	}
}

func TestPermissionDeniedTransitionsToErrored(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{err: domain.NewVoiceError(domain.ErrorCodePermissionDenied, "user declined")}
	engine := &fakeEngine{supported: true, secure: true}
	sink := &fakeEventSink{}
	handlers := newRecordingHandlers()

	session := newTestSession(engine, probe, sink, Config{})
	session.SetHandlers(handlers.handlers())

	err := session.StartListening(context.Background())
	var verr *domain.VoiceError
	if !errors.As(err, &verr) || verr.Code != domain.ErrorCodePermissionDenied {
		t.Fatalf("unexpected error: %v", err)
	}

	if session.State() != domain.SessionStateErrored {
		t.Fatalf("unexpected state: %s", session.State())
	}
	if session.IsListening() {
		t.Fatalf("must not be listening after denial")
	}
	if engine.calls != 0 {
		t.Fatalf("recognition engine must not be started after denial")
	}

	errs := handlers.snapshotErrors()
	if len(errs) != 1 || errs[0].Code != domain.ErrorCodePermissionDenied {
		t.Fatalf("expected permission denied callback, got %+v", errs)
	}

	states := sink.snapshotStates()
	last := states[len(states)-1]
	if last.state != domain.SessionStateErrored || last.reason != domain.SessionReasonPermissionFailed {
		t.Fatalf("unexpected terminal transition: %+v", last)
	}
}

func TestDeviceNotFoundPassesThrough(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{err: domain.NewVoiceError(domain.ErrorCodeDeviceNotFound, "no mic")}
	session := newTestSession(&fakeEngine{supported: true, secure: true}, probe, &fakeEventSink{}, Config{})

	err := session.StartListening(context.Background())
	var verr *domain.VoiceError
	if !errors.As(err, &verr) || verr.Code != domain.ErrorCodeDeviceNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngineStartFailure(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{handle: &fakeHandle{}}
	engine := &fakeEngine{supported: true, secure: true, err: errors.New("dial failed")}
	session := newTestSession(engine, probe, &fakeEventSink{}, Config{})

	err := session.StartListening(context.Background())
	var verr *domain.VoiceError
	if !errors.As(err, &verr) || verr.Code != domain.ErrorCodeRecognition {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.State() != domain.SessionStateErrored {
		t.Fatalf("unexpected state: %s", session.State())
	}
	if probe.handle.releases == 0 {
		t.Fatalf("probe handle must be released even when the engine fails")
	}
}

func TestRecognitionFailureSurfacesFromWait(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognition(0)
	rec.waitErr = domain.NewVoiceError(domain.ErrorCodeNoSpeech, "silence")
	close(rec.events)
	rec.closed = true

	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{rec}}
	sink := &fakeEventSink{}
	handlers := newRecordingHandlers()

	session := newTestSession(engine, &fakeProbe{handle: &fakeHandle{}}, sink, Config{})
	session.SetHandlers(handlers.handlers())

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return len(handlers.snapshotErrors()) > 0 })

	if session.State() != domain.SessionStateErrored {
		t.Fatalf("unexpected state: %s", session.State())
	}
	errs := handlers.snapshotErrors()
	if len(errs) != 1 || errs[0].Code != domain.ErrorCodeNoSpeech {
		t.Fatalf("expected no-speech callback, got %+v", errs)
	}
}

func TestResetTranscript(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognition(1)
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "heat"}

	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{rec}}
	session := newTestSession(engine, &fakeProbe{handle: &fakeHandle{}}, &fakeEventSink{}, Config{})

	session.ResetTranscript()
	if got := session.Transcript(); got != "" {
		t.Fatalf("reset on idle session: %q", got)
	}

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return session.Transcript() == "heat" })

	session.ResetTranscript()
	if got := session.Transcript(); got != "" {
		t.Fatalf("expected empty transcript after reset, got %q", got)
	}
}

func TestRestartAfterStopResetsTranscript(t *testing.T) {
	t.Parallel()

	first := newFakeRecognition(1)
	first.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "first"}
	second := newFakeRecognition(1)
	second.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "second"}

	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{first, second}}
	session := newTestSession(engine, &fakeProbe{handle: &fakeHandle{}}, &fakeEventSink{}, Config{})

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	waitFor(t, func() bool { return session.State() == domain.SessionStateStopped })

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	waitFor(t, func() bool { return session.State() == domain.SessionStateStopped && session.Transcript() == "second" })
}

func TestContinuousModeAccumulatesFinals(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognition(2)
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "movies with"}
	rec.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "time loops"}

	engine := &fakeEngine{supported: true, secure: true, sessions: []*fakeRecognition{rec}}
	session := newTestSession(engine, &fakeProbe{handle: &fakeHandle{}}, &fakeEventSink{}, Config{Continuous: true})

	if err := session.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return session.Transcript() == "movies with time loops" })

	if session.State() != domain.SessionStateListening {
		t.Fatalf("continuous session must keep listening after finals, state=%s", session.State())
	}
	session.StopListening()

	if session.State() != domain.SessionStateStopped {
		t.Fatalf("unexpected state after stop: %s", session.State())
	}
}

func newTestSession(engine ports.SpeechEngine, probe ports.MicrophoneProbe, sink ports.EventSink, cfg Config) *Session {
	return NewSession(engine, probe, sink, cfg, zerolog.Nop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

type fakeEngine struct {
	supported bool
	secure    bool
	sessions  []*fakeRecognition
	err       error
	calls     int
}

func (f *fakeEngine) Supported() bool       { return f.supported }
func (f *fakeEngine) SecureTransport() bool { return f.secure }

func (f *fakeEngine) Start(_ context.Context, _ ports.EngineConfig) (ports.RecognitionSession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls > len(f.sessions) {
		return nil, errors.New("no recognition session configured")
	}
	return f.sessions[f.calls-1], nil
}

type fakeRecognition struct {
	events  chan domain.TranscriptEvent
	waitErr error

	mu     sync.Mutex
	stops  int
	closed bool
}

func newFakeRecognition(buffer int) *fakeRecognition {
	return &fakeRecognition{events: make(chan domain.TranscriptEvent, buffer)}
}

func (f *fakeRecognition) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeRecognition) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeRecognition) Wait() error { return f.waitErr }

func (f *fakeRecognition) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeProbe struct {
	handle *fakeHandle
	err    error
	calls  int
}

func (f *fakeProbe) RequestAccess(_ context.Context) (ports.MicrophoneHandle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

type fakeHandle struct {
	releases int
}

func (f *fakeHandle) Release() error {
	f.releases++
	return nil
}

type stateTransition struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type sinkError struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []stateTransition
	interims []string
	finals   [][2]string
	errors   []sinkError
}

func (f *fakeEventSink) VoiceStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateTransition{state: state, reason: reason})
}

func (f *fakeEventSink) InterimTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interims = append(f.interims, text)
}

func (f *fakeEventSink) FinalTranscript(raw string, query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, [2]string{raw, query})
}

func (f *fakeEventSink) VoiceError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, sinkError{code: code, detail: detail})
}

func (f *fakeEventSink) SuggestionsReady(_ domain.SuggestionPage) {}

func (f *fakeEventSink) SearchFailed(_ string, _ string) {}

func (f *fakeEventSink) snapshotStates() []stateTransition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateTransition, len(f.states))
	copy(out, f.states)
	return out
}

type recordedResult struct {
	text  string
	final bool
}

type recordingHandlers struct {
	mu      sync.Mutex
	results []recordedResult
	errs    []*domain.VoiceError
}

func newRecordingHandlers() *recordingHandlers {
	return &recordingHandlers{}
}

func (r *recordingHandlers) handlers() Handlers {
	return Handlers{
		OnResult: func(text string, final bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.results = append(r.results, recordedResult{text: text, final: final})
		},
		OnError: func(err *domain.VoiceError) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recordingHandlers) snapshotResults() []recordedResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *recordingHandlers) snapshotErrors() []*domain.VoiceError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.VoiceError, len(r.errs))
	copy(out, r.errs)
	return out
}
