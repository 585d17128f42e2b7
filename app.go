package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"mictap/internal/bootstrap"
	"mictap/internal/config"
	"mictap/internal/domain"
	"mictap/internal/history"
	"mictap/internal/ports"
	"mictap/internal/search"
	"mictap/internal/typewriter"
	"mictap/internal/voice"
)

const (
	eventVoice       = "mictap:voice"
	eventInterim     = "mictap:interim"
	eventFinal       = "mictap:final"
	eventError       = "mictap:error"
	eventSuggestions = "mictap:suggestions"
	eventSearchError = "mictap:search_error"
	eventHint        = "mictap:hint"
)

const (
	debugOpSeed  = "seed_history"
	debugOpClear = "clear_history"
)

var defaultHints = []string{
	"thrillers like Se7en",
	"feel-good 90s comedies",
	"movies with time loops",
	"best picture winners from the 80s",
}

var seedQueries = []string{
	"the godfather",
	"spirited away",
	"severance",
	"blade runner 2049",
}

// App is the Wails application root.
type App struct {
	ctx context.Context

	voice     *voice.Session
	search    *search.Flow
	history   *history.Store
	flags     flagStore
	rules     ports.QueryRules
	clipboard ports.Clipboard
	hints     *typewriter.Writer
	cfg       config.Config
	log       zerolog.Logger
	bootErr   error
}

// flagStore is the small surface App needs from the debug flag store.
type flagStore interface {
	TryAcquire(op string) bool
	Release(op string)
	Busy() (string, bool)
}

func NewApp() *App {
	return &App{clipboard: &wailsClipboard{}}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.VoiceError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.voice = services.Voice
	a.search = services.Search
	a.history = services.History
	a.flags = services.Flags
	a.rules = services.Rules
	a.cfg = services.Config
	a.log = services.Logger

	a.voice.SetHandlers(voice.Handlers{
		OnResult: a.onRecognitionResult,
	})

	a.hints = typewriter.New(a.cfg.Hints.Interval, a.cfg.Hints.Hold, a.emitHint)
	a.hints.Start(defaultHints)

	a.VoiceStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.hints != nil {
		a.hints.Stop()
	}
	if a.search != nil {
		a.search.Close()
	}
	if a.voice != nil {
		a.voice.Close()
	}
}

// onRecognitionResult feeds final transcripts into the search pipeline.
func (a *App) onRecognitionResult(text string, final bool) {
	if !final {
		return
	}
	query, err := a.rules.Apply(text)
	if err != nil {
		a.VoiceError(domain.ErrorCodeRules, err.Error())
		return
	}
	a.FinalTranscript(text, query)
	a.history.Add(query)
	a.search.QueryChanged(query)
}

// StartVoiceSearch starts a voice-input session for the search box.
func (a *App) StartVoiceSearch() (domain.VoiceStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.VoiceStatus{}, err
	}
	if err := a.voice.StartListening(a.ctx); err != nil {
		return a.voice.Status(), err
	}
	return a.voice.Status(), nil
}

// StopVoiceSearch ends the active voice-input session, if any.
func (a *App) StopVoiceSearch() (domain.VoiceStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.VoiceStatus{}, err
	}
	a.voice.StopListening()
	return a.voice.Status(), nil
}

// ResetTranscript clears accumulated voice transcript state.
func (a *App) ResetTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.voice.ResetTranscript()
	return nil
}

// GetVoiceStatus returns the current voice session status.
func (a *App) GetVoiceStatus() domain.VoiceStatus {
	if a.voice == nil {
		status := domain.VoiceStatus{State: domain.SessionStateIdle}
		if a.bootErr != nil {
			status.State = domain.SessionStateErrored
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.voice.Status()
}

// QueryChanged records a keystroke-level query edit for debounced suggestions.
func (a *App) QueryChanged(query string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.search.QueryChanged(query)
	return nil
}

// NextSuggestionPage requests the next page for the current query.
func (a *App) NextSuggestionPage() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.search.NextPage()
	return nil
}

// RecentQueries returns recent search queries, newest first.
func (a *App) RecentQueries() []string {
	if a.history == nil {
		return nil
	}
	return a.history.Recent()
}

// DebugSeedHistory replaces recent queries with sample data. Guarded so it
// can never interleave with a running clear.
func (a *App) DebugSeedHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if !a.flags.TryAcquire(debugOpSeed) {
		op, _ := a.flags.Busy()
		return fmt.Errorf("debug operation %q is already running", op)
	}
	defer a.flags.Release(debugOpSeed)

	a.history.Replace(seedQueries)
	a.log.Info().Int("count", a.history.Len()).Msg("seeded recent queries")
	return nil
}

// DebugClearHistory clears recent queries. Guarded like DebugSeedHistory.
func (a *App) DebugClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if !a.flags.TryAcquire(debugOpClear) {
		op, _ := a.flags.Busy()
		return fmt.Errorf("debug operation %q is already running", op)
	}
	defer a.flags.Release(debugOpClear)

	a.history.Clear()
	a.log.Info().Msg("cleared recent queries")
	return nil
}

// CopyQuery writes a query into the system clipboard for sharing.
func (a *App) CopyQuery(text string) error {
	if a.ctx == nil {
		return errors.New("application is not initialized")
	}
	if err := a.clipboard.SetText(a.ctx, text); err != nil {
		a.VoiceError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"engine":           "Deepgram",
		"model":            a.cfg.Deepgram.Model,
		"language":         a.cfg.Deepgram.Language,
		"catalog":          a.cfg.Catalog.BaseURL,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.voice == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// VoiceStateChanged emits voice lifecycle updates to the frontend and pauses
// the placeholder animation while the transcript owns the search box.
func (a *App) VoiceStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.hints != nil {
		switch state {
		case domain.SessionStateRequestingPermission, domain.SessionStateListening:
			a.hints.Stop()
		case domain.SessionStateStopped, domain.SessionStateErrored:
			a.hints.Start(defaultHints)
		}
	}
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventVoice, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

// InterimTranscript emits live provisional transcript text.
func (a *App) InterimTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventInterim, map[string]string{"text": text})
}

// FinalTranscript emits the committed transcript and its normalized query.
func (a *App) FinalTranscript(raw string, query string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{
		"raw":   raw,
		"query": query,
	})
}

// VoiceError emits classified voice errors to the UI.
func (a *App) VoiceError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// SuggestionsReady emits a suggestion page for the current query.
func (a *App) SuggestionsReady(page domain.SuggestionPage) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSuggestions, page)
}

// SearchFailed emits a non-fatal suggestion lookup failure.
func (a *App) SearchFailed(query string, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSearchError, map[string]string{
		"query":   query,
		"message": errorMessage(domain.ErrorCodeSearch, detail),
		"detail":  detail,
	})
}

func (a *App) emitHint(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventHint, map[string]string{"text": text})
}

func stateReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Voice search ready"
	case domain.SessionReasonPermissionPrompt:
		return "Requesting microphone access..."
	case domain.SessionReasonListeningStarted:
		return "Listening..."
	case domain.SessionReasonUtteranceComplete:
		return "Got it"
	case domain.SessionReasonStoppedByCaller:
		return "Stopped listening"
	case domain.SessionReasonEngineEnded:
		return "Listening ended"
	case domain.SessionReasonPermissionFailed:
		return "Microphone unavailable"
	case domain.SessionReasonEngineFailed:
		return "Voice input failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeCapabilityUnsupported:
		return "Voice input isn't available on this device. Type your search instead."
	case domain.ErrorCodeTransportInsecure:
		return "Voice input needs a secure (HTTPS) connection. It only works over plain HTTP on localhost."
	case domain.ErrorCodePermissionDenied:
		return "Microphone access was denied. Re-enable it in your system sound settings, then try again."
	case domain.ErrorCodeDeviceNotFound:
		return "No microphone was found. Connect one and try again."
	case domain.ErrorCodeNoSpeech:
		return "Didn't catch that. Tap the mic and try again."
	case domain.ErrorCodeRecognition:
		return "Speech recognition failed. Tap the mic to retry, or type your search."
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeRules:
		return "Query cleanup rules failed"
	case domain.ErrorCodeSearch:
		return "Suggestion lookup failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
