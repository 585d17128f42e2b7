// Package deepgram adapts Deepgram's streaming transcription websocket to the
// SpeechEngine port. The engine owns the microphone for the duration of a run:
// it starts a capture session, pumps PCM chunks over the socket, and maps
// provider messages onto interim/final transcript events.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mictap/internal/domain"
	"mictap/internal/ports"
)

const (
	defaultBaseURL         = "https://api.deepgram.com/v1"
	defaultModel           = "nova-2"
	defaultChunkSize       = 4096
	defaultNoSpeechTimeout = 8 * time.Second
	drainGrace             = 3 * time.Second
)

// Config controls the Deepgram connection and the capture it drives.
type Config struct {
	APIKey          string
	APIBaseURL      string
	Model           string
	SmartFormat     bool
	ChunkSize       int
	NoSpeechTimeout time.Duration
	Audio           ports.AudioConfig
}

// Engine implements ports.SpeechEngine.
type Engine struct {
	cfg     Config
	capture ports.AudioCapture
	log     zerolog.Logger
}

func NewEngine(cfg Config, capture ports.AudioCapture, log zerolog.Logger) *Engine {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.NoSpeechTimeout <= 0 {
		cfg.NoSpeechTimeout = defaultNoSpeechTimeout
	}
	return &Engine{cfg: cfg, capture: capture, log: log.With().Str("component", "deepgram").Logger()}
}

// Supported reports whether the engine is usable at all on this host.
// Computed from configuration, never from a network round trip.
func (e *Engine) Supported() bool {
	return strings.TrimSpace(e.cfg.APIKey) != "" && e.capture != nil
}

// SecureTransport reports whether microphone audio may be sent to the
// configured endpoint: TLS always, plaintext only for loopback hosts.
func (e *Engine) SecureTransport() bool {
	parsed, err := url.Parse(strings.TrimSpace(e.cfg.APIBaseURL))
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "https", "wss":
		return true
	case "http", "ws":
		return isLoopbackHost(parsed.Hostname())
	default:
		return false
	}
}

func isLoopbackHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func (e *Engine) Start(ctx context.Context, cfg ports.EngineConfig) (ports.RecognitionSession, error) {
	if !e.Supported() {
		return nil, domain.NewVoiceError(domain.ErrorCodeCapabilityUnsupported, "deepgram API key is not configured")
	}

	wsURL, err := listenURL(e.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition endpoint: %w", err)
	}

	audioCfg := e.cfg.Audio
	if cfg.SampleRate > 0 {
		audioCfg.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		audioCfg.Channels = cfg.Channels
	}
	capture, err := e.capture.Start(ctx, audioCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open microphone for recognition: %w", err)
	}

	run := &recognitionRun{
		conn:      conn,
		capture:   capture,
		events:    make(chan domain.TranscriptEvent, 64),
		done:      make(chan struct{}),
		heard:     make(chan struct{}),
		chunkSize: e.cfg.ChunkSize,
		log:       e.log,
	}

	run.wg.Add(2)
	go run.readLoop()
	go run.writeLoop()
	go run.watchNoSpeech(e.cfg.NoSpeechTimeout)
	go func() {
		run.wg.Wait()
		close(run.events)
		close(run.done)
		_ = conn.Close()
		_ = capture.Stop()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = run.Stop()
		case <-run.done:
		}
	}()

	return run, nil
}

type recognitionRun struct {
	conn      *websocket.Conn
	capture   ports.AudioSession
	events    chan domain.TranscriptEvent
	done      chan struct{}
	chunkSize int
	log       zerolog.Logger

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	heard     chan struct{}
	heardOnce sync.Once

	stopOnce sync.Once
}

func (r *recognitionRun) Events() <-chan domain.TranscriptEvent {
	return r.events
}

// Stop releases the microphone and winds the run down. It does not block on
// the provider draining; the connection is force-closed after a grace period.
func (r *recognitionRun) Stop() error {
	r.stopOnce.Do(func() {
		_ = r.capture.Stop()
		go func() {
			select {
			case <-r.done:
			case <-time.After(drainGrace):
				r.log.Warn().Msg("provider did not close after drain grace, forcing")
				_ = r.conn.Close()
			}
		}()
	})
	return nil
}

func (r *recognitionRun) Wait() error {
	<-r.done
	return r.takeErr()
}

func (r *recognitionRun) takeErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *recognitionRun) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	if errors.Is(err, net.ErrClosed) {
		return
	}

	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *recognitionRun) markHeard() {
	r.heardOnce.Do(func() {
		close(r.heard)
	})
}

// watchNoSpeech fails the run if the provider recognizes nothing at all
// within the timeout window.
func (r *recognitionRun) watchNoSpeech(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.heard:
	case <-r.done:
	case <-timer.C:
		r.setErr(domain.NewVoiceError(domain.ErrorCodeNoSpeech, fmt.Sprintf("no speech recognized within %s", timeout)))
		_ = r.Stop()
		_ = r.conn.Close()
	}
}

func (r *recognitionRun) writeLoop() {
	defer r.wg.Done()

	buf := make([]byte, r.chunkSize)
	for {
		n, err := r.capture.Read(buf)
		if n > 0 {
			if writeErr := r.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
				r.setErr(fmt.Errorf("failed to send audio: %w", writeErr))
				return
			}
		}
		if err != nil {
			// Capture ended: stop or device EOF. Ask the provider to flush
			// whatever it still holds.
			if writeErr := r.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); writeErr != nil {
				r.setErr(fmt.Errorf("failed to close stream: %w", writeErr))
			}
			return
		}
	}
}

func (r *recognitionRun) readLoop() {
	defer r.wg.Done()
	// Every read-side exit stops the capture; writeLoop only unwinds once its
	// Read fails, and the run cannot finish until both loops are done.
	defer func() { _ = r.Stop() }()

	for {
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			r.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		response, ok := decodeListenResponse(payload)
		if !ok {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "recognition engine returned an unknown error"
			}
			r.setErr(domain.NewVoiceError(domain.ErrorCodeRecognition, message))
			return
		}

		text := response.transcript()
		if text == "" {
			continue
		}
		r.markHeard()

		event := domain.TranscriptEvent{Text: text, UtteranceEnd: response.SpeechFinal}
		if response.IsFinal || response.SpeechFinal {
			event.Kind = domain.TranscriptKindFinal
		} else {
			event.Kind = domain.TranscriptKindInterim
		}
		r.emit(event)
	}
}

func (r *recognitionRun) emit(event domain.TranscriptEvent) {
	select {
	case r.events <- event:
	case <-r.done:
	default:
	}
}

func listenURL(engineCfg Config, runCfg ports.EngineConfig) (string, error) {
	base := strings.TrimSpace(engineCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	parsed, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid recognition API base URL: %w", err)
	}

	sampleRate := runCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := runCfg.Channels
	if channels <= 0 {
		channels = 1
	}

	query := parsed.Query()
	query.Set("model", engineCfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", fmt.Sprintf("%t", runCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", engineCfg.SmartFormat))
	if runCfg.Language != "" {
		query.Set("language", runCfg.Language)
	}
	if !runCfg.Continuous {
		// Single-utterance mode: let the provider endpoint aggressively so the
		// final arrives as soon as the speaker pauses.
		query.Set("endpointing", "300")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
