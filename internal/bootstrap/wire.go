package bootstrap

import (
	"os"

	"github.com/rs/zerolog"

	"mictap/internal/audio"
	"mictap/internal/config"
	"mictap/internal/engine/deepgram"
	"mictap/internal/flags"
	"mictap/internal/history"
	"mictap/internal/ports"
	"mictap/internal/providers/tmdb"
	"mictap/internal/rules"
	"mictap/internal/search"
	"mictap/internal/voice"
)

// Services is the assembled runtime graph.
type Services struct {
	Voice   *voice.Session
	Search  *search.Flow
	History *history.Store
	Flags   *flags.Store
	Rules   ports.QueryRules
	Config  config.Config
	Logger  zerolog.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger := newLogger(cfg.Logging.Level)

	normalizer, err := rules.NewNormalizer(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	capture := audio.NewCapture(cfg.Audio.RecorderCommand, logger)
	probe := audio.NewProbe(capture, audioCfg)

	engine := deepgram.NewEngine(deepgram.Config{
		APIKey:          cfg.Deepgram.APIKey,
		APIBaseURL:      cfg.Deepgram.APIBaseURL,
		Model:           cfg.Deepgram.Model,
		SmartFormat:     cfg.Deepgram.SmartFormat,
		ChunkSize:       cfg.Voice.ChunkSize,
		NoSpeechTimeout: cfg.Deepgram.NoSpeechTimeout,
		Audio:           audioCfg,
	}, capture, logger)

	session := voice.NewSession(engine, probe, events, voice.Config{
		Language:   cfg.Deepgram.Language,
		Continuous: cfg.Voice.Continuous,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}, logger)

	catalog := tmdb.NewClient(tmdb.Config{
		APIKey:       cfg.Catalog.APIKey,
		BaseURL:      cfg.Catalog.BaseURL,
		Language:     cfg.Catalog.Language,
		IncludeAdult: cfg.Catalog.IncludeAdult,
	})
	flow := search.NewFlow(catalog, events, search.Config{
		Debounce:      cfg.Search.Debounce,
		MinQueryRunes: cfg.Search.MinQueryRunes,
	}, logger)

	return Services{
		Voice:   session,
		Search:  flow,
		History: history.NewStore(cfg.History.Limit),
		Flags:   flags.NewStore(),
		Rules:   normalizer,
		Config:  cfg,
		Logger:  logger,
	}, nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}
