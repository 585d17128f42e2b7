package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the voice-search backend.
type Config struct {
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Catalog  CatalogConfig
	Voice    VoiceConfig
	Search   SearchConfig
	History  HistoryConfig
	Hints    HintsConfig
	Rules    RulesConfig
	Logging  LoggingConfig
}

type DeepgramConfig struct {
	APIKey          string
	APIBaseURL      string
	Model           string
	Language        string
	SmartFormat     bool
	NoSpeechTimeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type CatalogConfig struct {
	APIKey       string
	BaseURL      string
	Language     string
	IncludeAdult bool
}

type VoiceConfig struct {
	Continuous bool
	ChunkSize  int
}

type SearchConfig struct {
	Debounce      time.Duration
	MinQueryRunes int
}

type HistoryConfig struct {
	Limit int
}

type HintsConfig struct {
	Interval time.Duration
	Hold     time.Duration
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type LoggingConfig struct {
	Level string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	defaultRules := filepath.Join(home, ".config", "mictap", "query.rules")
	rulesPath := strings.TrimSpace(os.Getenv("MICTAP_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(defaultRules)
	}

	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:          strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:      envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:           envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:        strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat:     envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			NoSpeechTimeout: time.Duration(envOrDefaultInt("MICTAP_NO_SPEECH_TIMEOUT_MS", 8000)) * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("MICTAP_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("MICTAP_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("MICTAP_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("MICTAP_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("MICTAP_CHANNELS", 1),
		},
		Catalog: CatalogConfig{
			APIKey:       strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
			BaseURL:      envOrDefault("TMDB_API_BASE", "https://api.themoviedb.org/3"),
			Language:     envOrDefault("TMDB_LANGUAGE", "en-US"),
			IncludeAdult: envOrDefaultBool("TMDB_INCLUDE_ADULT", false),
		},
		Voice: VoiceConfig{
			Continuous: envOrDefaultBool("MICTAP_CONTINUOUS", false),
			ChunkSize:  envOrDefaultInt("MICTAP_AUDIO_CHUNK_SIZE", 4096),
		},
		Search: SearchConfig{
			Debounce:      time.Duration(envOrDefaultInt("MICTAP_SEARCH_DEBOUNCE_MS", 300)) * time.Millisecond,
			MinQueryRunes: envOrDefaultInt("MICTAP_SEARCH_MIN_RUNES", 2),
		},
		History: HistoryConfig{
			Limit: envOrDefaultInt("MICTAP_HISTORY_LIMIT", 20),
		},
		Hints: HintsConfig{
			Interval: time.Duration(envOrDefaultInt("MICTAP_HINT_INTERVAL_MS", 60)) * time.Millisecond,
			Hold:     time.Duration(envOrDefaultInt("MICTAP_HINT_HOLD_MS", 2000)) * time.Millisecond,
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("MICTAP_RULE_ITERATION_LIMIT", 30),
		},
		Logging: LoggingConfig{
			Level: envOrDefault("MICTAP_LOG_LEVEL", "info"),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Voice.ChunkSize < 256 {
		cfg.Voice.ChunkSize = 4096
	}
	if cfg.Search.MinQueryRunes <= 0 {
		cfg.Search.MinQueryRunes = 2
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = 20
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Deepgram.NoSpeechTimeout <= 0 {
		cfg.Deepgram.NoSpeechTimeout = 8 * time.Second
	}

	return cfg, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
