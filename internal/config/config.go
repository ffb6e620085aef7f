package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutor voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// Audio pipeline.
	SampleRate   int
	ChunkSamples int
	ChunkPeriod  time.Duration

	// Voice activity detection.
	VADThreshold float64
	MinSpeech    time.Duration
	PauseHold    time.Duration

	// Smart response buffering.
	BufferMaxAge       time.Duration
	RelevanceThreshold float64
	MergeEnabled       bool

	// Turn orchestration.
	ResponseDelay   time.Duration
	HistoryMaxTurns int

	// Collaborators.
	VoiceProvider string
	BrainMode     string
	BrainHTTPURL  string
	BrainAPIKey   string
	BrainModel    string

	DatabaseURL string
	RedisURL    string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "parlo"),
		AllowAnyOrigin:   false,

		SampleRate:   16000,
		ChunkSamples: 512,

		VADThreshold: 0.5,
		MinSpeech:    300 * time.Millisecond,
		PauseHold:    2 * time.Second,

		BufferMaxAge:       10 * time.Second,
		RelevanceThreshold: 0.6,
		MergeEnabled:       true,

		ResponseDelay:   400 * time.Millisecond,
		HistoryMaxTurns: 20,

		VoiceProvider: envOrDefault("VOICE_PROVIDER", "mock"),
		BrainMode:     envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:  trimmedEnv("BRAIN_HTTP_URL"),
		BrainAPIKey:   trimmedEnv("BRAIN_API_KEY"),
		BrainModel:    envOrDefault("BRAIN_MODEL", "gpt-4o-mini"),

		DatabaseURL: trimmedEnv("DATABASE_URL"),
		RedisURL:    trimmedEnv("REDIS_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkSamples, err = intFromEnv("AUDIO_CHUNK_SAMPLES", cfg.ChunkSamples)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSpeech, err = durationFromEnv("VAD_MIN_SPEECH", cfg.MinSpeech)
	if err != nil {
		return Config{}, err
	}
	cfg.PauseHold, err = durationFromEnv("PAUSE_THRESHOLD", cfg.PauseHold)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferMaxAge, err = durationFromEnv("BUFFER_MAX_AGE", cfg.BufferMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.RelevanceThreshold, err = floatFromEnv("BUFFER_RELEVANCE_THRESHOLD", cfg.RelevanceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MergeEnabled, err = boolFromEnv("BUFFER_MERGE_ENABLED", cfg.MergeEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponseDelay, err = durationFromEnv("RESPONSE_DELAY", cfg.ResponseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxTurns, err = intFromEnv("HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.ChunkSamples <= 0 {
		return Config{}, fmt.Errorf("AUDIO_CHUNK_SAMPLES must be positive")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD must be in [0,1]")
	}
	if cfg.MinSpeech <= 0 {
		return Config{}, fmt.Errorf("VAD_MIN_SPEECH must be positive")
	}
	if cfg.PauseHold <= cfg.MinSpeech {
		return Config{}, fmt.Errorf("PAUSE_THRESHOLD must exceed VAD_MIN_SPEECH")
	}
	if cfg.RelevanceThreshold < 0 || cfg.RelevanceThreshold > 1 {
		return Config{}, fmt.Errorf("BUFFER_RELEVANCE_THRESHOLD must be in [0,1]")
	}
	if cfg.HistoryMaxTurns <= 0 {
		return Config{}, fmt.Errorf("HISTORY_MAX_TURNS must be positive")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	// One chunk period at the configured rate; the VAD unit of work.
	cfg.ChunkPeriod = time.Duration(cfg.ChunkSamples) * time.Second / time.Duration(cfg.SampleRate)

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
