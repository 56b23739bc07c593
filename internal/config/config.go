package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the phone agent service.
type Config struct {
	BindAddr                 string
	PublicBaseURL            string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	// Providers: "auto" picks the real integrations when credentials are
	// present and falls back to mocks otherwise; "mock" forces the latter.
	ProviderMode string

	GoogleCredentialsJSON string
	RecognitionModel      string

	TwilioAccountSID string
	TwilioAuthToken  string

	LLMURL     string
	LLMTimeout time.Duration

	Language        string
	VoiceName       string
	SpeakingRate    float64
	AudioEncoding   string
	SampleRateHertz int

	GreetingText         string
	ApologyText          string
	GreetingFallbackWait time.Duration
	ConfidenceGate       float64

	BargeInCaptureWindow      time.Duration
	BargeInFinalizeWait       time.Duration
	BargeInDegradedConfidence float64
	BargeInTriggerRunes       int
	MaxInterruptionDepth      int

	IngestMinChunks           int
	IngestMaxChunks           int
	IngestRecitationMinChunks int
	IngestRecitationMaxChunks int

	TTSTimeout       time.Duration
	RecognizeTimeout time.Duration
	HistoryLimit     int

	RecordCalls  bool
	AudioClipTTL time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicBaseURL:            envTrimmed("APP_PUBLIC_BASE_URL"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "denwa"),
		ProviderMode:             envOrDefault("PROVIDER_MODE", "auto"),
		GoogleCredentialsJSON:    envTrimmed("GOOGLE_CREDENTIALS_JSON"),
		RecognitionModel:         envOrDefault("RECOGNITION_MODEL", "phone_call"),
		TwilioAccountSID:         envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:          envTrimmed("TWILIO_AUTH_TOKEN"),
		LLMURL:                   envTrimmed("LLM_HTTP_URL"),
		Language:                 envOrDefault("CALL_LANGUAGE", "ja-JP"),
		VoiceName:                envOrDefault("TTS_VOICE_NAME", "ja-JP-Neural2-B"),
		AudioEncoding:            envOrDefault("CALL_AUDIO_ENCODING", "mulaw"),
		GreetingText:             envOrDefault("CALL_GREETING_TEXT", "お電話ありがとうございます。ご用件をお伺いいたします。"),
		ApologyText:              envOrDefault("CALL_APOLOGY_TEXT", "申し訳ございません。少々お時間をいただいております。"),
		DatabaseURL:              envTrimmed("DATABASE_URL"),
		SpeakingRate:             1.0,
		SampleRateHertz:          8000,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		GreetingFallbackWait:     2500 * time.Millisecond,
		ConfidenceGate:           0.5,

		BargeInCaptureWindow:      10 * time.Second,
		BargeInFinalizeWait:       8 * time.Second,
		BargeInDegradedConfidence: 0.8,
		BargeInTriggerRunes:       1,
		MaxInterruptionDepth:      1,

		IngestMinChunks:           25,
		IngestMaxChunks:           150,
		IngestRecitationMinChunks: 100,
		IngestRecitationMaxChunks: 250,

		LLMTimeout:       15 * time.Second,
		TTSTimeout:       10 * time.Second,
		RecognizeTimeout: 10 * time.Second,
		HistoryLimit:     10,
		AudioClipTTL:     5 * time.Minute,
	}

	var err error
	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"CALL_GREETING_FALLBACK_WAIT", &cfg.GreetingFallbackWait},
		{"BARGEIN_CAPTURE_WINDOW", &cfg.BargeInCaptureWindow},
		{"BARGEIN_FINALIZE_WAIT", &cfg.BargeInFinalizeWait},
		{"LLM_TIMEOUT", &cfg.LLMTimeout},
		{"TTS_TIMEOUT", &cfg.TTSTimeout},
		{"RECOGNIZE_TIMEOUT", &cfg.RecognizeTimeout},
		{"AUDIO_CLIP_TTL", &cfg.AudioClipTTL},
	} {
		*f.dst, err = durationFromEnv(f.key, *f.dst)
		if err != nil {
			return Config{}, err
		}
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"CALL_SAMPLE_RATE", &cfg.SampleRateHertz},
		{"BARGEIN_TRIGGER_RUNES", &cfg.BargeInTriggerRunes},
		{"CALL_MAX_INTERRUPTION_DEPTH", &cfg.MaxInterruptionDepth},
		{"INGEST_MIN_CHUNKS", &cfg.IngestMinChunks},
		{"INGEST_MAX_CHUNKS", &cfg.IngestMaxChunks},
		{"INGEST_RECITATION_MIN_CHUNKS", &cfg.IngestRecitationMinChunks},
		{"INGEST_RECITATION_MAX_CHUNKS", &cfg.IngestRecitationMaxChunks},
		{"CALL_HISTORY_LIMIT", &cfg.HistoryLimit},
	} {
		*f.dst, err = intFromEnv(f.key, *f.dst)
		if err != nil {
			return Config{}, err
		}
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"CALL_CONFIDENCE_GATE", &cfg.ConfidenceGate},
		{"BARGEIN_DEGRADED_CONFIDENCE", &cfg.BargeInDegradedConfidence},
		{"TTS_SPEAKING_RATE", &cfg.SpeakingRate},
	} {
		*f.dst, err = floatFromEnv(f.key, *f.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordCalls, err = boolFromEnv("CALL_RECORDING_ENABLED", cfg.RecordCalls)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ConfidenceGate <= 0 || cfg.ConfidenceGate >= 1 {
		return Config{}, fmt.Errorf("CALL_CONFIDENCE_GATE must be in (0, 1)")
	}
	if cfg.BargeInDegradedConfidence <= 0 || cfg.BargeInDegradedConfidence > 1 {
		return Config{}, fmt.Errorf("BARGEIN_DEGRADED_CONFIDENCE must be in (0, 1]")
	}
	if cfg.IngestMinChunks > cfg.IngestMaxChunks {
		return Config{}, fmt.Errorf("INGEST_MIN_CHUNKS must not exceed INGEST_MAX_CHUNKS")
	}
	if cfg.IngestRecitationMinChunks > cfg.IngestRecitationMaxChunks {
		return Config{}, fmt.Errorf("INGEST_RECITATION_MIN_CHUNKS must not exceed INGEST_RECITATION_MAX_CHUNKS")
	}
	if cfg.SampleRateHertz <= 0 {
		return Config{}, fmt.Errorf("CALL_SAMPLE_RATE must be positive")
	}
	if cfg.MaxInterruptionDepth <= 0 {
		return Config{}, fmt.Errorf("CALL_MAX_INTERRUPTION_DEPTH must be positive")
	}
	switch cfg.ProviderMode {
	case "auto", "mock", "cloud":
	default:
		return Config{}, fmt.Errorf("PROVIDER_MODE must be auto, cloud or mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
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
	v := envTrimmed(key)
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
	v := envTrimmed(key)
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
	v := strings.ToLower(envTrimmed(key))
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
