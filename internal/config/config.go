package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice agent platform.
type Config struct {
	BindAddr        string
	PublicBaseURL   string
	ShutdownTimeout time.Duration

	MetricsNamespace string

	// Telephony provider (outbound call placement + webhook auth).
	TelephonyAPIURL     string
	TelephonyAuthID     string
	TelephonyAuthToken  string
	TelephonyFromNumber string

	// Speech synthesis/transcription.
	SpeechProvider   string
	DeepgramAPIKey   string
	DeepgramAPIURL   string
	SpeechTimeout    time.Duration
	SpeechRetries    int
	AudioDir         string
	AudioCacheMax    int
	DefaultLocale    string
	DefaultVoice     string
	GatherTimeoutSec int

	// Conversational bridge.
	BrainMode    string
	BrainHTTPURL string
	BrainTimeout time.Duration
	BrainRetries int

	// Call policy.
	MaxTurns           int
	NoInputRetries     int
	SensitiveInfoLimit int
	SessionIdleTimeout time.Duration

	// Outcome persistence: CSV directory always, Postgres when DATABASE_URL is set.
	OutcomeDir  string
	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicBaseURL:       envOrDefault("APP_PUBLIC_BASE_URL", "http://localhost:8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "vaani"),
		TelephonyAPIURL:     envOrDefault("TELEPHONY_API_URL", "https://api.vobiz.ai"),
		TelephonyAuthID:     stringsTrimSpace("TELEPHONY_AUTH_ID"),
		TelephonyAuthToken:  stringsTrimSpace("TELEPHONY_AUTH_TOKEN"),
		TelephonyFromNumber: stringsTrimSpace("TELEPHONY_FROM_NUMBER"),
		SpeechProvider:      envOrDefault("SPEECH_PROVIDER", "auto"),
		DeepgramAPIKey:      stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramAPIURL:      envOrDefault("DEEPGRAM_API_URL", "https://api.deepgram.com"),
		AudioDir:            envOrDefault("AUDIO_CACHE_DIR", "audio_cache"),
		DefaultLocale:       envOrDefault("APP_DEFAULT_LOCALE", "en-IN"),
		DefaultVoice:        envOrDefault("APP_DEFAULT_VOICE", "aura-asteria-en"),
		BrainMode:           envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:        stringsTrimSpace("BRAIN_HTTP_URL"),
		OutcomeDir:          envOrDefault("CALL_DATA_DIR", "call_data"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		SpeechTimeout:       8 * time.Second,
		BrainTimeout:        10 * time.Second,
		SessionIdleTimeout:  2 * time.Minute,
		SpeechRetries:       2,
		BrainRetries:        2,
		AudioCacheMax:       256,
		GatherTimeoutSec:    5,
		MaxTurns:            20,
		NoInputRetries:      2,
		SensitiveInfoLimit:  3,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainTimeout, err = durationFromEnv("BRAIN_TIMEOUT", cfg.BrainTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechRetries, err = intFromEnv("SPEECH_RETRIES", cfg.SpeechRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainRetries, err = intFromEnv("BRAIN_RETRIES", cfg.BrainRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioCacheMax, err = intFromEnv("AUDIO_CACHE_MAX_ENTRIES", cfg.AudioCacheMax)
	if err != nil {
		return Config{}, err
	}
	cfg.GatherTimeoutSec, err = intFromEnv("GATHER_TIMEOUT_SECONDS", cfg.GatherTimeoutSec)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTurns, err = intFromEnv("CALL_MAX_TURNS", cfg.MaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.NoInputRetries, err = intFromEnv("CALL_NO_INPUT_RETRIES", cfg.NoInputRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SensitiveInfoLimit, err = intFromEnv("CALL_SENSITIVE_INFO_LIMIT", cfg.SensitiveInfoLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.MaxTurns <= 0 {
		return Config{}, fmt.Errorf("CALL_MAX_TURNS must be positive")
	}
	if cfg.NoInputRetries < 0 {
		return Config{}, fmt.Errorf("CALL_NO_INPUT_RETRIES must be >= 0")
	}
	if cfg.SensitiveInfoLimit <= 0 {
		return Config{}, fmt.Errorf("CALL_SENSITIVE_INFO_LIMIT must be positive")
	}
	if cfg.AudioCacheMax <= 0 {
		return Config{}, fmt.Errorf("AUDIO_CACHE_MAX_ENTRIES must be positive")
	}
	if cfg.GatherTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("GATHER_TIMEOUT_SECONDS must be positive")
	}
	if strings.HasSuffix(cfg.PublicBaseURL, "/") {
		cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
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

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
