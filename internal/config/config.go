package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the Doc voice gateway
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"`

	// Reasoning providers. At least one credential is required.
	GeminiAPIKey string   `envconfig:"GEMINI_API_KEY"`
	ArkAPIKey    string   `envconfig:"ARK_API_KEY"`
	ArkBaseURL   string   `envconfig:"ARK_BASE_URL"`
	ArkRegion    string   `envconfig:"ARK_REGION" default:"cn-beijing"`
	ArkModels    []string `envconfig:"ARK_MODELS"` // endpoint IDs the Ark account can serve

	// Ordered fallback chain of provider:identifier entries
	ReasoningChain       []string      `envconfig:"REASONING_CHAIN" default:"gemini:gemini-2.5-flash,gemini:gemini-2.5-pro"`
	ReasoningFamilies    []string      `envconfig:"REASONING_FAMILIES" default:"flash,pro"`
	ReasoningTimeout     time.Duration `envconfig:"REASONING_TIMEOUT" default:"30s"`
	ReasoningTemperature float32       `envconfig:"REASONING_TEMPERATURE" default:"0.2"`
	ReasoningMaxTokens   int           `envconfig:"REASONING_MAX_TOKENS" default:"350"`

	// ElevenLabs TTS configuration. Synthesis is disabled without a key.
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`
	ElevenLabsBaseURL string `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`

	// Deepgram STT configuration. Server-side transcription is disabled without a key.
	DeepgramAPIKey    string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel     string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage  string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	CaptureSampleRate int    `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`

	// Patient context file (YAML or JSON), hot reloaded. Optional.
	PatientFile string `envconfig:"PATIENT_FILE"`

	// Session engine
	HistoryCapacity   int           `envconfig:"HISTORY_CAPACITY" default:"8"`
	SpokenCharLimit   int           `envconfig:"SPOKEN_CHAR_LIMIT" default:"300"`
	SilenceFlush      time.Duration `envconfig:"SILENCE_FLUSH" default:"400ms"`
	PlaybackCooldown  time.Duration `envconfig:"PLAYBACK_COOLDOWN" default:"400ms"`
	BargeSustain      time.Duration `envconfig:"BARGE_SUSTAIN" default:"140ms"`
	BargeMicThreshold float64       `envconfig:"BARGE_MIC_THRESHOLD" default:"0.02"`
	BargeEchoGuard    float64       `envconfig:"BARGE_ECHO_GUARD" default:"1.6"`
	BroadcastBuffer   int           `envconfig:"BROADCAST_BUFFER" default:"16"`

	// Sessions without a socket are reaped after the idle timeout.
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"10m"`
	MaxSessions        int           `envconfig:"MAX_SESSIONS" default:"256"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values envconfig cannot.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" && c.ArkAPIKey == "" {
		return errors.New("GEMINI_API_KEY or ARK_API_KEY is required")
	}
	if len(c.ReasoningChain) == 0 {
		return errors.New("REASONING_CHAIN must name at least one identifier")
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("HISTORY_CAPACITY must be at least 1, got %d", c.HistoryCapacity)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS must not be negative, got %d", c.MaxSessions)
	}
	if c.BargeEchoGuard < 1 {
		return fmt.Errorf("BARGE_ECHO_GUARD must be at least 1, got %g", c.BargeEchoGuard)
	}
	return nil
}

// CircuitBreakerReset returns the breaker reset timeout as a duration.
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
