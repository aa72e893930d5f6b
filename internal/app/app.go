// Package app builds the gateway's components from configuration. Both the
// server and the CLI wire themselves through it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/config"
	"github.com/medtwin/doc-voice/internal/reasoning"
	"github.com/medtwin/doc-voice/internal/resilience"
	"github.com/medtwin/doc-voice/internal/session"
	"github.com/medtwin/doc-voice/internal/stt"
	"github.com/medtwin/doc-voice/internal/tts"
)

// NewProviders creates a provider for every configured credential.
func NewProviders(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]reasoning.Provider, error) {
	opts := reasoning.CallOptions{
		Temperature: cfg.ReasoningTemperature,
		MaxTokens:   cfg.ReasoningMaxTokens,
	}

	var providers []reasoning.Provider
	if cfg.GeminiAPIKey != "" {
		p, err := reasoning.NewGenAIProvider(ctx, cfg.GeminiAPIKey, opts, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.ArkAPIKey != "" {
		p, err := reasoning.NewArkProvider(reasoning.ArkConfig{
			APIKey:  cfg.ArkAPIKey,
			BaseURL: cfg.ArkBaseURL,
			Region:  cfg.ArkRegion,
			Models:  cfg.ArkModels,
		}, opts, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no reasoning provider configured")
	}
	return providers, nil
}

// NewReasoner builds the fallback reasoner over the configured chain. Chain
// entries without a provider prefix go to the first configured provider.
func NewReasoner(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*reasoning.Reasoner, error) {
	providers, err := NewProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	chain, err := reasoning.ParseChain(cfg.ReasoningChain, providers[0].Name())
	if err != nil {
		return nil, fmt.Errorf("invalid REASONING_CHAIN: %w", err)
	}

	return reasoning.New(chain, providers,
		reasoning.WithTimeout(cfg.ReasoningTimeout),
		reasoning.WithFamilies(cfg.ReasoningFamilies...),
		reasoning.WithCircuitBreaker(cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset()),
		reasoning.WithListRetry(&resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		}),
		reasoning.WithLogger(logger),
	)
}

// SessionConfig maps the engine settings.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		HistoryCapacity: cfg.HistoryCapacity,
		SpokenCharLimit: cfg.SpokenCharLimit,
		TurnQueue:       session.DefaultConfig().TurnQueue,
		SilenceFlush:    cfg.SilenceFlush,
		Cooldown:        cfg.PlaybackCooldown,
		BargeSustain:    cfg.BargeSustain,
		MicThreshold:    cfg.BargeMicThreshold,
		EchoGuard:       cfg.BargeEchoGuard,
		IdleTimeout:     cfg.SessionIdleTimeout,
		MaxSessions:     cfg.MaxSessions,
	}
}

// NewSynthesizer returns the ElevenLabs client. It reports ErrNotConfigured
// when no API key is set.
func NewSynthesizer(cfg *config.Config, logger zerolog.Logger) *tts.ElevenLabsClient {
	return tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModelID,
		BaseURL: cfg.ElevenLabsBaseURL,
	}, logger)
}

// NewTranscriberFactory returns a per-session Deepgram transcriber factory,
// or nil when server-side transcription is not configured.
func NewTranscriberFactory(cfg *config.Config, logger zerolog.Logger) func(sessionID string) session.Transcriber {
	if cfg.DeepgramAPIKey == "" {
		return nil
	}
	sttCfg := stt.DefaultConfig()
	sttCfg.APIKey = cfg.DeepgramAPIKey
	sttCfg.Model = cfg.DeepgramModel
	sttCfg.Language = cfg.DeepgramLanguage
	sttCfg.SampleRate = cfg.CaptureSampleRate
	sttCfg.Threshold = cfg.BargeMicThreshold
	sttCfg.BreakerMaxFailures = cfg.CircuitBreakerMaxFailures
	sttCfg.BreakerResetTimeout = cfg.CircuitBreakerReset()
	sttCfg.Reconnect = &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	return func(sessionID string) session.Transcriber {
		return stt.NewTranscriber(sttCfg, logger.With().Str("session_id", sessionID).Logger())
	}
}
