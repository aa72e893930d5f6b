package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/observability"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID = "eleven_multilingual_v2"

	audioMPEG = "audio/mpeg"
	// maxErrorBody bounds how much of an upstream error body is kept.
	maxErrorBody = 2048
)

// ElevenLabsConfig configures the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
}

// VoiceSettings tunes the synthesized voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings are the settings Doc speaks with.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.45,
		SimilarityBoost: 0.85,
		Style:           0.15,
		UseSpeakerBoost: true,
	}
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

var _ Synthesizer = (*ElevenLabsClient)(nil)

// ElevenLabsClient implements Synthesizer with the ElevenLabs streaming API.
type ElevenLabsClient struct {
	cfg        ElevenLabsConfig
	settings   VoiceSettings
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewElevenLabsClient creates a client. An empty API key yields a client whose
// Synthesize returns ErrNotConfigured.
func NewElevenLabsClient(cfg ElevenLabsConfig, logger zerolog.Logger) *ElevenLabsClient {
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ElevenLabsClient{
		cfg:        cfg,
		settings:   DefaultVoiceSettings(),
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "tts").Str("provider", "elevenlabs").Logger(),
	}
}

// Configured reports whether credentials are set.
func (c *ElevenLabsClient) Configured() bool {
	return c.cfg.APIKey != ""
}

// Synthesize starts a streaming synthesis request. The caller must close the
// returned body. Cancelling ctx aborts the stream.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) (*Stream, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = DefaultText
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: c.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", audioMPEG)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordTTSRequest("error", 0)
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		observability.RecordTTSRequest("upstream_error", 0)
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Synthesis request rejected")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	observability.RecordTTSRequest("success", time.Since(start))
	c.logger.Debug().Int("chars", len(text)).Dur("first_byte", time.Since(start)).Msg("Synthesis stream opened")

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = audioMPEG
	}
	return &Stream{ContentType: contentType, Body: resp.Body}, nil
}

func (c *ElevenLabsClient) streamURL() string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream?optimize_streaming_latency=3&output_format=mp3_44100_128",
		c.cfg.BaseURL, url.PathEscape(c.cfg.VoiceID))
}

// SynthesizeToFile writes the full audio for text to path.
func SynthesizeToFile(ctx context.Context, s Synthesizer, text, path string) error {
	stream, err := s.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, stream.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audio: %w", err)
	}
	return f.Close()
}
