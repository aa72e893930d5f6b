package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// GenAIProviderName is the chain prefix for Gemini identifiers.
const GenAIProviderName = "gemini"

// GenAIProvider calls Gemini models through the Google GenAI SDK.
type GenAIProvider struct {
	client *genai.Client
	opts   CallOptions
	logger zerolog.Logger
}

// NewGenAIProvider creates a Gemini-backed provider.
func NewGenAIProvider(ctx context.Context, apiKey string, opts CallOptions, logger zerolog.Logger) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIProvider{
		client: client,
		opts:   opts,
		logger: logger.With().Str("provider", GenAIProviderName).Logger(),
	}, nil
}

// Name implements Provider.
func (p *GenAIProvider) Name() string { return GenAIProviderName }

// Call implements Provider.
func (p *GenAIProvider) Call(ctx context.Context, identifier, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.opts.Temperature),
		MaxOutputTokens: int32(p.opts.MaxTokens),
	}

	resp, err := p.client.Models.GenerateContent(ctx, identifier, genai.Text(prompt), config)
	if err != nil {
		return "", classifyGenAIError(identifier, err)
	}

	text := resp.Text()
	p.logger.Debug().Str("identifier", identifier).Int("chars", len(text)).Msg("GenAI reply received")
	return text, nil
}

// ListIdentifiers implements Provider. Only models that can generate content
// are returned, without the "models/" resource prefix.
func (p *GenAIProvider) ListIdentifiers(ctx context.Context) ([]string, error) {
	var ids []string
	for model, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("GenAI list models failed: %w", err)
		}
		if model == nil || !generatesContent(model.SupportedActions) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(model.Name, "models/"))
	}
	return ids, nil
}

func generatesContent(actions []string) bool {
	// Older listings omit actions entirely.
	return len(actions) == 0 || slices.Contains(actions, "generateContent")
}

// classifyGenAIError marks "model not found" style failures as unsupported so
// the reasoner can move on to the next identifier.
func classifyGenAIError(identifier string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && genAINotFound(apiErr) {
		return unsupported(identifier, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && genAINotFound(*apiErrPtr) {
		return unsupported(identifier, err)
	}
	if containsAnyFold(err.Error(), "not found", "is not supported", "404") {
		return unsupported(identifier, err)
	}
	return err
}

func genAINotFound(e genai.APIError) bool {
	return e.Code == http.StatusNotFound || strings.EqualFold(e.Status, "NOT_FOUND")
}
