package reasoning

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// ArkProviderName is the chain prefix for Volcengine Ark endpoints.
const ArkProviderName = "ark"

// ArkConfig holds Ark connection settings.
type ArkConfig struct {
	APIKey  string
	BaseURL string
	Region  string
	// Models are the endpoint identifiers reported during discovery. Ark has
	// no listing API usable with an API key.
	Models []string
}

type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ArkProvider calls Ark chat models through eino.
type ArkProvider struct {
	cfg    ArkConfig
	opts   CallOptions
	logger zerolog.Logger

	mu       sync.Mutex
	models   map[string]generator
	newModel func(ctx context.Context, identifier string) (generator, error)
}

// NewArkProvider creates an Ark-backed provider. Chat models are built lazily,
// one per identifier.
func NewArkProvider(cfg ArkConfig, opts CallOptions, logger zerolog.Logger) (*ArkProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ark API key is required")
	}
	p := &ArkProvider{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With().Str("provider", ArkProviderName).Logger(),
		models: make(map[string]generator),
	}
	p.newModel = p.buildChatModel
	return p, nil
}

// Name implements Provider.
func (p *ArkProvider) Name() string { return ArkProviderName }

// Call implements Provider.
func (p *ArkProvider) Call(ctx context.Context, identifier, prompt string) (string, error) {
	cm, err := p.model(ctx, identifier)
	if err != nil {
		return "", err
	}

	msg, err := cm.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", classifyArkError(identifier, err)
	}
	if msg == nil {
		return "", nil
	}
	p.logger.Debug().Str("identifier", identifier).Int("chars", len(msg.Content)).Msg("Ark reply received")
	return msg.Content, nil
}

// ListIdentifiers implements Provider.
func (p *ArkProvider) ListIdentifiers(ctx context.Context) ([]string, error) {
	return append([]string(nil), p.cfg.Models...), nil
}

func (p *ArkProvider) model(ctx context.Context, identifier string) (generator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cm, ok := p.models[identifier]; ok {
		return cm, nil
	}
	cm, err := p.newModel(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model %s: %w", identifier, err)
	}
	p.models[identifier] = cm
	return cm, nil
}

func (p *ArkProvider) buildChatModel(ctx context.Context, identifier string) (generator, error) {
	temperature := p.opts.Temperature
	maxTokens := p.opts.MaxTokens

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     p.cfg.BaseURL,
		Region:      p.cfg.Region,
		APIKey:      p.cfg.APIKey,
		Model:       identifier,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
}

func classifyArkError(identifier string, err error) error {
	if containsAnyFold(err.Error(), "InvalidEndpointOrModel", "ModelNotOpen", "NotFound", "404") {
		return unsupported(identifier, err)
	}
	return err
}
