package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/observability"
	"github.com/medtwin/doc-voice/internal/patient"
	"github.com/medtwin/doc-voice/internal/resilience"
)

// Reasoner walks an ordered chain of provider identifiers until one answers.
// "Identifier unsupported" advances the chain; any other error ends the turn.
// When every preferred identifier is unavailable it asks the providers what
// they currently serve and tries one more.
type Reasoner struct {
	chain     []Candidate
	providers map[string]Provider
	order     []string // provider names in first-appearance order of the chain
	families  []string
	timeout   time.Duration
	breakers  map[string]*resilience.CircuitBreaker
	listRetry *resilience.RetryConfig
	logger    zerolog.Logger
}

// Option configures a Reasoner.
type Option func(*Reasoner)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(r *Reasoner) { r.timeout = d }
}

// WithFamilies sets the preferred family names used during discovery, most
// preferred first.
func WithFamilies(families ...string) Option {
	return func(r *Reasoner) { r.families = families }
}

// WithCircuitBreaker guards each provider with its own breaker.
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(r *Reasoner) {
		for name := range r.providers {
			r.breakers[name] = resilience.NewCircuitBreaker("reasoning_"+name, maxFailures, resetTimeout)
		}
	}
}

// WithListRetry sets the retry policy for identifier discovery.
func WithListRetry(cfg *resilience.RetryConfig) Option {
	return func(r *Reasoner) { r.listRetry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reasoner) { r.logger = logger }
}

// New builds a reasoner over chain. Every provider named in chain must be given.
func New(chain []Candidate, providers []Provider, opts ...Option) (*Reasoner, error) {
	if len(chain) == 0 {
		return nil, errors.New("reasoner needs at least one identifier")
	}
	r := &Reasoner{
		chain:     chain,
		providers: make(map[string]Provider, len(providers)),
		families:  []string{"flash", "pro"},
		timeout:   30 * time.Second,
		breakers:  make(map[string]*resilience.CircuitBreaker),
		listRetry: resilience.DefaultRetryConfig(),
		logger:    observability.GetLogger(),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	seen := make(map[string]bool)
	for _, c := range chain {
		if _, ok := r.providers[c.Provider]; !ok {
			return nil, fmt.Errorf("chain entry %s names an unknown provider", c)
		}
		if !seen[c.Provider] {
			seen[c.Provider] = true
			r.order = append(r.order, c.Provider)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "reasoner").Logger()
	return r, nil
}

// Chain returns the configured preferred identifiers.
func (r *Reasoner) Chain() []Candidate {
	return append([]Candidate(nil), r.chain...)
}

// Reason turns one user utterance into Advice using the patient snapshot as
// context. Malformed provider output never fails; only exhaustion or a real
// provider error does.
func (r *Reasoner) Reason(ctx context.Context, userText string, snap *patient.Snapshot) (Advice, error) {
	raw, _, err := r.Complete(ctx, BuildPrompt(userText, snap))
	if err != nil {
		return Advice{}, err
	}
	return Parse(raw), nil
}

// Complete runs prompt through the fallback chain and returns the first
// non-empty raw text along with the identifier that produced it.
func (r *Reasoner) Complete(ctx context.Context, prompt string) (string, Candidate, error) {
	tried := make(map[Candidate]bool, len(r.chain))

	for _, c := range r.chain {
		tried[c] = true
		text, err := r.call(ctx, c, prompt)
		switch {
		case err == nil && strings.TrimSpace(text) != "":
			return text, c, nil
		case err == nil:
			r.logger.Warn().Str("identifier", c.String()).Msg("Empty reply, trying next identifier")
			observability.RecordReasoningFallback("empty")
		case unavailable(err):
			r.logger.Warn().Err(err).Str("identifier", c.String()).Msg("Identifier unavailable, trying next")
			observability.RecordReasoningFallback("unavailable")
		default:
			return "", c, fmt.Errorf("%s: %w", c, err)
		}
	}

	c, err := r.discover(ctx, tried)
	if err != nil {
		observability.RecordReasoningDiscovery("failed")
		return "", Candidate{}, err
	}
	observability.RecordReasoningDiscovery("selected")
	r.logger.Info().Str("identifier", c.String()).Msg("Using discovered identifier")

	text, err := r.call(ctx, c, prompt)
	if err != nil {
		if unavailable(err) {
			return "", c, fmt.Errorf("%w: %v", ErrProviderExhausted, err)
		}
		return "", c, fmt.Errorf("%s: %w", c, err)
	}
	return text, c, nil
}

func (r *Reasoner) call(ctx context.Context, c Candidate, prompt string) (string, error) {
	breaker := r.breakers[c.Provider]
	if breaker != nil && !breaker.Allow() {
		observability.RecordReasoningCall(c.Provider, "circuit_open")
		return "", fmt.Errorf("%s: %w", c.Provider, resilience.ErrCircuitOpen)
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.providers[c.Provider].Call(callCtx, c.Identifier, prompt)
	observability.ObserveReasoningLatency(c.Provider, time.Since(start))

	switch {
	case err == nil:
		r.record(c.Provider, breaker, true)
		observability.RecordReasoningCall(c.Provider, "success")
	case errors.Is(err, ErrIdentifierUnsupported):
		// A missing model says nothing about the provider's health.
		r.record(c.Provider, breaker, true)
		observability.RecordReasoningCall(c.Provider, "unsupported")
	default:
		r.record(c.Provider, breaker, false)
		observability.RecordReasoningCall(c.Provider, "error")
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("reasoning call timed out after %s: %w", r.timeout, err)
		}
	}
	return text, err
}

func (r *Reasoner) record(provider string, breaker *resilience.CircuitBreaker, success bool) {
	if breaker == nil {
		return
	}
	breaker.RecordResult(success)
	observability.UpdateCircuitBreakerState("reasoning_"+provider, int(breaker.GetState()))
	if !success {
		observability.IncrementCircuitBreakerFailures("reasoning_" + provider)
	}
}

// discover lists identifiers provider by provider and picks the first usable one.
func (r *Reasoner) discover(ctx context.Context, tried map[Candidate]bool) (Candidate, error) {
	sawAny := false
	for _, name := range r.order {
		p := r.providers[name]
		var ids []string
		err := resilience.Retry(ctx, func() error {
			var listErr error
			ids, listErr = p.ListIdentifiers(ctx)
			return listErr
		}, r.listRetry, resilience.IsRetryableNetworkError)
		if err != nil {
			r.logger.Warn().Err(err).Str("provider", name).Msg("Failed to list identifiers")
			continue
		}

		var fresh []string
		for _, id := range ids {
			if id == "" {
				continue
			}
			sawAny = true
			if !tried[Candidate{Provider: name, Identifier: id}] {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) > 0 {
			return Candidate{Provider: name, Identifier: PickIdentifier(fresh, r.families)}, nil
		}
	}
	if !sawAny {
		return Candidate{}, ErrNoProviderAvailable
	}
	return Candidate{}, ErrProviderExhausted
}

// PickIdentifier prefers the first identifier matching a family name, trying
// families in order, and otherwise returns the first identifier.
func PickIdentifier(ids []string, families []string) string {
	for _, family := range families {
		for _, id := range ids {
			if containsAnyFold(id, family) {
				return id
			}
		}
	}
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func unavailable(err error) bool {
	return errors.Is(err, ErrIdentifierUnsupported) || errors.Is(err, resilience.ErrCircuitOpen)
}
