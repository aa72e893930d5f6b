package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIdentifierUnsupported means the provider does not know the identifier
	// (model not found, not enabled, or retired). The reasoner moves on.
	ErrIdentifierUnsupported = errors.New("identifier not supported")

	// ErrNoProviderAvailable means discovery found no identifiers at all.
	ErrNoProviderAvailable = errors.New("no provider identifiers available")

	// ErrProviderExhausted means every preferred and discovered identifier was unavailable.
	ErrProviderExhausted = errors.New("all provider identifiers exhausted")
)

// Provider is a backing reasoning service.
type Provider interface {
	// Name is the key used for this provider in the identifier chain.
	Name() string

	// Call sends prompt to the model named by identifier and returns its raw
	// text. Unknown identifiers fail with an error wrapping ErrIdentifierUnsupported.
	Call(ctx context.Context, identifier, prompt string) (string, error)

	// ListIdentifiers returns the identifiers the provider can serve right now.
	ListIdentifiers(ctx context.Context) ([]string, error)
}

// CallOptions tune a single provider call.
type CallOptions struct {
	Temperature float32
	MaxTokens   int
}

// DefaultCallOptions match the short conversational replies Doc gives.
func DefaultCallOptions() CallOptions {
	return CallOptions{Temperature: 0.2, MaxTokens: 350}
}

// Candidate is one entry of the ordered fallback chain.
type Candidate struct {
	Provider   string
	Identifier string
}

func (c Candidate) String() string {
	return c.Provider + ":" + c.Identifier
}

// ParseChain parses "provider:identifier" entries. Entries without a provider
// prefix use defaultProvider.
func ParseChain(entries []string, defaultProvider string) ([]Candidate, error) {
	var chain []Candidate
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		provider, identifier, found := strings.Cut(entry, ":")
		if !found {
			provider, identifier = defaultProvider, entry
		}
		provider = strings.TrimSpace(provider)
		identifier = strings.TrimSpace(identifier)
		if provider == "" || identifier == "" {
			return nil, fmt.Errorf("invalid chain entry %q", raw)
		}
		chain = append(chain, Candidate{Provider: provider, Identifier: identifier})
	}
	if len(chain) == 0 {
		return nil, errors.New("identifier chain is empty")
	}
	return chain, nil
}

// unsupported wraps err so errors.Is(err, ErrIdentifierUnsupported) holds.
func unsupported(identifier string, err error) error {
	return fmt.Errorf("%s: %w: %v", identifier, ErrIdentifierUnsupported, err)
}

func containsAnyFold(s string, needles ...string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
