package reasoning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtwin/doc-voice/internal/resilience"
)

type reply struct {
	text string
	err  error
}

// fakeProvider answers from a scripted table keyed by identifier.
type fakeProvider struct {
	name    string
	replies map[string]reply
	listed  []string
	listErr error

	mu    sync.Mutex
	calls []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Call(ctx context.Context, identifier, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, identifier)
	f.mu.Unlock()

	r, ok := f.replies[identifier]
	if !ok {
		return "", unsupported(identifier, errors.New("404 model not found"))
	}
	return r.text, r.err
}

func (f *fakeProvider) ListIdentifiers(ctx context.Context) ([]string, error) {
	return f.listed, f.listErr
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func chainOf(provider string, ids ...string) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, Candidate{Provider: provider, Identifier: id})
	}
	return out
}

func newTestReasoner(t *testing.T, chain []Candidate, providers []Provider, opts ...Option) *Reasoner {
	t.Helper()
	opts = append([]Option{
		WithLogger(zerolog.Nop()),
		WithListRetry(&resilience.RetryConfig{MaxAttempts: 1}),
	}, opts...)
	r, err := New(chain, providers, opts...)
	require.NoError(t, err)
	return r
}

func TestReasoner_SecondIdentifierAnswers(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		replies: map[string]reply{
			"model-b": {text: `{"speak":"Rest up.","next_q":"Any fever?"}`},
			"model-c": {text: `{"speak":"never used"}`},
		},
	}
	r := newTestReasoner(t, chainOf("fake", "model-a", "model-b", "model-c"), []Provider{p})

	advice, err := r.Reason(context.Background(), "I feel tired", nil)

	require.NoError(t, err)
	assert.Equal(t, "Rest up.", advice.Speak)
	assert.Equal(t, "Any fever?", advice.FollowUp)
	assert.Equal(t, []string{"model-a", "model-b"}, p.Calls())
}

func TestReasoner_FatalErrorStopsChain(t *testing.T) {
	boom := errors.New("401 unauthorized")
	p := &fakeProvider{
		name: "fake",
		replies: map[string]reply{
			"model-a": {err: boom},
			"model-b": {text: "fine"},
		},
	}
	r := newTestReasoner(t, chainOf("fake", "model-a", "model-b"), []Provider{p})

	_, err := r.Reason(context.Background(), "hi", nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"model-a"}, p.Calls())
}

func TestReasoner_EmptyReplyAdvances(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		replies: map[string]reply{
			"model-a": {text: "   "},
			"model-b": {text: "Drink some water."},
		},
	}
	r := newTestReasoner(t, chainOf("fake", "model-a", "model-b"), []Provider{p})

	advice, err := r.Reason(context.Background(), "thirsty", nil)

	require.NoError(t, err)
	assert.Equal(t, "Drink some water.", advice.Speak)
}

func TestReasoner_DiscoveryPrefersFamily(t *testing.T) {
	p := &fakeProvider{
		name:   "fake",
		listed: []string{"embedding-001", "gemini-9-pro", "gemini-9-flash"},
		replies: map[string]reply{
			"gemini-9-flash": {text: `{"speak":"Found a model."}`},
		},
	}
	r := newTestReasoner(t, chainOf("fake", "retired-1", "retired-2"), []Provider{p}, WithFamilies("flash", "pro"))

	advice, err := r.Reason(context.Background(), "hello", nil)

	require.NoError(t, err)
	assert.Equal(t, "Found a model.", advice.Speak)
	assert.Equal(t, []string{"retired-1", "retired-2", "gemini-9-flash"}, p.Calls())
}

func TestReasoner_DiscoveryFallsBackToFirst(t *testing.T) {
	p := &fakeProvider{
		name:    "fake",
		listed:  []string{"alpha", "beta"},
		replies: map[string]reply{"alpha": {text: "ok"}},
	}
	r := newTestReasoner(t, chainOf("fake", "gone"), []Provider{p}, WithFamilies("sonnet", "haiku"))

	advice, err := r.Reason(context.Background(), "hello", nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", advice.Speak)
}

func TestReasoner_NoIdentifiersAvailable(t *testing.T) {
	p := &fakeProvider{name: "fake"}
	r := newTestReasoner(t, chainOf("fake", "gone"), []Provider{p})

	_, err := r.Reason(context.Background(), "hello", nil)

	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestReasoner_ListingErrorCountsAsNoneAvailable(t *testing.T) {
	p := &fakeProvider{name: "fake", listErr: errors.New("permission denied")}
	r := newTestReasoner(t, chainOf("fake", "gone"), []Provider{p})

	_, err := r.Reason(context.Background(), "hello", nil)

	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestReasoner_DiscoveredIdentifierAlsoUnavailable(t *testing.T) {
	p := &fakeProvider{name: "fake", listed: []string{"ghost"}}
	r := newTestReasoner(t, chainOf("fake", "gone"), []Provider{p})

	_, err := r.Reason(context.Background(), "hello", nil)

	assert.ErrorIs(t, err, ErrProviderExhausted)
}

func TestReasoner_DiscoverySkipsTriedIdentifiers(t *testing.T) {
	p := &fakeProvider{name: "fake", listed: []string{"gone"}}
	r := newTestReasoner(t, chainOf("fake", "gone"), []Provider{p})

	_, err := r.Reason(context.Background(), "hello", nil)

	assert.ErrorIs(t, err, ErrProviderExhausted)
	assert.Equal(t, []string{"gone"}, p.Calls())
}

func TestReasoner_CrossProviderChain(t *testing.T) {
	primary := &fakeProvider{name: "gemini"}
	backup := &fakeProvider{
		name:    "ark",
		replies: map[string]reply{"doubao": {text: `{"speak":"Backup answer."}`}},
	}
	chain := []Candidate{{"gemini", "flash"}, {"ark", "doubao"}}
	r := newTestReasoner(t, chain, []Provider{primary, backup})

	advice, err := r.Reason(context.Background(), "hello", nil)

	require.NoError(t, err)
	assert.Equal(t, "Backup answer.", advice.Speak)
	assert.Equal(t, []string{"flash"}, primary.Calls())
}

func TestReasoner_OpenCircuitSkipsProvider(t *testing.T) {
	flaky := &fakeProvider{
		name:    "flaky",
		replies: map[string]reply{"m": {err: errors.New("500 internal")}},
	}
	steady := &fakeProvider{
		name:    "steady",
		replies: map[string]reply{"s": {text: "steady answer"}},
	}
	chain := []Candidate{{"flaky", "m"}, {"steady", "s"}}
	r := newTestReasoner(t, chain, []Provider{flaky, steady}, WithCircuitBreaker(1, time.Hour))

	_, err := r.Reason(context.Background(), "first", nil)
	require.Error(t, err)

	advice, err := r.Reason(context.Background(), "second", nil)
	require.NoError(t, err)
	assert.Equal(t, "steady answer", advice.Speak)
	assert.Len(t, flaky.Calls(), 1)
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }
func (slowProvider) Call(ctx context.Context, identifier, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (slowProvider) ListIdentifiers(ctx context.Context) ([]string, error) { return nil, nil }

func TestReasoner_TimeoutIsFatal(t *testing.T) {
	r := newTestReasoner(t, chainOf("slow", "m"), []Provider{slowProvider{}}, WithTimeout(10*time.Millisecond))

	_, err := r.Reason(context.Background(), "hello", nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrIdentifierUnsupported)
}

func TestReasoner_EndToEndAdvice(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		replies: map[string]reply{
			"primary": {text: `{"speak":"Try warm fluids and rest.","followUp":"Have you eaten anything unusual today?"}`},
		},
	}
	r := newTestReasoner(t, chainOf("fake", "primary"), []Provider{p})

	advice, err := r.Reason(context.Background(), "my stomach has been hurting today", nil)

	require.NoError(t, err)
	assert.Equal(t, "Try warm fluids and rest.", advice.Speak)
	assert.Equal(t, "Have you eaten anything unusual today?", advice.FollowUp)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(chainOf("missing", "m"), []Provider{&fakeProvider{name: "fake"}}, WithLogger(zerolog.Nop()))
	assert.Error(t, err)
}

func TestParseChain(t *testing.T) {
	chain, err := ParseChain([]string{"gemini:gemini-2.5-flash", " ark:ep-123 ", "bare-model", ""}, "gemini")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{"gemini", "gemini-2.5-flash"},
		{"ark", "ep-123"},
		{"gemini", "bare-model"},
	}, chain)

	_, err = ParseChain([]string{"ark:"}, "gemini")
	assert.Error(t, err)

	_, err = ParseChain(nil, "gemini")
	assert.Error(t, err)
}

func TestPickIdentifier(t *testing.T) {
	ids := []string{"claude-3-opus", "claude-3-haiku-latest", "claude-3-5-sonnet-latest"}
	assert.Equal(t, "claude-3-5-sonnet-latest", PickIdentifier(ids, []string{"sonnet", "haiku"}))
	assert.Equal(t, "claude-3-haiku-latest", PickIdentifier(ids[:2], []string{"sonnet", "haiku"}))
	assert.Equal(t, "claude-3-opus", PickIdentifier(ids[:1], []string{"sonnet"}))
	assert.Equal(t, "", PickIdentifier(nil, nil))
}

func ExampleComposeTurn() {
	fmt.Println(ComposeTurn("no, nothing new", "Have you eaten anything unusual today?"))
	// Output:
	// Previous question from Doc: "Have you eaten anything unusual today?"
	// My answer: no, nothing new
}
