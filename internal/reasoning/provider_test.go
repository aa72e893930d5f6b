package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestClassifyGenAIError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unsupported bool
	}{
		{"api 404", genai.APIError{Code: 404, Message: "models/x is not found", Status: "NOT_FOUND"}, true},
		{"api status only", genai.APIError{Code: 400, Status: "NOT_FOUND"}, true},
		{"api permission", genai.APIError{Code: 403, Message: "denied", Status: "PERMISSION_DENIED"}, false},
		{"plain not found", errors.New("model gemini-1.0 not found for API version v1beta"), true},
		{"network", errors.New("connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGenAIError("gemini-x", tt.err)
			assert.Equal(t, tt.unsupported, errors.Is(err, ErrIdentifierUnsupported))
			assert.ErrorContains(t, err, tt.err.Error())
		})
	}
}

func TestGeneratesContent(t *testing.T) {
	assert.True(t, generatesContent([]string{"countTokens", "generateContent"}))
	assert.False(t, generatesContent([]string{"embedContent"}))
	assert.True(t, generatesContent(nil))
}

type fakeChatModel struct {
	reply *schema.Message
	err   error
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.seen = input
	return f.reply, f.err
}

func newTestArk(t *testing.T, build func(id string) (generator, error)) *ArkProvider {
	t.Helper()
	p, err := NewArkProvider(ArkConfig{APIKey: "k", Models: []string{"ep-1", "ep-2"}}, DefaultCallOptions(), zerolog.Nop())
	require.NoError(t, err)
	p.newModel = func(ctx context.Context, id string) (generator, error) { return build(id) }
	return p
}

func TestArkProvider_Call(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage(`{"speak":"Hello"}`, nil)}
	builds := 0
	p := newTestArk(t, func(id string) (generator, error) {
		builds++
		return fake, nil
	})

	text, err := p.Call(context.Background(), "ep-1", "prompt text")
	require.NoError(t, err)
	assert.Equal(t, `{"speak":"Hello"}`, text)
	require.Len(t, fake.seen, 1)
	assert.Equal(t, schema.User, fake.seen[0].Role)
	assert.Equal(t, "prompt text", fake.seen[0].Content)

	_, err = p.Call(context.Background(), "ep-1", "again")
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
}

func TestArkProvider_UnknownEndpoint(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("Error code: 404 - InvalidEndpointOrModel.NotFound")}
	p := newTestArk(t, func(id string) (generator, error) { return fake, nil })

	_, err := p.Call(context.Background(), "ep-gone", "hi")
	assert.ErrorIs(t, err, ErrIdentifierUnsupported)
}

func TestArkProvider_OtherErrorsPassThrough(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("Error code: 401 - AuthenticationError")}
	p := newTestArk(t, func(id string) (generator, error) { return fake, nil })

	_, err := p.Call(context.Background(), "ep-1", "hi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdentifierUnsupported)
}

func TestArkProvider_ListIdentifiers(t *testing.T) {
	p := newTestArk(t, func(id string) (generator, error) { return nil, errors.New("unused") })

	ids, err := p.ListIdentifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-1", "ep-2"}, ids)
}

func TestNewArkProvider_RequiresKey(t *testing.T) {
	_, err := NewArkProvider(ArkConfig{}, DefaultCallOptions(), zerolog.Nop())
	assert.Error(t, err)
}
