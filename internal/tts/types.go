// Package tts proxies text to a streaming speech synthesis provider so the
// provider's credentials never reach the client.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultText is spoken when a caller asks for audio without text.
const DefaultText = "Hello from Doc."

// ErrNotConfigured is returned when no synthesis credentials are set.
var ErrNotConfigured = errors.New("speech synthesis not configured")

// UpstreamError is a non-2xx answer from the synthesis provider. It is fatal
// for the utterance and is not retried.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("synthesis provider returned status %d: %s", e.StatusCode, e.Body)
}

// Stream is an audio stream and its content type.
type Stream struct {
	ContentType string
	Body        io.ReadCloser
}

// Synthesizer turns text into a streamed audio body.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Stream, error)
}
