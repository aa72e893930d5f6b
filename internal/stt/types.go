// Package stt streams captured PCM audio to Deepgram and reports interim and
// final transcripts.
package stt

import (
	"errors"
	"time"

	"github.com/medtwin/doc-voice/internal/resilience"
)

// ErrAlreadyStarted is returned by Start on an active transcriber.
var ErrAlreadyStarted = errors.New("transcriber already started")

// Result is one transcription result.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Config configures a Transcriber.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	// Preroll is how much audio is held before speech onset and while
	// reconnecting.
	Preroll time.Duration

	// Threshold is the normalized level that marks speech onset.
	Threshold float64

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	Reconnect           *resilience.ReconnectConfig
}

// DefaultConfig returns settings for 16kHz linear16 capture.
func DefaultConfig() Config {
	return Config{
		Model:               "nova-2",
		Language:            "en",
		SampleRate:          16000,
		Preroll:             500 * time.Millisecond,
		Threshold:           0.02,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
		Reconnect:           resilience.DefaultReconnectConfig(),
	}
}

// prerollBytes is the ring size for the configured preroll duration.
func (c Config) prerollBytes() int {
	n := int(c.Preroll.Seconds() * float64(c.SampleRate) * 2)
	if n < 2 {
		n = 2
	}
	return n
}
