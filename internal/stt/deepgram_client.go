package stt

import (
	"context"
	"fmt"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/audio"
	"github.com/medtwin/doc-voice/internal/observability"
	"github.com/medtwin/doc-voice/internal/resilience"
)

const breakerName = "deepgram"

// liveStream is the part of the Deepgram websocket client the transcriber uses.
type liveStream interface {
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, cfg Config, callback msginterfaces.LiveMessageCallback) (liveStream, error)

// messageCallbackHandler embeds the default handler and overrides only the
// methods we need to customize.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse)
}

// Message forwards transcription results.
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error reports a lost or failed stream.
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.errorHandler(errorResponse)
	return nil
}

// Transcriber streams one session's capture audio to Deepgram. Audio is held
// in a preroll buffer until speech starts and while the stream reconnects.
type Transcriber struct {
	cfg     Config
	dial    dialFunc
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu           sync.Mutex
	conn         liveStream
	onResult     func(text string, final bool)
	vad          *audio.VADDetector
	preroll      *audio.RingBuffer
	streaming    bool
	reconnecting bool
	ctx          context.Context
	cancel       context.CancelFunc
	generation   int
}

// NewTranscriber creates a Deepgram transcriber.
func NewTranscriber(cfg Config, logger zerolog.Logger) *Transcriber {
	return newTranscriber(cfg, dialDeepgram, logger)
}

func newTranscriber(cfg Config, dial dialFunc, logger zerolog.Logger) *Transcriber {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Preroll <= 0 {
		cfg.Preroll = def.Preroll
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = def.BreakerMaxFailures
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = def.BreakerResetTimeout
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = def.Reconnect
	}
	return &Transcriber{
		cfg:     cfg,
		dial:    dial,
		breaker: resilience.NewCircuitBreaker(breakerName, cfg.BreakerMaxFailures, cfg.BreakerResetTimeout),
		logger:  logger.With().Str("component", "stt").Str("provider", breakerName).Logger(),
		vad:     audio.NewVADDetector(&audio.VADConfig{Threshold: cfg.Threshold, SilenceFrames: 1 << 30}),
		preroll: audio.NewRingBuffer(cfg.prerollBytes()),
	}
}

func dialDeepgram(ctx context.Context, cfg Config, callback msginterfaces.LiveMessageCallback) (liveStream, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     cfg.SampleRate,
	}
	client, err := listenClient.NewWSUsingCallback(ctx, cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	return client, nil
}

// Start opens the stream. onResult receives every non-empty transcript.
func (t *Transcriber) Start(ctx context.Context, onResult func(text string, final bool)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx != nil {
		return ErrAlreadyStarted
	}
	if !t.breaker.Allow() {
		return fmt.Errorf("deepgram unavailable: %w", resilience.ErrCircuitOpen)
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.onResult = onResult
	t.generation++

	if err := t.connectLocked(); err != nil {
		t.cancel()
		t.ctx, t.cancel = nil, nil
		return err
	}
	t.logger.Info().Str("model", t.cfg.Model).Str("language", t.cfg.Language).Msg("Transcription started")
	return nil
}

func (t *Transcriber) connectLocked() error {
	gen := t.generation
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                t.handleMessage,
		errorHandler: func(resp *msginterfaces.ErrorResponse) {
			t.handleStreamError(gen, resp)
		},
	}
	conn, err := t.dial(t.ctx, t.cfg, callback)
	t.recordResult(err == nil)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transcriber) recordResult(success bool) {
	t.breaker.RecordResult(success)
	observability.UpdateCircuitBreakerState(breakerName, int(t.breaker.GetState()))
	if !success {
		observability.IncrementCircuitBreakerFailures(breakerName)
	}
}

func (t *Transcriber) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}
	result := Result{Text: alt.Transcript, IsFinal: msg.IsFinal, Confidence: alt.Confidence}
	observability.RecordSTTResult(result.IsFinal)

	t.mu.Lock()
	onResult := t.onResult
	t.mu.Unlock()
	if onResult == nil {
		return
	}
	if result.IsFinal {
		t.logger.Debug().Str("text", result.Text).Float64("confidence", result.Confidence).Msg("Final transcript")
	}
	onResult(result.Text, result.IsFinal)
}

// handleStreamError drops the broken stream and reconnects in the background.
// Errors from a stream that has since been stopped are ignored.
func (t *Transcriber) handleStreamError(gen int, resp *msginterfaces.ErrorResponse) {
	t.mu.Lock()
	if t.ctx == nil || gen != t.generation || t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.reconnecting = true
	ctx := t.ctx
	t.mu.Unlock()

	t.recordResult(false)
	t.logger.Warn().Interface("error", resp).Msg("Transcription stream failed, reconnecting")
	go t.reconnect(ctx, gen)
}

func (t *Transcriber) reconnect(ctx context.Context, gen int) {
	err := resilience.Reconnect(ctx, func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.ctx == nil || gen != t.generation {
			return nil
		}
		return t.connectLocked()
	}, t.cfg.Reconnect, t.logger)

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.generation {
		t.reconnecting = false
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to reconnect transcription stream")
	}
}

// Write forwards one PCM16LE frame. Before speech starts, and while the stream
// is down, frames are kept in the preroll buffer instead.
func (t *Transcriber) Write(pcm []byte) error {
	t.mu.Lock()
	if t.ctx == nil {
		t.mu.Unlock()
		return nil
	}
	_, started, _ := t.vad.ProcessFrame(pcm)
	if started {
		t.streaming = true
	}
	if !t.streaming || t.conn == nil {
		t.preroll.Write(pcm)
		t.mu.Unlock()
		return nil
	}
	conn := t.conn
	frame := pcm
	if t.preroll.Available() > 0 {
		frame = append(t.preroll.Drain(), pcm...)
	}
	t.mu.Unlock()

	return t.breaker.Call(func() error {
		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
}

// Stop finishes the stream. The transcriber can be started again.
func (t *Transcriber) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx == nil {
		return nil
	}
	if t.conn != nil {
		t.conn.Finish()
		t.conn = nil
	}
	t.cancel()
	t.ctx, t.cancel = nil, nil
	t.onResult = nil
	t.streaming = false
	t.reconnecting = false
	t.generation++
	t.vad.Reset()
	t.preroll.Clear()
	t.logger.Info().Msg("Transcription stopped")
	return nil
}

// Active reports whether a stream is open.
func (t *Transcriber) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
