package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/audio"
	"github.com/medtwin/doc-voice/internal/broadcast"
	"github.com/medtwin/doc-voice/internal/observability"
	"github.com/medtwin/doc-voice/internal/patient"
	"github.com/medtwin/doc-voice/internal/reasoning"
	"github.com/medtwin/doc-voice/internal/utterance"
)

var (
	// ErrSessionClosed is returned for work submitted to a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrEmptyUtterance is returned when the submitted text is blank.
	ErrEmptyUtterance = errors.New("empty utterance")
)

// Reasoner answers one composed user turn.
type Reasoner interface {
	Reason(ctx context.Context, userText string, snap *patient.Snapshot) (reasoning.Advice, error)
}

// SnapshotSource supplies the current patient context.
type SnapshotSource interface {
	Snapshot() *patient.Snapshot
}

// Transcriber recognizes speech from raw PCM frames on the server.
type Transcriber interface {
	Start(ctx context.Context, onResult func(text string, final bool)) error
	Write(pcm []byte) error
	Stop() error
}

// CaptureLeaser hands out the single capture device.
type CaptureLeaser interface {
	AcquireCapture(sessionID string) error
	ReleaseCapture(sessionID string)
}

// Outbound message types.
const (
	OutboundState   = "state"
	OutboundCommand = "command"
	OutboundError   = "error"
)

// Client commands.
const (
	CommandAcquireCapture     = "acquire_capture"
	CommandReleaseCapture     = "release_capture"
	CommandStartTranscription = "start_transcription"
	CommandStopTranscription  = "stop_transcription"
	CommandCancelPlayback     = "cancel_playback"
	CommandPausePlayback      = "pause_playback"
	CommandDiscardPending     = "discard_pending"
)

// Outbound is a message for the client driving the session's devices.
type Outbound struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Command string `json:"command,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Deps are the collaborators a session needs.
type Deps struct {
	Reasoner    Reasoner
	Patient     SnapshotSource
	Channel     *broadcast.Channel
	Leases      CaptureLeaser
	Transcriber Transcriber
	Clock       Clock
	Logger      zerolog.Logger
}

type turn struct {
	text  string
	key   string
	reply chan reasoning.Advice
}

// Session drives one conversation. A run loop applies device events to the
// state machine and a turn worker answers utterances one at a time, in order.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	machine *Machine
	timers  map[TimerKind]Timer

	events chan Event
	out    chan Outbound
	turns  chan turn

	history *History
	epoch   atomic.Uint64
	pending atomic.Int32 // turns queued or being answered

	state        atomic.Int32
	mode         atomic.Int32
	transcribing atomic.Bool
	outputLevel  atomic.Uint64

	lastKey    string
	lastAdvice reasoning.Advice

	metrics *observability.SessionMetrics
	logger  zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts a session. Close must be called to release its goroutines.
func New(id string, cfg Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Channel == nil {
		deps.Channel = broadcast.NewChannel(broadcast.DefaultBuffer, deps.Logger)
	}
	queue := cfg.TurnQueue
	if queue < 1 {
		queue = DefaultConfig().TurnQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		machine: NewMachine(cfg),
		timers:  make(map[TimerKind]Timer),
		events:  make(chan Event, 64),
		out:     make(chan Outbound, 64),
		turns:   make(chan turn, queue),
		history: NewHistory(cfg.HistoryCapacity),
		metrics: observability.NewSessionMetrics(id),
		logger:  deps.Logger.With().Str("session_id", id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.wg.Add(2)
	go s.run()
	go s.work()

	s.logger.Info().Msg("Session started")
	return s
}

// ID returns the conversation identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Mode returns the current input mode.
func (s *Session) Mode() Mode { return Mode(s.mode.Load()) }

// History returns the recent exchanges, oldest first.
func (s *Session) History() []Exchange { return s.history.Items() }

// Channel returns the conversation's broadcast channel.
func (s *Session) Channel() *broadcast.Channel { return s.deps.Channel }

// Busy reports whether a turn is queued or being answered.
func (s *Session) Busy() bool { return s.pending.Load() > 0 }

// Outbound delivers state changes, device commands and errors for the client.
func (s *Session) Outbound() <-chan Outbound { return s.out }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Post feeds an event to the state machine. It reports false once the
// session is closed.
func (s *Session) Post(ev Event) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ReportOutputLevel records the latest normalized playback level.
func (s *Session) ReportOutputLevel(level float64) {
	s.outputLevel.Store(math.Float64bits(level))
}

func (s *Session) currentOutputLevel() float64 {
	return math.Float64frombits(s.outputLevel.Load())
}

// ReportEnergy posts a mic level sampled now against the last output level.
func (s *Session) ReportEnergy(mic float64) {
	s.Post(EnergySample{Mic: mic, Output: s.currentOutputLevel(), At: s.deps.Clock.Now()})
}

// WriteAudio accepts one PCM16LE capture frame: its level feeds barge-in
// detection and, while transcribing, the frame goes to the transcriber.
func (s *Session) WriteAudio(pcm []byte) {
	s.metrics.RecordAudioBytes("in", int64(len(pcm)))
	s.ReportEnergy(audio.PCM16Level(pcm))

	if s.deps.Transcriber != nil && s.transcribing.Load() {
		if err := s.deps.Transcriber.Write(pcm); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to forward audio to transcriber")
			s.metrics.RecordError("stt_send_error", "stt")
		}
	}
}

// Submit queues typed text as a turn. Doc's answer goes out on the channel.
func (s *Session) Submit(ctx context.Context, text string) error {
	return s.enqueue(ctx, text, nil)
}

// Ask queues text as a turn and waits for its advice. Reasoning failures are
// answered with the fallback message rather than an error.
func (s *Session) Ask(ctx context.Context, text string) (reasoning.Advice, error) {
	reply := make(chan reasoning.Advice, 1)
	if err := s.enqueue(ctx, text, reply); err != nil {
		return reasoning.Advice{}, err
	}
	select {
	case advice := <-reply:
		return advice, nil
	case <-ctx.Done():
		return reasoning.Advice{}, ctx.Err()
	case <-s.ctx.Done():
		return reasoning.Advice{}, ErrSessionClosed
	}
}

// Close stops the session and waits for its goroutines. In-flight reasoning
// is cancelled.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.deps.Leases != nil {
			s.deps.Leases.ReleaseCapture(s.id)
		}
		s.metrics.RecordSessionEnd()
		s.logger.Info().Int("turns", s.history.Len()).Msg("Session closed")
	})
}

func (s *Session) enqueue(ctx context.Context, text string, reply chan reasoning.Advice) error {
	t, err := s.newTurn(text, reply)
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	s.pending.Add(1)
	select {
	case s.turns <- t:
		return nil
	case <-ctx.Done():
		s.pending.Add(-1)
		return ctx.Err()
	case <-s.ctx.Done():
		s.pending.Add(-1)
		return ErrSessionClosed
	}
}

func (s *Session) newTurn(text string, reply chan reasoning.Advice) (turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return turn{}, ErrEmptyUtterance
	}
	return turn{text: text, key: s.turnKey(text), reply: reply}, nil
}

// turnKey identifies a turn by what was said and what Doc had just asked.
func (s *Session) turnKey(text string) string {
	return utterance.Normalize(text) + "\n" + s.previousQuestion()
}

func (s *Session) previousQuestion() string {
	if last, ok := s.history.Last(); ok {
		return last.FollowUp
	}
	return ""
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case <-s.ctx.Done():
			s.dispatch(SessionClosed{})
			return
		}
	}
}

// dispatch applies ev and any events its effects produce, in order.
func (s *Session) dispatch(ev Event) {
	queue := []Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, eff := range s.machine.Handle(next) {
			if follow := s.apply(eff); follow != nil {
				queue = append(queue, follow)
			}
		}
		s.mode.Store(int32(s.machine.Mode()))
	}
}

func (s *Session) apply(eff Effect) Event {
	switch e := eff.(type) {
	case StateChanged:
		s.state.Store(int32(e.To))
		s.metrics.RecordTransition(e.From.String(), e.To.String())
		if e.To == StateBarging {
			s.metrics.RecordBargeIn()
		}
		s.logger.Debug().Str("from", e.From.String()).Str("state", e.To.String()).Msg("State changed")
		s.send(Outbound{Type: OutboundState, State: e.To.String()})

	case AcquireCapture:
		if s.deps.Leases != nil {
			if err := s.deps.Leases.AcquireCapture(s.id); err != nil {
				return CaptureFailed{Err: err}
			}
		}
		s.command(CommandAcquireCapture)

	case ReleaseCapture:
		if s.deps.Leases != nil {
			s.deps.Leases.ReleaseCapture(s.id)
		}
		s.command(CommandReleaseCapture)

	case StartTranscription:
		s.command(CommandStartTranscription)
		s.startTranscriber()

	case StopTranscription:
		s.command(CommandStopTranscription)
		s.stopTranscriber()

	case FlushUtterance:
		s.flush(e.Text)

	case CancelPlayback:
		s.command(CommandCancelPlayback)

	case PausePlayback:
		s.command(CommandPausePlayback)

	case DiscardPending:
		s.epoch.Add(1)
		s.command(CommandDiscardPending)

	case ArmTimer:
		s.arm(e)

	case CancelTimers:
		for kind, t := range s.timers {
			t.Stop()
			delete(s.timers, kind)
		}

	case ReportError:
		s.metrics.RecordError(e.Code, "session")
		msg := e.Code
		if e.Err != nil {
			msg = e.Err.Error()
		}
		s.logger.Warn().Str("code", e.Code).Str("reason", msg).Msg("Session error")
		s.send(Outbound{Type: OutboundError, Code: e.Code, Message: msg})
	}
	return nil
}

func (s *Session) arm(e ArmTimer) {
	if t, ok := s.timers[e.Kind]; ok {
		t.Stop()
	}
	var fire Event = SilenceElapsed{Seq: e.Seq}
	if e.Kind == TimerCooldown {
		fire = CooldownElapsed{Seq: e.Seq}
	}
	s.timers[e.Kind] = s.deps.Clock.AfterFunc(e.After, func() { s.Post(fire) })
}

func (s *Session) flush(text string) {
	t, err := s.newTurn(text, nil)
	if err != nil {
		return
	}
	s.pending.Add(1)
	select {
	case s.turns <- t:
		s.logger.Info().Str("text", text).Msg("Utterance queued")
	default:
		s.pending.Add(-1)
		s.logger.Warn().Str("text", text).Msg("Turn queue full, utterance dropped")
		s.metrics.RecordError("turn_queue_full", "session")
	}
}

func (s *Session) startTranscriber() {
	if s.deps.Transcriber == nil || s.transcribing.Load() {
		return
	}
	err := s.deps.Transcriber.Start(s.ctx, func(text string, final bool) {
		s.Post(TranscriptPartial{Text: text, Final: final, At: s.deps.Clock.Now()})
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start transcriber")
		s.metrics.RecordError("stt_start_error", "stt")
		return
	}
	s.transcribing.Store(true)
}

func (s *Session) stopTranscriber() {
	if s.deps.Transcriber == nil || !s.transcribing.Swap(false) {
		return
	}
	if err := s.deps.Transcriber.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop transcriber")
	}
}

func (s *Session) command(name string) {
	s.send(Outbound{Type: OutboundCommand, Command: name})
}

// send queues msg for the client. When the queue is full the oldest message
// is dropped so the newest state and commands always get through.
func (s *Session) send(msg Outbound) {
	for {
		select {
		case s.out <- msg:
			return
		default:
		}

		select {
		case old := <-s.out:
			if old.Type == OutboundState {
				s.logger.Debug().Msg("Outbound queue full, stale state dropped")
			} else {
				s.logger.Warn().Str("type", old.Type).Str("command", old.Command).Msg("Outbound queue full, oldest message dropped")
			}
		default:
		}
	}
}

func (s *Session) work() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.turns:
			s.process(t)
		case <-s.ctx.Done():
			return
		}
	}
}

// process answers one turn. Results that finish after a barge-in are kept in
// history but not spoken.
func (s *Session) process(t turn) {
	defer s.pending.Add(-1)

	if t.key == s.lastKey {
		observability.RecordTurnOutcome("duplicate")
		s.logger.Info().Str("text", t.text).Msg("Duplicate utterance discarded")
		if t.reply != nil {
			t.reply <- s.lastAdvice
		}
		s.Post(TurnSettled{Spoken: false})
		return
	}

	epoch := s.epoch.Load()
	start := time.Now()
	s.metrics.RecordTurnStart()

	prompt := reasoning.ComposeTurn(t.text, s.previousQuestion())
	advice, err := s.deps.Reasoner.Reason(s.ctx, prompt, s.snapshot())
	outcome := "answered"
	switch {
	case err != nil:
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("Reasoning failed, using fallback message")
		advice = reasoning.Advice{Speak: reasoning.FallbackMessage}
		outcome = "fallback"
	case advice.IsEmpty():
		s.logger.Warn().Msg("Reasoning returned nothing to say, using fallback message")
		advice = reasoning.Advice{Speak: reasoning.FallbackMessage}
		outcome = "fallback"
	}

	spoken := utterance.Combine(advice.Speak, advice.FollowUp)
	s.history.Push(Exchange{UserText: t.text, DocText: spoken, FollowUp: advice.FollowUp})
	s.lastKey = t.key
	s.lastAdvice = advice
	if t.reply != nil {
		t.reply <- advice
	}

	delivered := 0
	if s.epoch.Load() != epoch {
		outcome = "stale"
		s.logger.Info().Msg("Playback was interrupted while reasoning, answer not spoken")
	} else if spoken != "" {
		delivered = s.deps.Channel.Publish(utterance.Truncate(spoken, s.cfg.SpokenCharLimit))
	}
	s.metrics.RecordTurnEnd(outcome)
	s.logger.Info().
		Str("outcome", outcome).
		Int("subscribers", delivered).
		Dur("elapsed", time.Since(start)).
		Msg("Turn completed")

	s.Post(TurnSettled{Spoken: delivered > 0})
}

func (s *Session) snapshot() *patient.Snapshot {
	if s.deps.Patient == nil {
		return nil
	}
	return s.deps.Patient.Snapshot()
}
