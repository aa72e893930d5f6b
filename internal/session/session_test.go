package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/medtwin/doc-voice/internal/broadcast"
	"github.com/medtwin/doc-voice/internal/patient"
	"github.com/medtwin/doc-voice/internal/reasoning"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Pending counts timers that are armed and not yet fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// fakeReasoner answers from respond, optionally holding each call until
// gate is closed or receives.
type fakeReasoner struct {
	mu      sync.Mutex
	prompts []string
	respond func(prompt string) (reasoning.Advice, error)
	gate    chan struct{}
	started chan string
}

func (f *fakeReasoner) Reason(ctx context.Context, text string, snap *patient.Snapshot) (reasoning.Advice, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- text
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return reasoning.Advice{}, ctx.Err()
		}
	}
	return f.respond(text)
}

func (f *fakeReasoner) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func echoReasoner() *fakeReasoner {
	return &fakeReasoner{respond: func(prompt string) (reasoning.Advice, error) {
		return reasoning.Advice{Speak: "You said: " + lastLine(prompt) + "."}, nil
	}}
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimPrefix(lines[len(lines)-1], "My answer: ")
}

func newTestSession(t *testing.T, r Reasoner, clock Clock) (*Session, *broadcast.Subscription) {
	t.Helper()
	ch := broadcast.NewChannel(16, zerolog.Nop())
	s := New("test", DefaultConfig(), Deps{
		Reasoner: r,
		Channel:  ch,
		Clock:    clock,
		Logger:   zerolog.Nop(),
	})
	sub := ch.Subscribe()
	t.Cleanup(func() {
		s.Close()
		ch.Close()
	})
	return s, sub
}

func receive(t *testing.T, sub *broadcast.Subscription) string {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev.Text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return ""
	}
}

func assertNoBroadcast(t *testing.T, sub *broadcast.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected broadcast %q", ev.Text)
	default:
	}
}

func TestSession_VoiceTurnEndToEnd(t *testing.T) {
	clock := newFakeClock()
	r := &fakeReasoner{respond: func(string) (reasoning.Advice, error) {
		return reasoning.Advice{
			Speak:    "Try warm fluids and rest.",
			FollowUp: "Have you eaten anything unusual today?",
		}, nil
	}}
	s, sub := newTestSession(t, r, clock)

	s.Post(ListenToggled{On: true})
	s.Post(CaptureAcquired{})
	s.Post(TranscriptPartial{Text: "my stomach has been hurting today", Final: true, At: clock.Now()})

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(400 * time.Millisecond)

	assert.Equal(t, "Try warm fluids and rest. — Have you eaten anything unusual today?", receive(t, sub))
	assert.Equal(t, []string{"my stomach has been hurting today"}, r.Prompts())
	require.Eventually(t, func() bool { return len(s.History()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Have you eaten anything unusual today?", s.History()[0].FollowUp)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_OutboundCommands(t *testing.T) {
	s, _ := newTestSession(t, echoReasoner(), newFakeClock())

	s.Post(ListenToggled{On: true})
	s.Post(CaptureAcquired{})

	want := []Outbound{
		{Type: OutboundCommand, Command: CommandAcquireCapture},
		{Type: OutboundState, State: "listening"},
		{Type: OutboundCommand, Command: CommandStartTranscription},
	}
	var got []Outbound
	for len(got) < len(want) {
		select {
		case msg := <-s.Outbound():
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, want, got)
}

func TestSession_FullOutboundQueueKeepsNewestCommand(t *testing.T) {
	s, _ := newTestSession(t, echoReasoner(), newFakeClock())

	for i := 0; i < cap(s.out)+10; i++ {
		s.send(Outbound{Type: OutboundState, State: "speaking"})
	}
	s.command(CommandCancelPlayback)

	require.Len(t, s.out, cap(s.out))
	var last Outbound
	for len(s.out) > 0 {
		last = <-s.out
	}
	assert.Equal(t, Outbound{Type: OutboundCommand, Command: CommandCancelPlayback}, last)
}

func TestSession_ThreadsPreviousQuestion(t *testing.T) {
	calls := 0
	r := &fakeReasoner{respond: func(string) (reasoning.Advice, error) {
		calls++
		if calls == 1 {
			return reasoning.Advice{Speak: "Knee pain can come from strain.", FollowUp: "Any swelling?"}, nil
		}
		return reasoning.Advice{Speak: "Good, keep resting it."}, nil
	}}
	s, _ := newTestSession(t, r, newFakeClock())

	_, err := s.Ask(context.Background(), "my knee hurts")
	require.NoError(t, err)
	advice, err := s.Ask(context.Background(), "no swelling")
	require.NoError(t, err)

	assert.Equal(t, "Good, keep resting it.", advice.Speak)
	prompts := r.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, "Previous question from Doc: \"Any swelling?\"\nMy answer: no swelling", prompts[1])
}

func TestSession_TurnsAreAnsweredInOrder(t *testing.T) {
	r := echoReasoner()
	r.gate = make(chan struct{})
	r.started = make(chan string, 4)
	s, sub := newTestSession(t, r, newFakeClock())

	require.NoError(t, s.Submit(context.Background(), "first"))
	require.NoError(t, s.Submit(context.Background(), "second"))
	require.NoError(t, s.Submit(context.Background(), "third"))

	for _, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, <-r.started)
		r.gate <- struct{}{}
		assert.Equal(t, "You said: "+want+".", receive(t, sub))
	}
}

func TestSession_FallbackMessageOnReasoningFailure(t *testing.T) {
	r := &fakeReasoner{respond: func(string) (reasoning.Advice, error) {
		return reasoning.Advice{}, reasoning.ErrProviderExhausted
	}}
	s, sub := newTestSession(t, r, newFakeClock())

	advice, err := s.Ask(context.Background(), "what is happening")
	require.NoError(t, err)
	assert.Equal(t, reasoning.FallbackMessage, advice.Speak)
	assert.Equal(t, reasoning.FallbackMessage, receive(t, sub))
}

func TestSession_FallbackMessageOnEmptyAdvice(t *testing.T) {
	r := &fakeReasoner{respond: func(string) (reasoning.Advice, error) {
		return reasoning.Advice{}, nil
	}}
	s, sub := newTestSession(t, r, newFakeClock())

	advice, err := s.Ask(context.Background(), "is this normal")
	require.NoError(t, err)
	assert.Equal(t, reasoning.FallbackMessage, advice.Speak)
	assert.Equal(t, reasoning.FallbackMessage, receive(t, sub))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, reasoning.FallbackMessage, history[0].DocText)
}

func TestSession_StaleAnswerAfterBargeInIsNotSpoken(t *testing.T) {
	clock := newFakeClock()
	r := echoReasoner()
	r.gate = make(chan struct{})
	r.started = make(chan string, 2)
	s, sub := newTestSession(t, r, clock)

	require.NoError(t, s.Submit(context.Background(), "tell me about sleep"))
	<-r.started

	s.Post(PlaybackStarted{})
	s.Post(EnergySample{Mic: 0.4, Output: 0.05, At: t0})
	s.Post(EnergySample{Mic: 0.4, Output: 0.05, At: t0.Add(140 * time.Millisecond)})
	require.Eventually(t, func() bool { return s.epoch.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(r.gate)

	// The next turn only starts after the stale one finished.
	advice, err := s.Ask(context.Background(), "what about water")
	require.NoError(t, err)
	assert.Equal(t, "You said: what about water.", advice.Speak)
	<-r.started

	assert.Equal(t, "You said: what about water.", receive(t, sub))
	assertNoBroadcast(t, sub)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "tell me about sleep", history[0].UserText)
}

func TestSession_DuplicateFlushIsDiscarded(t *testing.T) {
	r := echoReasoner()
	r.gate = make(chan struct{})
	r.started = make(chan string, 4)
	s, sub := newTestSession(t, r, newFakeClock())

	require.NoError(t, s.Submit(context.Background(), "I slept badly"))
	require.NoError(t, s.Submit(context.Background(), "i slept badly!"))
	<-r.started
	close(r.gate)

	_, err := s.Ask(context.Background(), "anything else")
	require.NoError(t, err)
	<-r.started

	assert.Equal(t, []string{"I slept badly", "anything else"}, r.Prompts())
	assert.Equal(t, "You said: I slept badly.", receive(t, sub))
	assert.Equal(t, "You said: anything else.", receive(t, sub))
}

func TestSession_SpokenTextIsTruncated(t *testing.T) {
	long := strings.Repeat("word ", 100)
	r := &fakeReasoner{respond: func(string) (reasoning.Advice, error) {
		return reasoning.Advice{Speak: long}, nil
	}}
	s, sub := newTestSession(t, r, newFakeClock())

	advice, err := s.Ask(context.Background(), "talk a lot")
	require.NoError(t, err)
	assert.Equal(t, long, advice.Speak)

	got := receive(t, sub)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 303)
}

func TestSession_EmptyAndClosed(t *testing.T) {
	s, _ := newTestSession(t, echoReasoner(), newFakeClock())

	_, err := s.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyUtterance)

	s.Close()
	assert.False(t, s.Post(PlaybackStarted{}))
	err = s.Submit(context.Background(), "hello?")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_CloseCancelsInFlightReasoning(t *testing.T) {
	r := echoReasoner()
	r.gate = make(chan struct{})
	r.started = make(chan string, 1)
	s, _ := newTestSession(t, r, newFakeClock())

	done := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "slow one")
		done <- err
	}()
	<-r.started
	s.Close()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrSessionClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after Close")
	}
}

type fakeTranscriber struct {
	mu       sync.Mutex
	onResult func(string, bool)
	frames   int
	stops    int
}

func (f *fakeTranscriber) Start(ctx context.Context, onResult func(text string, final bool)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResult = onResult
	return nil
}

func (f *fakeTranscriber) Write(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeTranscriber) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTranscriber) emit(text string, final bool) {
	f.mu.Lock()
	cb := f.onResult
	f.mu.Unlock()
	cb(text, final)
}

func (f *fakeTranscriber) started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onResult != nil
}

func TestSession_ServerSideTranscription(t *testing.T) {
	clock := newFakeClock()
	tr := &fakeTranscriber{}
	ch := broadcast.NewChannel(4, zerolog.Nop())
	sub := ch.Subscribe()
	s := New("stt", DefaultConfig(), Deps{
		Reasoner:    echoReasoner(),
		Channel:     ch,
		Transcriber: tr,
		Clock:       clock,
		Logger:      zerolog.Nop(),
	})
	defer ch.Close()
	defer s.Close()

	s.Post(ListenToggled{On: true})
	s.Post(CaptureAcquired{})
	require.Eventually(t, func() bool { return tr.started() && s.transcribing.Load() }, 2*time.Second, 5*time.Millisecond)

	s.WriteAudio(make([]byte, 320))
	tr.emit("hello doc", true)
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(400 * time.Millisecond)

	assert.Equal(t, "You said: hello doc.", receive(t, sub))
	tr.mu.Lock()
	assert.Equal(t, 1, tr.frames)
	assert.Equal(t, 1, tr.stops)
	tr.mu.Unlock()
}
