// Package session runs the duplex voice conversation: capture, transcription,
// playback, barge-in and the ordered reasoning turns behind them.
package session

import "time"

// State is the externally visible state of a voice session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateSpeaking
	StateBarging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateBarging:
		return "barging"
	default:
		return "unknown"
	}
}

// Mode selects how the user talks to Doc.
type Mode int

const (
	ModeVoice Mode = iota
	ModeText
)

func (m Mode) String() string {
	if m == ModeText {
		return "text"
	}
	return "voice"
}

// ParseMode maps "voice" or "text" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "voice":
		return ModeVoice, true
	case "text":
		return ModeText, true
	}
	return ModeVoice, false
}

// Config tunes session timing and bookkeeping.
type Config struct {
	HistoryCapacity int
	SpokenCharLimit int
	TurnQueue       int

	SilenceFlush time.Duration
	Cooldown     time.Duration
	BargeSustain time.Duration
	MicThreshold float64
	EchoGuard    float64

	// Registry limits. Sessions no client holds are reaped after IdleTimeout
	// and evicted oldest first once MaxSessions are live. Zero disables each.
	IdleTimeout time.Duration
	MaxSessions int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: 8,
		SpokenCharLimit: 300,
		TurnQueue:       16,
		SilenceFlush:    400 * time.Millisecond,
		Cooldown:        400 * time.Millisecond,
		BargeSustain:    140 * time.Millisecond,
		MicThreshold:    0.02,
		EchoGuard:       1.6,
		IdleTimeout:     10 * time.Minute,
		MaxSessions:     256,
	}
}
