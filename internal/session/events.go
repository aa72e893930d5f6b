package session

import "time"

// Event is an input to the session state machine.
type Event interface {
	isEvent()
}

// ListenToggled is the user pressing or releasing the listen control.
type ListenToggled struct{ On bool }

// CaptureAcquired reports the microphone is live.
type CaptureAcquired struct{}

// CaptureFailed reports the microphone could not be opened.
type CaptureFailed struct{ Err error }

// TranscriptPartial is an interim or final recognition result.
type TranscriptPartial struct {
	Text  string
	Final bool
	At    time.Time
}

// SilenceElapsed fires when no final result arrived for the flush delay.
type SilenceElapsed struct{ Seq uint64 }

// PlaybackStarted reports synthesized speech began playing.
type PlaybackStarted struct{}

// PlaybackEnded reports synthesized speech finished on its own.
type PlaybackEnded struct{}

// EnergySample carries normalized RMS levels for the microphone and the
// playback output measured at the same moment.
type EnergySample struct {
	Mic    float64
	Output float64
	At     time.Time
}

// CooldownElapsed fires after playback ended and the cooldown passed.
type CooldownElapsed struct{ Seq uint64 }

// ModeSwitched changes between voice and text input.
type ModeSwitched struct{ Mode Mode }

// TurnSettled reports a reasoning turn finished. Spoken is false when nothing
// was handed to a listener, so no playback will follow.
type TurnSettled struct{ Spoken bool }

// SessionClosed tears the session down.
type SessionClosed struct{}

func (ListenToggled) isEvent()     {}
func (CaptureAcquired) isEvent()   {}
func (CaptureFailed) isEvent()     {}
func (TranscriptPartial) isEvent() {}
func (SilenceElapsed) isEvent()    {}
func (PlaybackStarted) isEvent()   {}
func (PlaybackEnded) isEvent()     {}
func (EnergySample) isEvent()      {}
func (CooldownElapsed) isEvent()   {}
func (ModeSwitched) isEvent()      {}
func (TurnSettled) isEvent()       {}
func (SessionClosed) isEvent()     {}
