package session

import "time"

// Effect is an action the runtime performs on behalf of the state machine.
type Effect interface {
	isEffect()
}

// TimerKind names one of the session's cancellable timers.
type TimerKind int

const (
	TimerSilence TimerKind = iota
	TimerCooldown
)

func (k TimerKind) String() string {
	if k == TimerCooldown {
		return "cooldown"
	}
	return "silence"
}

// StateChanged records a transition.
type StateChanged struct{ From, To State }

// AcquireCapture opens the microphone.
type AcquireCapture struct{}

// ReleaseCapture closes the microphone and returns the device lease.
type ReleaseCapture struct{}

// StartTranscription begins speech recognition.
type StartTranscription struct{}

// StopTranscription ends speech recognition.
type StopTranscription struct{}

// FlushUtterance hands a finished utterance to the turn queue.
type FlushUtterance struct{ Text string }

// CancelPlayback stops synthesized speech immediately.
type CancelPlayback struct{}

// PausePlayback holds synthesized speech where it is.
type PausePlayback struct{}

// DiscardPending drops speech that has not been played yet.
type DiscardPending struct{}

// ArmTimer schedules a timer; a later ArmTimer of the same kind replaces it.
type ArmTimer struct {
	Kind  TimerKind
	Seq   uint64
	After time.Duration
}

// CancelTimers stops every pending timer.
type CancelTimers struct{}

// ReportError surfaces a non-fatal error to the client.
type ReportError struct {
	Code string
	Err  error
}

func (StateChanged) isEffect()       {}
func (AcquireCapture) isEffect()     {}
func (ReleaseCapture) isEffect()     {}
func (StartTranscription) isEffect() {}
func (StopTranscription) isEffect()  {}
func (FlushUtterance) isEffect()     {}
func (CancelPlayback) isEffect()     {}
func (PausePlayback) isEffect()      {}
func (DiscardPending) isEffect()     {}
func (ArmTimer) isEffect()           {}
func (CancelTimers) isEffect()       {}
func (ReportError) isEffect()        {}
