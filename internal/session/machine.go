package session

import (
	"strings"
	"time"
)

// CodeDeviceUnavailable is reported when the microphone cannot be opened.
const CodeDeviceUnavailable = "device_unavailable"

// Machine is the pure transition function behind a voice session. It owns no
// goroutines or timers; Handle returns the effects the runtime must perform.
type Machine struct {
	cfg   Config
	state State
	mode  Mode

	captureHeld    bool
	capturePending bool
	wasListening   bool // resume listening once Doc is done speaking
	awaiting       bool // an utterance is with the reasoner

	finals  []string
	interim string

	seq         uint64
	silenceSeq  uint64
	cooldownSeq uint64

	sustaining  bool
	sustainFrom time.Time

	effects []Effect
}

// NewMachine returns an idle machine in voice mode.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Mode returns the current input mode.
func (m *Machine) Mode() Mode { return m.mode }

// Awaiting reports whether a flushed utterance has not produced speech yet.
func (m *Machine) Awaiting() bool { return m.awaiting }

// Handle applies ev and returns the resulting effects in order.
func (m *Machine) Handle(ev Event) []Effect {
	m.effects = nil

	switch e := ev.(type) {
	case ListenToggled:
		m.onListen(e.On)
	case CaptureAcquired:
		m.onCaptureAcquired()
	case CaptureFailed:
		m.onCaptureFailed(e.Err)
	case TranscriptPartial:
		m.onTranscript(e)
	case SilenceElapsed:
		if e.Seq != 0 && e.Seq == m.silenceSeq && m.state == StateListening {
			m.flush()
		}
	case PlaybackStarted:
		m.onPlaybackStarted()
	case PlaybackEnded:
		m.onPlaybackEnded()
	case EnergySample:
		m.onEnergy(e)
	case CooldownElapsed:
		m.onCooldown(e.Seq)
	case ModeSwitched:
		m.onMode(e.Mode)
	case TurnSettled:
		m.onTurnSettled(e.Spoken)
	case SessionClosed:
		m.onClosed()
	}

	out := m.effects
	m.effects = nil
	return out
}

func (m *Machine) onListen(on bool) {
	if m.mode == ModeText {
		return
	}
	if on {
		m.wasListening = true
		if m.state == StateIdle {
			m.beginListening()
		}
		return
	}

	m.wasListening = false
	m.capturePending = false
	m.cooldownSeq = 0
	switch m.state {
	case StateListening:
		m.flush()
	case StateBarging:
		m.setState(StateIdle)
	}
}

func (m *Machine) onCaptureAcquired() {
	m.captureHeld = true
	if m.mode == ModeText {
		m.captureHeld = false
		m.emit(ReleaseCapture{})
		return
	}
	if !m.capturePending {
		return
	}
	m.capturePending = false
	switch m.state {
	case StateIdle:
		if m.wasListening {
			m.beginListening()
		}
	case StateBarging:
		m.beginListening()
	}
}

func (m *Machine) onCaptureFailed(err error) {
	m.captureHeld = false
	m.capturePending = false
	m.wasListening = false
	m.emit(ReportError{Code: CodeDeviceUnavailable, Err: err})
	m.setState(StateIdle)
}

func (m *Machine) onTranscript(e TranscriptPartial) {
	if m.state != StateListening {
		return
	}
	text := strings.TrimSpace(e.Text)
	if !e.Final {
		m.interim = text
		return
	}
	m.interim = ""
	if text != "" {
		m.finals = append(m.finals, text)
	}
	if len(m.finals) == 0 {
		return
	}
	m.seq++
	m.silenceSeq = m.seq
	m.emit(ArmTimer{Kind: TimerSilence, Seq: m.silenceSeq, After: m.cfg.SilenceFlush})
}

func (m *Machine) onPlaybackStarted() {
	if m.state == StateListening {
		m.flush()
		m.wasListening = true
	}
	if m.state != StateIdle {
		return
	}
	m.awaiting = false
	m.cooldownSeq = 0
	m.sustaining = false
	m.setState(StateSpeaking)
}

func (m *Machine) onPlaybackEnded() {
	if m.state != StateSpeaking {
		return
	}
	m.sustaining = false
	m.setState(StateIdle)
	if m.wasListening && m.mode == ModeVoice {
		m.seq++
		m.cooldownSeq = m.seq
		m.emit(ArmTimer{Kind: TimerCooldown, Seq: m.cooldownSeq, After: m.cfg.Cooldown})
	}
}

func (m *Machine) onCooldown(seq uint64) {
	if seq == 0 || seq != m.cooldownSeq {
		return
	}
	m.cooldownSeq = 0
	if m.state == StateIdle && m.mode == ModeVoice && m.wasListening {
		m.beginListening()
	}
}

func (m *Machine) onEnergy(e EnergySample) {
	if m.state != StateSpeaking || m.mode != ModeVoice {
		m.sustaining = false
		return
	}
	if e.Mic <= m.cfg.MicThreshold || e.Mic <= m.cfg.EchoGuard*e.Output {
		m.sustaining = false
		return
	}
	if !m.sustaining {
		m.sustaining = true
		m.sustainFrom = e.At
	}
	if e.At.Sub(m.sustainFrom) < m.cfg.BargeSustain {
		return
	}

	m.sustaining = false
	m.emit(CancelPlayback{})
	m.emit(DiscardPending{})
	m.setState(StateBarging)
	m.wasListening = true
	m.beginListening()
}

func (m *Machine) onMode(mode Mode) {
	if mode == m.mode {
		return
	}
	m.mode = mode
	if mode == ModeVoice {
		return
	}

	m.emit(CancelTimers{})
	switch m.state {
	case StateListening:
		m.emit(StopTranscription{})
	case StateSpeaking:
		m.emit(PausePlayback{})
	}
	m.silenceSeq, m.cooldownSeq = 0, 0
	m.resetTranscript()
	m.sustaining = false
	m.wasListening = false
	m.capturePending = false
	if m.captureHeld {
		m.captureHeld = false
		m.emit(ReleaseCapture{})
	}
	m.setState(StateIdle)
}

func (m *Machine) onTurnSettled(spoken bool) {
	if spoken {
		return
	}
	m.awaiting = false
	if m.state == StateIdle && m.mode == ModeVoice && m.wasListening && m.cooldownSeq == 0 {
		m.beginListening()
	}
}

func (m *Machine) onClosed() {
	m.emit(CancelTimers{})
	switch m.state {
	case StateListening:
		m.emit(StopTranscription{})
	case StateSpeaking:
		m.emit(CancelPlayback{})
	}
	if m.captureHeld || m.capturePending {
		m.emit(ReleaseCapture{})
	}
	m.captureHeld = false
	m.capturePending = false
	m.wasListening = false
	m.silenceSeq, m.cooldownSeq = 0, 0
	m.resetTranscript()
	m.setState(StateIdle)
}

// beginListening starts transcription, or asks for the microphone first.
func (m *Machine) beginListening() {
	if !m.captureHeld {
		if !m.capturePending {
			m.capturePending = true
			m.emit(AcquireCapture{})
		}
		return
	}
	m.capturePending = false
	m.cooldownSeq = 0
	m.resetTranscript()
	m.setState(StateListening)
	m.emit(StartTranscription{})
}

// flush ends listening and hands any accumulated transcript to the turn queue.
func (m *Machine) flush() {
	text := m.transcript()
	m.silenceSeq = 0
	m.resetTranscript()
	m.emit(StopTranscription{})
	m.setState(StateIdle)
	if text != "" {
		m.awaiting = true
		m.emit(FlushUtterance{Text: text})
	}
}

func (m *Machine) transcript() string {
	parts := m.finals
	if m.interim != "" {
		parts = append(parts[:len(parts):len(parts)], m.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (m *Machine) resetTranscript() {
	m.finals = nil
	m.interim = ""
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	m.emit(StateChanged{From: m.state, To: s})
	m.state = s
}

func (m *Machine) emit(e Effect) {
	m.effects = append(m.effects, e)
}
