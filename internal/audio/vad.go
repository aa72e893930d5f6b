package audio

// VADConfig holds configuration for the energy voice activity detector.
type VADConfig struct {
	// Threshold is the normalized level (0..1) above which a frame counts as speech.
	Threshold float64
	// SilenceFrames is how many quiet frames in a row end speech.
	SilenceFrames int
}

// DefaultVADConfig returns thresholds tuned for 20ms frames at 16kHz.
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		Threshold:     0.02,
		SilenceFrames: 20, // 400ms
	}
}

// VADDetector tracks speech onset and end across consecutive frames.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a detector. A nil config uses the defaults.
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one PCM16LE frame.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(pcm []byte) (bool, bool, bool) {
	return v.ProcessLevel(PCM16Level(pcm))
}

// ProcessLevel classifies one frame by its normalized level.
func (v *VADDetector) ProcessLevel(level float64) (bool, bool, bool) {
	var speechStarted, speechEnded bool

	if level > v.config.Threshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset forgets any speech in progress.
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected.
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence reports whether a PCM16LE frame is below threshold.
func DetectSilence(pcm []byte, threshold float64) bool {
	return PCM16Level(pcm) <= threshold
}
