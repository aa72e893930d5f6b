// Package audio holds the small amount of signal handling the gateway does
// itself: PCM16 level metering, an energy VAD and a preroll buffer for
// streaming recognition.
package audio

import (
	"encoding/binary"
	"math"
)

// fullScale is the magnitude of the most negative PCM16 sample.
const fullScale = 32768.0

// DecodePCM16LE converts little-endian 16-bit PCM into samples. A trailing
// odd byte is ignored.
func DecodePCM16LE(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples
}

// CalculateRMS returns the root mean square of samples in raw PCM16 units.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Level returns the RMS of samples normalized to 0..1.
func Level(samples []int16) float64 {
	return math.Min(CalculateRMS(samples)/fullScale, 1)
}

// PCM16Level returns the normalized RMS level of a PCM16LE frame.
func PCM16Level(pcm []byte) float64 {
	return Level(DecodePCM16LE(pcm))
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(samples []int16) []byte {
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}
	return pcm
}
