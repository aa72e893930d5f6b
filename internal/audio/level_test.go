package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodePCM16LE_RoundTripAndOddByte(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	pcm := EncodePCM16LE(samples)
	assert.Equal(t, samples, DecodePCM16LE(pcm))

	assert.Equal(t, []int16{258}, DecodePCM16LE([]byte{0x02, 0x01, 0xFF}))
}

func TestLevel(t *testing.T) {
	assert.Equal(t, 0.0, Level(nil))
	assert.Equal(t, 0.0, PCM16Level(EncodePCM16LE(make([]int16, 100))))
	assert.Equal(t, 1.0, Level([]int16{-32768, -32768}))
	assert.InDelta(t, 0.5, Level([]int16{16384, -16384}), 1e-9)
}
