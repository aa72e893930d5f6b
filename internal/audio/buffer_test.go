package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_WriteAndDrain(t *testing.T) {
	rb := NewRingBuffer(10)

	assert.Equal(t, 0, rb.Write([]byte{1, 2, 3, 4, 5}))
	assert.Equal(t, 0, rb.Write([]byte{6, 7, 8}))
	assert.Equal(t, 8, rb.Available())

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rb.Drain())
	assert.Equal(t, 0, rb.Available())
}

func TestRingBuffer_OverflowKeepsNewest(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]byte{1, 2, 3, 4})
	dropped := rb.Write([]byte{5, 6, 7})

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 5, rb.Available())
	assert.Equal(t, []byte{3, 4, 5, 6, 7}, rb.Drain())
}

func TestRingBuffer_WriteLargerThanCapacity(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte{9, 9})

	dropped := rb.Write([]byte{1, 2, 3, 4, 5, 6})

	assert.Equal(t, 4, dropped)
	assert.Equal(t, []byte{3, 4, 5, 6}, rb.Drain())
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte{1, 2, 3})
	rb.Drain()

	rb.Write([]byte{4, 5, 6, 7})
	assert.Equal(t, []byte{4, 5, 6, 7}, rb.Drain())
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte{1, 2, 3})
	rb.Clear()

	assert.Equal(t, 0, rb.Available())
	assert.Empty(t, rb.Drain())
	assert.Equal(t, 8, rb.Cap())
}
