package audio

import (
	"sync"
)

// RingBuffer keeps the most recent bytes written to it, overwriting the
// oldest once full. It holds preroll audio while a recognizer connects.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int
	length int
	mu     sync.Mutex
}

// NewRingBuffer creates a ring buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, dropping the oldest bytes if it overflows.
// Returns the number of older bytes that were overwritten.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(data) >= rb.size {
		dropped := rb.length + len(data) - rb.size
		copy(rb.buffer, data[len(data)-rb.size:])
		rb.start = 0
		rb.length = rb.size
		return dropped
	}

	dropped := 0
	for _, b := range data {
		end := (rb.start + rb.length) % rb.size
		rb.buffer[end] = b
		if rb.length == rb.size {
			rb.start = (rb.start + 1) % rb.size
			dropped++
		} else {
			rb.length++
		}
	}
	return dropped
}

// Drain returns the buffered bytes, oldest first, and empties the buffer.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.length)
	for i := 0; i < rb.length; i++ {
		out[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	rb.start = 0
	rb.length = 0
	return out
}

// Available returns the number of buffered bytes.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start = 0
	rb.length = 0
}
