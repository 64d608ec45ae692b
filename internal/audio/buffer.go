package audio

import (
	"sync"
)

// RingBuffer accumulates inbound PCM for one utterance. When full, the oldest
// audio is overwritten so a runaway stream keeps only its most recent window.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int
	length int
	mu     sync.RWMutex
}

// NewRingBuffer creates a buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < BytesPerSample {
		size = BytesPerSample
	}
	// keep sample alignment when overwriting
	size -= size % BytesPerSample
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data and returns how many old bytes were overwritten to make room.
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
	if over := rb.length + len(data) - rb.size; over > 0 {
		dropped = over
		rb.start = (rb.start + over) % rb.size
		rb.length -= over
	}

	pos := (rb.start + rb.length) % rb.size
	n := copy(rb.buffer[pos:], data)
	copy(rb.buffer, data[n:])
	rb.length += len(data)

	return dropped
}

// Bytes returns a contiguous copy of the buffered audio, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]byte, rb.length)
	n := copy(out, rb.buffer[rb.start:min(rb.start+rb.length, rb.size)])
	copy(out[n:], rb.buffer[:rb.length-n])
	return out
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.length
}

// Cap returns the maximum number of bytes retained.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// DurationMs is the buffered playback length at sampleRate.
func (rb *RingBuffer) DurationMs(sampleRate int) int64 {
	return DurationMs(rb.Len(), sampleRate)
}

// Clear drops all buffered audio.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.length = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.length == 0
}
