// ABOUTME: Byte ring buffer between the caller and a playback callback
// ABOUTME: Thread-safe circular buffer with underrun fill
package output

import (
	"sync"
)

// RingBuffer provides thread-safe circular buffer for audio bytes
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int // Number of bytes currently in buffer
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with given capacity (in bytes)
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
	}
}

// Write adds as many bytes as fit and returns how many were taken
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if free := rb.size - rb.count; n > free {
		n = free
	}

	first := copy(rb.buffer[rb.writePos:], data[:n])
	copy(rb.buffer, data[first:n])

	rb.writePos = (rb.writePos + n) % rb.size
	rb.count += n
	return n
}

// Read retrieves up to len(p) bytes. On underrun the rest of p is set to fill.
func (rb *RingBuffer) Read(p []byte, fill byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n > rb.count {
		n = rb.count
	}

	end := rb.readPos + n
	if end <= rb.size {
		copy(p, rb.buffer[rb.readPos:end])
	} else {
		first := copy(p, rb.buffer[rb.readPos:])
		copy(p[first:n], rb.buffer[:n-first])
	}
	rb.readPos = (rb.readPos + n) % rb.size
	rb.count -= n

	for i := n; i < len(p); i++ {
		p[i] = fill
	}
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free bytes in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Reset discards buffered data
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos, rb.writePos, rb.count = 0, 0, 0
}
