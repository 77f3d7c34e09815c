package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer. It implements io.Writer
// and silently overwrites the oldest data when full, so it always holds the
// most recent log output for crash dumps.
type RingBuffer struct {
	mu   sync.Mutex
	data []byte
	size int
	w    int
	full bool
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 4 * 1024 * 1024
	}
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. Writes wrap around when the buffer is full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= rb.size {
		// Oversized write: only the last size bytes survive anyway.
		copy(rb.data, p[n-rb.size:])
		rb.w = 0
		rb.full = true
		return n, nil
	}

	head := rb.size - rb.w
	if n <= head {
		copy(rb.data[rb.w:], p)
		rb.w += n
		if rb.w == rb.size {
			rb.w = 0
			rb.full = true
		}
	} else {
		copy(rb.data[rb.w:], p[:head])
		copy(rb.data, p[head:])
		rb.w = n - head
		rb.full = true
	}
	return n, nil
}

// Bytes returns the buffer contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full {
		out := make([]byte, rb.w)
		copy(out, rb.data[:rb.w])
		return out
	}

	out := make([]byte, rb.size)
	copy(out, rb.data[rb.w:])
	copy(out[rb.size-rb.w:], rb.data[:rb.w])
	return out
}

// DumpToFile writes the buffer contents to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
