package executor

import "sync"

// tailBuffer is an io.Writer that keeps only the most recent max bytes.
// Recent output is what the user wants to see; old output past the cap is
// dropped as it arrives so a chatty command cannot grow memory unbounded.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		overflow := len(b.buf) - b.max
		copy(b.buf, b.buf[overflow:])
		b.buf = b.buf[:b.max]
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
