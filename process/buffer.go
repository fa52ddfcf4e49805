package process

import (
	"sync"
)

const defaultMaxOutputBytes = 64 * 1024 * 1024 // per stream

// headBuffer keeps the first N bytes written to it and counts the rest, so a
// runaway program cannot exhaust memory while the start of its output, where
// expectations look, is preserved.
type headBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

func newHeadBuffer(maxBytes int) *headBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}
	return &headBuffer{maxBytes: maxBytes}
}

// Write never fails so the child is never blocked on a full pipe.
func (b *headBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	if room := b.maxBytes - len(b.contents); room > 0 {
		if len(p) > room {
			b.contents = append(b.contents, p[:room]...)
		} else {
			b.contents = append(b.contents, p...)
		}
	}
	return len(p), nil
}

func (b *headBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

func (b *headBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *headBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents)) < b.total
}
