package process

import (
	"bytes"
	"sync"
)

// cappedBuffer accumulates child output up to a byte limit. Writes past
// the cap are dropped silently; the child keeps a healthy pipe either way.
// A limit of 0 means unlimited.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 {
		remaining := b.limit - b.buf.Len()
		if remaining <= 0 {
			return len(p), nil
		}
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
			return len(p), nil
		}
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
