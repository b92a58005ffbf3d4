package visual

import "sync"

// SampleSource provides the most recent raw samples of a live audio stream.
// Implementations are single-writer; ReadWindow may be called concurrently
// with writes.
type SampleSource interface {
	// ReadWindow copies the most recent samples into dst in chronological
	// order and returns the number of bytes written.
	ReadWindow(dst []byte) int

	// Close releases the underlying stream resources.
	Close() error
}

// StreamBuffer is a fixed-size circular sample buffer that adapts a pushed
// PCM stream (microphone callback, inbound audio frames) to a SampleSource.
// Old data is overwritten when full.
type StreamBuffer struct {
	mu       sync.Mutex
	data     []byte
	writePos int
	filled   int
	closed   bool
}

// NewStreamBuffer creates a buffer holding size bytes of s16le PCM. The size
// should be at least the analyzer window.
func NewStreamBuffer(size int) *StreamBuffer {
	if size < 2 {
		size = 2
	}
	size -= size % 2 // whole samples only
	return &StreamBuffer{data: make([]byte, size)}
}

// Write appends PCM data, overwriting the oldest data if necessary.
func (b *StreamBuffer) Write(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, v := range pcm {
		b.data[b.writePos] = v
		b.writePos = (b.writePos + 1) % len(b.data)
		if b.filled < len(b.data) {
			b.filled++
		}
	}
}

// ReadWindow copies the newest min(len(dst), filled) bytes into the front of
// dst in chronological order.
func (b *StreamBuffer) ReadWindow(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(dst)
	if n > b.filled {
		n = b.filled
	}
	n -= n % 2

	// Walk backwards from the write position.
	pos := b.writePos
	for i := n - 1; i >= 0; i-- {
		pos--
		if pos < 0 {
			pos = len(b.data) - 1
		}
		dst[i] = b.data[pos]
	}
	return n
}

// Reset discards all buffered samples.
func (b *StreamBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writePos = 0
	b.filled = 0
}

// Close marks the buffer closed; further writes are dropped.
func (b *StreamBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.writePos = 0
	b.filled = 0
	return nil
}
