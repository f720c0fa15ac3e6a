package ringbuf

import "sync/atomic"

// Size is the fixed capacity of a Buffer. One slot is always kept free, so a
// Buffer holds at most Size-1 bytes.
const Size = 256

// Buffer is a single-producer/single-consumer byte queue.
//
// The producer (a serial RX goroutine) only calls Write; the consumer (the
// poll loop) only calls Read. Each index has exactly one writer, so no lock
// is needed. A full buffer rejects writes instead of overwriting unread data.
type Buffer struct {
	buf   [Size]byte
	read  atomic.Uint32
	write atomic.Uint32

	dropped atomic.Uint64
}

func next(i uint32) uint32 {
	return (i + 1) % Size
}

// Write appends c. It returns false and drops the byte when the buffer is full.
func (b *Buffer) Write(c byte) bool {
	w := b.write.Load()
	n := next(w)
	if n == b.read.Load() {
		b.dropped.Add(1)
		return false
	}
	b.buf[w] = c
	b.write.Store(n)
	return true
}

// WriteBytes writes p in order and returns how many bytes were accepted.
// Bytes after the first rejected one are dropped too.
func (b *Buffer) WriteBytes(p []byte) int {
	for i, c := range p {
		if !b.Write(c) {
			b.dropped.Add(uint64(len(p) - i - 1))
			return i
		}
	}
	return len(p)
}

// Read removes and returns the oldest byte.
func (b *Buffer) Read() (byte, bool) {
	r := b.read.Load()
	if r == b.write.Load() {
		return 0, false
	}
	c := b.buf[r]
	b.read.Store(next(r))
	return c, true
}

// Len reports the number of buffered bytes.
func (b *Buffer) Len() int {
	w := b.write.Load()
	r := b.read.Load()
	return int((w + Size - r) % Size)
}

// Dropped reports how many bytes were rejected because the buffer was full.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Reset discards buffered bytes. Only the consumer may call it.
func (b *Buffer) Reset() {
	b.read.Store(b.write.Load())
}
