package gps

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWriteWait bounds how long Send waits for the previous write.
const DefaultWriteWait = 20 * time.Millisecond

var (
	errNoWriter = errors.New("gps: port not open")
	errBusy     = errors.New("gps: previous write still in flight")
)

// Transmitter writes chunks to a port in the background with at most one
// write in flight. A chunk that cannot start within the wait bound is
// dropped and counted; nothing is queued.
type Transmitter struct {
	wait time.Duration
	sem  *semaphore.Weighted

	mu sync.Mutex
	w  io.Writer

	sent, dropped atomic.Uint64
	lastErr       atomic.Value // string
}

func NewTransmitter(wait time.Duration) *Transmitter {
	if wait <= 0 {
		wait = DefaultWriteWait
	}
	return &Transmitter{wait: wait, sem: semaphore.NewWeighted(1)}
}

// SetWriter swaps the destination port. A nil writer drops everything.
func (t *Transmitter) SetWriter(w io.Writer) {
	t.mu.Lock()
	t.w = w
	t.mu.Unlock()
}

func (t *Transmitter) writer() io.Writer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w
}

// Send copies p and starts writing it. It reports false when p was dropped.
func (t *Transmitter) Send(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	if !t.acquire(t.wait) {
		t.dropped.Add(uint64(len(p)))
		return false
	}
	buf := append([]byte(nil), p...)
	go func() {
		defer t.sem.Release(1)
		t.write(buf)
	}()
	return true
}

// WriteWait writes p synchronously once the in-flight write is done,
// waiting at most d for it.
func (t *Transmitter) WriteWait(p []byte, d time.Duration) error {
	if !t.acquire(d) {
		t.dropped.Add(uint64(len(p)))
		return errBusy
	}
	defer t.sem.Release(1)
	w := t.writer()
	if w == nil {
		return errNoWriter
	}
	n, err := w.Write(p)
	t.sent.Add(uint64(n))
	return err
}

func (t *Transmitter) acquire(d time.Duration) bool {
	if t.sem.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return t.sem.Acquire(ctx, 1) == nil
}

func (t *Transmitter) write(p []byte) {
	w := t.writer()
	if w == nil {
		t.lastErr.Store(errNoWriter.Error())
		t.dropped.Add(uint64(len(p)))
		return
	}
	n, err := w.Write(p)
	t.sent.Add(uint64(n))
	if err != nil {
		t.lastErr.Store(err.Error())
		t.dropped.Add(uint64(len(p) - n))
	}
}

func (t *Transmitter) Sent() uint64    { return t.sent.Load() }
func (t *Transmitter) Dropped() uint64 { return t.dropped.Load() }

func (t *Transmitter) LastError() string {
	v, _ := t.lastErr.Load().(string)
	return v
}
