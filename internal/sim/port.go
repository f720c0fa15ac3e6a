package sim

import (
	"bytes"
	"io"
	"log"
	"sync"
	"time"
)

// Port is a fake serial port: reads return the receiver's sentences once
// per every, writes are recorded as commands sent to the receiver.
type Port struct {
	rcv   Receiver
	every time.Duration
	now   func() time.Time
	baud  int

	r *io.PipeReader
	w *io.PipeWriter

	mu  sync.Mutex
	got bytes.Buffer

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func OpenPort(rcv Receiver, baud int, every time.Duration, now func() time.Time) *Port {
	if every <= 0 {
		every = time.Second
	}
	if now == nil {
		now = time.Now
	}
	r, w := io.Pipe()
	p := &Port{
		rcv: rcv, every: every, now: now, baud: baud,
		r: r, w: w,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

// Opener adapts OpenPort to the serial open hook of the gps service.
func Opener(rcv Receiver, every time.Duration, now func() time.Time) func(path string, baud int) (io.ReadWriteCloser, error) {
	return func(path string, baud int) (io.ReadWriteCloser, error) {
		log.Printf("sim: receiver attached as %s baud=%d", path, baud)
		return OpenPort(rcv, baud, every, now), nil
	}
}

func (p *Port) run() {
	defer close(p.done)
	if b := p.rcv.Banner(); b != nil {
		if _, err := p.w.Write(b); err != nil {
			return
		}
	}
	t := time.NewTicker(p.every)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			if _, err := p.w.Write(p.rcv.Sentences(p.now())); err != nil {
				return
			}
		}
	}
}

func (p *Port) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got.Write(b)
}

// Written returns everything the host sent to the receiver.
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.got.Bytes()...)
}

func (p *Port) Baud() int { return p.baud }

func (p *Port) Close() error {
	p.once.Do(func() {
		close(p.stop)
		_ = p.r.Close()
		<-p.done
	})
	return nil
}
