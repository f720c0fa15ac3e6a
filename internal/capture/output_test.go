package capture

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeLine struct {
	mu     sync.Mutex
	values []int
	closed bool
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLine) snapshot() ([]int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...), l.closed
}

func openFakeOutput(t *testing.T, cfg OutputConfig, bus *Bus) (*Output, *fakeLine) {
	t.Helper()
	line := &fakeLine{}
	old := openOutputLineFn
	openOutputLineFn = func(int) (outputLine, error) { return line, nil }
	t.Cleanup(func() { openOutputLineFn = old })

	o, err := OpenOutput(cfg, bus)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	return o, line
}

func nextPPSOut(t *testing.T, bus *Bus) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-bus.Events():
			if ev.Kind == PPSOut {
				return ev
			}
		case <-timeout:
			t.Fatalf("no pps output edge")
		}
	}
}

func TestOutput_Pulses(t *testing.T) {
	bus := NewBus(1_000_000, 0, time.Now(), 64)
	o, line := openFakeOutput(t, OutputConfig{Width: 5 * time.Millisecond, Every: 20 * time.Millisecond}, bus)
	o.Start(context.Background())

	for i := 0; i < 3; i++ {
		nextPPSOut(t, bus)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if o.Pulses() < 3 {
		t.Fatalf("pulses=%d", o.Pulses())
	}
	values, closed := line.snapshot()
	if !closed {
		t.Fatalf("line not closed")
	}
	for i, v := range values {
		if v != (i+1)%2 {
			t.Fatalf("line values %v", values)
		}
	}
}

func TestOutput_ResyncMovesNextEdge(t *testing.T) {
	bus := NewBus(1_000_000, 0, time.Now(), 64)
	every := 50 * time.Millisecond
	o, _ := openFakeOutput(t, OutputConfig{Width: 5 * time.Millisecond, Every: every}, bus)
	o.Start(context.Background())
	defer o.Close()

	nextPPSOut(t, bus)
	at := time.Now().Add(every)
	o.Resync(at)

	deadline := time.Now().Add(2 * time.Second)
	for o.Syncs() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("resync not applied")
		}
		time.Sleep(time.Millisecond)
	}
	drain(bus.ch)

	ev := nextPPSOut(t, bus)
	want := at.Add(every)
	if ev.At.Before(want) || ev.At.Sub(want) > 20*time.Millisecond {
		t.Fatalf("edge at %v, want %v", ev.At.Sub(at), every)
	}
}

func TestOpenOutput_RejectsWidePulse(t *testing.T) {
	old := openOutputLineFn
	openOutputLineFn = func(int) (outputLine, error) { return &fakeLine{}, nil }
	defer func() { openOutputLineFn = old }()

	if _, err := OpenOutput(OutputConfig{Width: time.Second, Every: time.Second}, NewBus(1, 0, time.Now(), 1)); err == nil {
		t.Fatalf("expected error")
	}
}
