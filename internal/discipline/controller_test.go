package discipline

import (
	"context"
	"errors"
	"testing"
	"time"

	"gpsdo/internal/capture"
)

type fakeActuator struct {
	duty   int32
	deltas []int32
}

func (a *fakeActuator) ApplyDelta(d int32) uint16 {
	a.deltas = append(a.deltas, d)
	a.duty += d
	if a.duty < 0 {
		a.duty = 0
	}
	if a.duty > 65535 {
		a.duty = 65535
	}
	return uint16(a.duty)
}

func (a *fakeActuator) Duty() uint16 { return uint16(a.duty) }

type fakeAligner struct {
	calls []time.Time
	// onResync lets the feed realign the simulated output.
	onResync func()
}

func (a *fakeAligner) Resync(at time.Time) {
	a.calls = append(a.calls, at)
	if a.onResync != nil {
		a.onResync()
	}
}

// feed drives a controller the way a capture source would.
type feed struct {
	t       *testing.T
	c       *Controller
	counter *capture.Counter
	ch      chan capture.Event
	ticks   uint64
	at      time.Time
}

func newFeed(t *testing.T, c *Controller) *feed {
	t.Helper()
	return &feed{
		t:       t,
		c:       c,
		counter: capture.NewCounter(DefaultTimerPeriod),
		ch:      make(chan capture.Event, 8),
		at:      time.Unix(1_700_000_000, 0),
	}
}

func (f *feed) emit(kind capture.Kind, ticks uint64, at time.Time) {
	f.t.Helper()
	if !f.counter.Emit(f.ch, kind, ticks, at) {
		f.t.Fatalf("event channel full")
	}
	for len(f.ch) > 0 {
		f.c.Handle(<-f.ch)
	}
}

// edge advances one GPS second during which the oscillator ran at hz.
func (f *feed) edge(hz uint64) {
	f.ticks += hz
	f.at = f.at.Add(time.Second)
	f.emit(capture.Capture, f.ticks, f.at)
}

// ppsOut emits a local output pulse offset ticks after the last GPS edge.
func (f *feed) ppsOut(offset uint64) {
	f.emit(capture.PPSOut, f.ticks+offset, f.at.Add(time.Millisecond))
}

func TestController_WarmupGatesActuatorOnly(t *testing.T) {
	act := &fakeActuator{duty: 38000}
	c, err := New(Config{Warmup: 3 * time.Second, Algorithm: Fredzo, Factor: 10}, act, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)

	for i := 0; i < 3; i++ {
		f.edge(DefaultNominalHz + 5)
	}
	if len(act.deltas) != 0 {
		t.Fatalf("actuator moved during warmup: %v", act.deltas)
	}
	snap := c.Snapshot()
	if snap.Samples != 2 || snap.Error != 5 || snap.Warm {
		t.Fatalf("snapshot during warmup: %+v", snap)
	}

	f.edge(DefaultNominalHz + 5)
	if len(act.deltas) != 1 || act.deltas[0] != -25 {
		t.Fatalf("deltas=%v want [-25]", act.deltas)
	}
	snap = c.Snapshot()
	if !snap.Warm || !snap.Adjusting || snap.Correction != -25 || snap.Duty != 38000-25 {
		t.Fatalf("snapshot after warmup: %+v", snap)
	}
	if snap.Ticks != DefaultNominalHz+5 {
		t.Fatalf("ticks=%d", snap.Ticks)
	}
}

func TestController_SlowOscillatorRaisesDuty(t *testing.T) {
	act := &fakeActuator{duty: 38000}
	c, err := New(Config{Algorithm: Dankar}, act, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)
	f.edge(DefaultNominalHz)
	f.edge(DefaultNominalHz - 3)
	if len(act.deltas) != 1 || act.deltas[0] != 9 {
		t.Fatalf("deltas=%v want [9]", act.deltas)
	}
}

func TestController_GlitchEdgeLeavesStatsAlone(t *testing.T) {
	act := &fakeActuator{duty: 38000}
	c, err := New(Config{Algorithm: Fredzo, Factor: 10}, act, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)
	f.edge(DefaultNominalHz + 5)
	f.edge(DefaultNominalHz + 5)

	f.emit(capture.Capture, f.ticks+DefaultNominalHz/5, f.at.Add(200*time.Millisecond))
	snap := c.Snapshot()
	if snap.Rejected != 1 || snap.Samples != 1 || snap.Error != 5 || snap.Ticks != DefaultNominalHz+5 {
		t.Fatalf("snapshot after glitch: %+v", snap)
	}
	if len(act.deltas) != 1 {
		t.Fatalf("deltas=%v want one correction", act.deltas)
	}

	f.edge(DefaultNominalHz + 5)
	snap = c.Snapshot()
	if snap.Samples != 2 || snap.Error != 5 || snap.Ticks != DefaultNominalHz+5 {
		t.Fatalf("snapshot after real edge: %+v", snap)
	}
	if len(act.deltas) != 2 || act.deltas[0] != -25 || act.deltas[1] != -25 {
		t.Fatalf("deltas=%v want [-25 -25]", act.deltas)
	}
}

func TestController_ResyncAfterDelay(t *testing.T) {
	act := &fakeActuator{duty: 38000}
	offset := uint64(35000)
	align := &fakeAligner{}
	align.onResync = func() { offset = 1 }

	c, err := New(Config{
		Warmup:          time.Hour,
		ResyncEnabled:   true,
		ResyncThreshold: 30000,
		ResyncDelay:     2,
	}, act, align, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)

	f.edge(DefaultNominalHz)
	for i := 0; i < 3; i++ {
		f.ppsOut(offset)
		f.edge(DefaultNominalHz)
		if i < 2 && len(align.calls) != 0 {
			t.Fatalf("resync fired after %d samples", i+1)
		}
	}
	if len(align.calls) != 1 {
		t.Fatalf("resync calls=%d want 1", len(align.calls))
	}
	if !align.calls[0].Equal(f.at) {
		t.Fatalf("resync at %v want %v", align.calls[0], f.at)
	}

	for i := 0; i < 20; i++ {
		f.ppsOut(offset)
		f.edge(DefaultNominalHz)
	}
	snap := c.Snapshot()
	if snap.SyncCount != 1 || snap.ShiftCount != 0 {
		t.Fatalf("sync=%d shift=%d", snap.SyncCount, snap.ShiftCount)
	}
	if snap.PPSError != -1 {
		t.Fatalf("pps error=%d want -1", snap.PPSError)
	}
}

func TestController_ForceSyncAndAutoSyncOnLock(t *testing.T) {
	act := &fakeActuator{duty: 38000}
	align := &fakeAligner{}
	c, err := New(Config{
		ResyncEnabled:  true,
		ResyncDelay:    10,
		AutoSync:       true,
		AveragerWindow: 3,
	}, act, align, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)

	f.edge(DefaultNominalHz)
	f.ppsOut(1)
	f.edge(DefaultNominalHz)
	f.ppsOut(1)
	f.edge(DefaultNominalHz)
	if len(align.calls) != 0 {
		t.Fatalf("resync before lock")
	}
	f.ppsOut(1)
	f.edge(DefaultNominalHz)
	if !c.Snapshot().Locked {
		t.Fatalf("not locked")
	}
	if len(align.calls) != 1 {
		t.Fatalf("auto sync calls=%d want 1", len(align.calls))
	}

	for i := 0; i < 5; i++ {
		f.ppsOut(1)
		f.edge(DefaultNominalHz)
	}
	if len(align.calls) != 1 {
		t.Fatalf("auto sync repeated: %d", len(align.calls))
	}

	c.ForceSync()
	f.ppsOut(1)
	f.edge(DefaultNominalHz)
	if len(align.calls) != 2 {
		t.Fatalf("forced sync calls=%d want 2", len(align.calls))
	}
}

func TestController_AutoSaveWhileLocked(t *testing.T) {
	act := &fakeActuator{duty: 40000}
	var saved []uint16
	c, err := New(Config{
		AveragerWindow:   2,
		AutoSaveInterval: 10 * time.Second,
		SaveDuty: func(d uint16) error {
			saved = append(saved, d)
			return nil
		},
	}, act, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)

	f.edge(DefaultNominalHz) // start
	for i := 1; i <= 24; i++ {
		f.edge(DefaultNominalHz)
	}
	if len(saved) != 1 || saved[0] != 40000 {
		t.Fatalf("saved=%v want [40000]", saved)
	}

	act.duty = 40007
	f.edge(DefaultNominalHz)
	if len(saved) != 2 || saved[1] != 40007 {
		t.Fatalf("saved=%v", saved)
	}
	if !c.Snapshot().LastSaveAt.Equal(f.at) {
		t.Fatalf("last save at=%v want %v", c.Snapshot().LastSaveAt, f.at)
	}
}

func TestController_AutoSaveErrorIsReported(t *testing.T) {
	act := &fakeActuator{duty: 40000}
	c, err := New(Config{
		AveragerWindow:   1,
		AutoSaveInterval: time.Second,
		SaveDuty:         func(uint16) error { return errors.New("disk full") },
	}, act, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := newFeed(t, c)
	f.edge(DefaultNominalHz)
	f.edge(DefaultNominalHz)
	if got := c.Snapshot().LastError; got != "disk full" {
		t.Fatalf("last error=%q", got)
	}
}

func TestController_SetAlgorithm(t *testing.T) {
	act := &fakeActuator{duty: 38000}
	c, err := New(Config{Algorithm: Fredzo}, act, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SetAlgorithm(Dankar, 20); err != nil {
		t.Fatalf("SetAlgorithm: %v", err)
	}
	f := newFeed(t, c)
	f.edge(DefaultNominalHz)
	f.edge(DefaultNominalHz + 3)
	if len(act.deltas) != 1 || act.deltas[0] != -18 {
		t.Fatalf("deltas=%v want [-18]", act.deltas)
	}
	snap := c.Snapshot()
	if snap.Algorithm != "dankar" || snap.Factor != 20 {
		t.Fatalf("snapshot algorithm=%s factor=%d", snap.Algorithm, snap.Factor)
	}
	if err := c.SetAlgorithm(AlgorithmKind(9), 1); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
}

func TestController_RunStopsOnCancelAndClose(t *testing.T) {
	c, err := New(Config{}, &fakeActuator{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch := make(chan capture.Event)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, ch) }()

	ch <- capture.Event{Kind: capture.Capture, At: time.Unix(1, 0)}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if c.Snapshot().Edges != 1 {
		t.Fatalf("edges=%d", c.Snapshot().Edges)
	}

	ch2 := make(chan capture.Event)
	close(ch2)
	if err := c.Run(context.Background(), ch2); err != nil {
		t.Fatalf("Run on closed channel: %v", err)
	}
}
