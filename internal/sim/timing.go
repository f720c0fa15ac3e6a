package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gpsdo/internal/capture"
)

type TimingConfig struct {
	// Start is the virtual time of the first GPS edge.
	Start time.Time
	// Output enables the local PPS output, first firing OutputPhase ticks
	// after the first GPS edge.
	Output      bool
	OutputPhase uint64
	// JitterTicks is the standard deviation of the GPS edge, in ticks.
	JitterTicks float64
	Seed        uint64
}

type latch struct {
	at   time.Time
	tick uint64
}

// Timing counts oscillator ticks between virtual GPS seconds and latches
// them on a capture.Bus. It also plays the local PPS output and implements
// the discipline aligner.
type Timing struct {
	osc     *Oscillator
	bus     *capture.Bus
	nominal uint64
	cfg     TimingConfig
	rng     *rand.Rand

	mu      sync.Mutex
	now     time.Time
	exact   float64
	steps   uint64
	nextOut uint64
	history [8]latch
}

func NewTiming(cfg TimingConfig, osc *Oscillator, bus *capture.Bus) *Timing {
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	return &Timing{
		osc:     osc,
		bus:     bus,
		nominal: uint64(osc.cfg.NominalHz),
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(cfg.Seed, 0x9e3779b97f4a7c15)),
		now:     cfg.Start,
		nextOut: cfg.OutputPhase,
	}
}

// Step latches one GPS edge, preceded by any output edges that fall before
// it, and returns its virtual time.
func (t *Timing) Step() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.steps > 0 {
		t.now = t.now.Add(time.Second)
		t.exact += t.osc.Frequency()
	}
	t.steps++

	tick := uint64(t.exact)
	if t.cfg.JitterTicks > 0 {
		j := math.Round(t.rng.NormFloat64() * t.cfg.JitterTicks)
		if j < 0 && uint64(-j) > tick {
			j = 0
		}
		tick = uint64(int64(tick) + int64(j))
	}

	if t.cfg.Output {
		for t.nextOut <= tick {
			t.bus.EdgeTicks(capture.PPSOut, t.nextOut, t.timeOf(t.nextOut, tick))
			t.nextOut += t.nominal
		}
	}
	t.bus.EdgeTicks(capture.Capture, tick, t.now)
	copy(t.history[1:], t.history[:len(t.history)-1])
	t.history[0] = latch{at: t.now, tick: tick}
	return t.now
}

// timeOf places tick on the virtual clock, relative to the GPS edge at ref.
func (t *Timing) timeOf(tick, ref uint64) time.Time {
	d := float64(ref-tick) / t.osc.Frequency()
	return t.now.Add(-time.Duration(d * float64(time.Second)))
}

// Resync restarts the output on the tick after the GPS edge at at.
func (t *Timing) Resync(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tick := t.history[0].tick
	for _, l := range t.history {
		if l.at.Equal(at) {
			tick = l.tick
			break
		}
	}
	t.nextOut = tick + 1
	// An output edge between at and the latest latch already happened.
	for t.nextOut <= t.history[0].tick {
		t.nextOut += t.nominal
	}
}

func (t *Timing) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Run steps once per every until ctx is canceled.
func (t *Timing) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.Step()
		}
	}
}
