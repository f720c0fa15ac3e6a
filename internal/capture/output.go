package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultPulseWidth = 100 * time.Millisecond
	DefaultPulseEvery = time.Second

	// The last stretch before an edge is spun rather than slept to keep
	// timer latency out of the edge.
	spinWindow = time.Millisecond
)

type outputLine interface {
	SetValue(v int) error
	Close() error
}

var openOutputLineFn = openOutputLine

type OutputConfig struct {
	Pin   int
	Width time.Duration
	Every time.Duration
	// Now defaults to time.Now and must be the clock the Bus timestamps use.
	Now func() time.Time
}

// Output drives the local PPS output pin and reports each rising edge to the
// Bus as a PPSOut event. Resync moves the next edge to one period after a
// GPS edge.
type Output struct {
	cfg  OutputConfig
	line outputLine
	bus  *Bus

	resync chan time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pulses, syncs atomic.Uint64
	lastErr       atomic.Value // string
}

func OpenOutput(cfg OutputConfig, bus *Bus) (*Output, error) {
	if cfg.Width <= 0 {
		cfg.Width = DefaultPulseWidth
	}
	if cfg.Every <= 0 {
		cfg.Every = DefaultPulseEvery
	}
	if cfg.Width >= cfg.Every {
		return nil, fmt.Errorf("capture: pulse width %s must be shorter than period %s", cfg.Width, cfg.Every)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	line, err := openOutputLineFn(cfg.Pin)
	if err != nil {
		return nil, err
	}
	return &Output{cfg: cfg, line: line, bus: bus, resync: make(chan time.Time, 1)}, nil
}

// Start begins pulsing, first on the next whole period of the clock.
func (o *Output) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(1)
	go o.run(ctx)
}

// Resync schedules the next edge one period after at. It never blocks; a
// newer request replaces a pending one.
func (o *Output) Resync(at time.Time) {
	for {
		select {
		case o.resync <- at:
			return
		default:
		}
		select {
		case <-o.resync:
		default:
		}
	}
}

func (o *Output) Pulses() uint64 { return o.pulses.Load() }
func (o *Output) Syncs() uint64  { return o.syncs.Load() }

func (o *Output) LastError() string {
	v, _ := o.lastErr.Load().(string)
	return v
}

func (o *Output) Close() error {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	return o.line.Close()
}

func (o *Output) run(ctx context.Context) {
	defer o.wg.Done()
	next := o.cfg.Now().Truncate(o.cfg.Every).Add(o.cfg.Every)
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-o.resync:
			next = o.align(at)
			o.syncs.Add(1)
			continue
		case <-time.After(o.until(next) - spinWindow):
		}
		for o.cfg.Now().Before(next) {
		}

		o.set(1)
		o.bus.Edge(PPSOut, o.cfg.Now())
		o.pulses.Add(1)

		select {
		case <-ctx.Done():
			o.set(0)
			return
		case <-time.After(o.cfg.Width):
		}
		o.set(0)
		next = next.Add(o.cfg.Every)
		// Skip edges missed while the process was descheduled.
		if now := o.cfg.Now(); next.Before(now) {
			next = o.align(now)
		}
	}
}

func (o *Output) align(at time.Time) time.Time {
	next := at.Add(o.cfg.Every)
	now := o.cfg.Now()
	for !next.After(now) {
		next = next.Add(o.cfg.Every)
	}
	return next
}

func (o *Output) until(t time.Time) time.Duration {
	return t.Sub(o.cfg.Now())
}

func (o *Output) set(v int) {
	if err := o.line.SetValue(v); err != nil {
		o.lastErr.Store(err.Error())
	}
}
