package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPeriod is the wrap length of the 16-bit capture timer.
const DefaultPeriod = 65536

// Counter models a free-running capture timer. It turns absolute oscillator
// tick counts into the latched register value plus the number of timer
// overflows since the previous latch.
//
// Emit holds the counter lock while sending so that overflows are always
// delivered ahead of the edge they precede, even with several producers.
type Counter struct {
	mu     sync.Mutex
	period uint64
	wraps  uint64
	primed bool

	dropped atomic.Uint64
}

func NewCounter(period uint32) *Counter {
	if period == 0 {
		period = DefaultPeriod
	}
	return &Counter{period: uint64(period)}
}

func (c *Counter) Period() uint32 { return uint32(c.period) }

// Dropped reports events that did not fit in the channel.
func (c *Counter) Dropped() uint64 { return c.dropped.Load() }

// Emit latches ticks and sends the pending overflow count (if any) followed
// by an event of the given kind. It never blocks. An overflow count that
// cannot be delivered is carried to the next latch.
//
// Producers timestamp independently, so a latch may be older than the one
// before it. The overflow count then wraps below zero modulo 2^32, which the
// consumer's unsigned arithmetic absorbs.
func (c *Counter) Emit(out chan<- Event, kind Kind, ticks uint64, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	wraps := ticks / c.period
	if !c.primed {
		c.wraps = wraps
		c.primed = true
	}
	if wraps != c.wraps {
		select {
		case out <- Event{Kind: Overflow, Count: uint32(wraps - c.wraps), At: at}:
			c.wraps = wraps
		default:
			c.dropped.Add(1)
			return false
		}
	}

	select {
	case out <- Event{Kind: kind, Value: uint32(ticks % c.period), At: at}:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// TickClock converts wall-clock instants to oscillator ticks at a fixed rate.
type TickClock struct {
	Rate  uint64
	Epoch time.Time
}

func (c TickClock) Ticks(at time.Time) uint64 {
	d := at.Sub(c.Epoch)
	if d < 0 {
		return 0
	}
	sec := uint64(d / time.Second)
	ns := uint64(d % time.Second)
	return sec*c.Rate + ns*c.Rate/uint64(time.Second)
}
