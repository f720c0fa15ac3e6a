package capture

import "time"

const DefaultBuffer = 64

// Bus merges the edges of every producer into one event channel through a
// shared Counter, so all of them latch against the same virtual timer.
type Bus struct {
	clock   TickClock
	counter *Counter
	ch      chan Event
}

// NewBus returns a bus whose timer runs at rateHz from epoch and wraps every
// period ticks.
func NewBus(rateHz uint64, period uint32, epoch time.Time, buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		clock:   TickClock{Rate: rateHz, Epoch: epoch},
		counter: NewCounter(period),
		ch:      make(chan Event, buffer),
	}
}

// Edge latches a hardware edge observed at at.
func (b *Bus) Edge(kind Kind, at time.Time) bool {
	return b.counter.Emit(b.ch, kind, b.clock.Ticks(at), at)
}

// EdgeTicks latches an edge whose oscillator tick count is already known.
func (b *Bus) EdgeTicks(kind Kind, ticks uint64, at time.Time) bool {
	return b.counter.Emit(b.ch, kind, ticks, at)
}

func (b *Bus) Events() <-chan Event { return b.ch }

// Dropped counts events lost because the consumer fell behind.
func (b *Bus) Dropped() uint64 { return b.counter.Dropped() }
