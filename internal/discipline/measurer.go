package discipline

import (
	"sync/atomic"
	"time"
)

const (
	DefaultNominalHz     = 70_000_000
	DefaultTimerPeriod   = 65536
	DefaultSanityFloor   = 700 * time.Millisecond
	DefaultSanityCeiling = 1300 * time.Millisecond
)

// Measurement is the result of one GPS PPS capture edge.
type Measurement struct {
	// Ticks is the oscillator count over the last GPS second.
	Ticks uint32
	// Error is Ticks minus the nominal count.
	Error int32
	// Valid is false for the first edge and for edges outside the sanity
	// window. Ticks and Error are zero then.
	Valid bool
	// PPSError is the alignment of the local PPS output with this edge,
	// in ticks, minus one nominal second, folded above minus half a second.
	PPSError int32
	// GapMillis is the wall-clock gap since the previous edge minus one second.
	GapMillis int32
	// Early marks an edge inside the sanity floor. It did not move the
	// reference edge.
	Early bool
	// Adjusting is set by the controller when the correction was applied.
	Adjusting bool
}

// Measurer turns capture events into per-second tick counts.
//
// Overflow and PPSOutput may be called from producer goroutines; Capture and
// the remaining state belong to the control loop.
type Measurer struct {
	period  uint32
	nominal uint32
	floor   time.Duration
	ceiling time.Duration

	timerOverflows atomic.Uint32
	ppsOverflows   atomic.Uint32
	ppsCapture     atomic.Uint32
	ppsOutSeen     atomic.Bool
	uptime         atomic.Uint32

	previous uint32
	first    bool
	lastEdge time.Time
	edges    uint64
	rejected uint64
}

// NewMeasurer accepts edges spaced within [floor, ceiling). Zero values
// take the defaults.
func NewMeasurer(nominal, period uint32, floor, ceiling time.Duration) *Measurer {
	if nominal == 0 {
		nominal = DefaultNominalHz
	}
	if period == 0 {
		period = DefaultTimerPeriod
	}
	if floor <= 0 {
		floor = DefaultSanityFloor
	}
	if ceiling <= 0 {
		ceiling = DefaultSanityCeiling
	}
	return &Measurer{period: period, nominal: nominal, floor: floor, ceiling: ceiling, first: true}
}

// Overflow records n elapsed timer periods.
func (m *Measurer) Overflow(n uint32) {
	m.timerOverflows.Add(n)
	m.ppsOverflows.Add(n)
}

// PPSOutput records a local PPS output edge latched at capture.
func (m *Measurer) PPSOutput(capture uint32) {
	m.ppsCapture.Store(capture)
	m.ppsOverflows.Store(0)
	m.ppsOutSeen.Store(true)
	m.uptime.Add(1)
}

// Uptime counts local PPS output pulses. Without a PPS output it counts
// GPS edges instead.
func (m *Measurer) Uptime() uint32 {
	if m.ppsOutSeen.Load() {
		return m.uptime.Load()
	}
	return uint32(m.edges)
}

// PPSOutputSeen reports whether any local PPS output edge was recorded.
func (m *Measurer) PPSOutputSeen() bool { return m.ppsOutSeen.Load() }

// Capture processes a GPS PPS edge latched at capture and observed at at.
func (m *Measurer) Capture(capture uint32, at time.Time) Measurement {
	m.edges++
	var meas Measurement

	// Unsigned arithmetic wraps the same way the hardware counter does. An
	// output edge latched after this one lands below minus half a second and
	// is folded back, so it reads as a small lead.
	meas.PPSError = int32(capture - m.ppsCapture.Load() + m.ppsOverflows.Load()*m.period - m.nominal)
	if meas.PPSError < -int32(m.nominal/2) {
		meas.PPSError += int32(m.nominal)
	}

	gap := at.Sub(m.lastEdge)
	if !m.first {
		meas.GapMillis = int32((gap - time.Second) / time.Millisecond)
	}
	switch {
	case m.first:
	case gap < m.floor:
		// A glitch between two real edges. Keep the reference and the
		// overflow count so the next real edge still spans one second.
		m.rejected++
		meas.Early = true
		return meas
	case gap < m.ceiling:
		meas.Ticks = capture - m.previous + m.timerOverflows.Load()*m.period
		meas.Error = int32(meas.Ticks - m.nominal)
		meas.Valid = true
	default:
		m.rejected++
	}

	m.previous = capture
	m.timerOverflows.Store(0)
	m.first = false
	m.lastEdge = at
	return meas
}

// Edges counts all capture edges; Rejected those that failed the sanity check.
func (m *Measurer) Edges() uint64    { return m.edges }
func (m *Measurer) Rejected() uint64 { return m.rejected }

func (m *Measurer) Nominal() uint32 { return m.nominal }
