package discipline

import "math"

// Statistics smooths per-second tick counts into a frequency error estimate.
type Statistics interface {
	Add(ticks uint32)
	// Error is the smoothed error in ticks per second.
	Error() int32
	// PPB is the smoothed error in hundredths of a part per billion.
	PPB() int32
	Locked() bool
	Samples() int
	Reset()
}

const (
	DefaultAveragerWindow = 20
	DefaultAveragerAlpha  = 0.1
	// DefaultLockThreshold is 1.00 ppb.
	DefaultLockThreshold = 100
)

// Averager is a simple moving average over the first Window samples that
// then continues as an exponential moving average seeded with it.
type Averager struct {
	nominal       float64
	window        int
	alpha         float64
	lockThreshold int32

	sum   float64
	count int
	value float64
}

// NewAverager returns an Averager for an oscillator of nominal ticks per
// second. lockThreshold is in hundredths of a ppb.
func NewAverager(nominal uint32, window int, alpha float64, lockThreshold int32) *Averager {
	if window <= 0 {
		window = DefaultAveragerWindow
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAveragerAlpha
	}
	if lockThreshold <= 0 {
		lockThreshold = DefaultLockThreshold
	}
	return &Averager{nominal: float64(nominal), window: window, alpha: alpha, lockThreshold: lockThreshold}
}

func (a *Averager) Add(ticks uint32) {
	x := float64(ticks) - a.nominal
	if a.count < a.window {
		a.sum += x
		a.count++
		a.value = a.sum / float64(a.count)
		return
	}
	a.count++
	a.value += a.alpha * (x - a.value)
}

func (a *Averager) Error() int32 { return clampInt32(math.Round(a.value)) }

func (a *Averager) PPB() int32 {
	if a.nominal == 0 {
		return 0
	}
	return clampInt32(math.Round(a.value / a.nominal * 1e11))
}

func (a *Averager) Locked() bool {
	if a.count < a.window {
		return false
	}
	p := a.PPB()
	return p <= a.lockThreshold && p >= -a.lockThreshold
}

func (a *Averager) Samples() int { return a.count }

func (a *Averager) Reset() {
	a.sum, a.count, a.value = 0, 0, 0
}

func clampInt32(v float64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
