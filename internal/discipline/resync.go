package discipline

import "sync/atomic"

const (
	DefaultResyncThreshold = 30000
	DefaultResyncDelay     = 10
)

// Resync debounces re-alignment of the local PPS output with the GPS edge.
//
// Observe runs on the control loop. Force may be called from any goroutine.
type Resync struct {
	Enabled   bool
	Threshold uint32
	Delay     uint32

	shiftCount uint32
	syncCount  uint32
	force      atomic.Bool
}

func NewResync(enabled bool, threshold, delay uint32) *Resync {
	if threshold == 0 {
		threshold = DefaultResyncThreshold
	}
	return &Resync{Enabled: enabled, Threshold: threshold, Delay: delay}
}

// Force requests a resync on the next observed edge.
func (r *Resync) Force() { r.force.Store(true) }

func (r *Resync) Forced() bool { return r.force.Load() }

// Observe feeds one PPS alignment error and reports whether the output
// must be re-aligned now.
func (r *Resync) Observe(ppsError int32) bool {
	forced := r.force.Load()
	mag := int64(ppsError)
	if mag < 0 {
		mag = -mag
	}
	if !r.Enabled || (mag < int64(r.Threshold) && !forced) {
		r.shiftCount = 0
		return false
	}

	r.shiftCount++
	if r.shiftCount <= r.Delay && !forced {
		return false
	}
	r.syncCount++
	r.shiftCount = 0
	r.force.Store(false)
	return true
}

func (r *Resync) ShiftCount() uint32 { return r.shiftCount }
func (r *Resync) SyncCount() uint32  { return r.syncCount }
