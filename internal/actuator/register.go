// Package actuator holds the oscillator tuning register and writes it to a
// PWM output.
package actuator

import (
	"log"
	"math"
	"sync"
)

// OCXO models with known tuning midpoints.
const (
	OCXOIsotemp = "isotemp"
	OCXOOX256B  = "ox256b"
	OCXOUnknown = "unknown"
)

// DefaultDuty returns the starting register value for an OCXO model.
func DefaultDuty(model string) uint16 {
	if model == OCXOOX256B {
		return 54000
	}
	return 38000
}

// Register is the 16-bit duty register. Updates saturate at the numeric
// bounds and never wrap. Safe for concurrent use.
type Register struct {
	mu      sync.Mutex
	drv     Driver
	duty    uint16
	writes  uint64
	lastErr error
}

// NewRegister writes initial through drv; LastError reports the outcome.
// A nil drv keeps the value only.
func NewRegister(drv Driver, initial uint16) *Register {
	if drv == nil {
		drv = nopDriver{}
	}
	r := &Register{drv: drv}
	_ = r.SetDuty(initial)
	return r
}

// ApplyDelta adds delta to the register with saturation and returns the
// new value.
func (r *Register) ApplyDelta(delta int32) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := int64(r.duty) + int64(delta)
	if v < 0 {
		v = 0
	} else if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	r.writeLocked(uint16(v))
	return r.duty
}

// SetDuty replaces the register value.
func (r *Register) SetDuty(duty uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(duty)
}

func (r *Register) writeLocked(duty uint16) error {
	r.duty = duty
	r.writes++
	err := r.drv.SetDuty(duty)
	// Log transitions only.
	if err != nil && r.lastErr == nil {
		log.Printf("actuator: set duty %d failed: %v", duty, err)
	} else if err == nil && r.lastErr != nil {
		log.Printf("actuator: writes recovered duty=%d", duty)
	}
	r.lastErr = err
	return err
}

func (r *Register) Duty() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duty
}

// LastError is the result of the latest driver write.
func (r *Register) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Register) Writes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *Register) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drv.Close()
}
