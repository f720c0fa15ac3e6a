package actuator

import (
	"fmt"
	"strings"
)

// Driver is the minimal interface the register needs from a PWM backend.
//
// Duty is the full 16-bit register value; 65535 is (almost) always high.
// Close should be best-effort and leave the output where it is, so the
// oscillator keeps its last tuning.
type Driver interface {
	SetFrequencyHz(hz int) error
	SetDuty(duty uint16) error
	Close() error
}

// Config selects and configures a PWM backend.
type Config struct {
	// Backend is one of "sysfs", "periph" or "none".
	Backend string
	// Pin names the GPIO for the periph backend, e.g. "GPIO13".
	Pin string
	// Chip and Channel select /sys/class/pwm/pwmchipN/pwmM for sysfs.
	// Chip < 0 picks the first chip that exposes a channel.
	Chip    int
	Channel int
	// FrequencyHz is the PWM carrier frequency.
	FrequencyHz int
}

const DefaultFrequencyHz = 1000

var openSysfsFn = openSysfs
var openPeriphFn = openPeriph

// Open returns the driver named by cfg.Backend and programs its frequency.
func Open(cfg Config) (Driver, error) {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	var (
		drv Driver
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nopDriver{}, nil
	case "sysfs":
		drv, err = openSysfsFn(cfg.Chip, cfg.Channel)
	case "periph":
		drv, err = openPeriphFn(cfg.Pin)
	default:
		return nil, fmt.Errorf("actuator: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := drv.SetFrequencyHz(cfg.FrequencyHz); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("actuator: set pwm frequency: %w", err)
	}
	return drv, nil
}

// nopDriver keeps the register only.
type nopDriver struct{}

func (nopDriver) SetFrequencyHz(int) error { return nil }
func (nopDriver) SetDuty(uint16) error     { return nil }
func (nopDriver) Close() error             { return nil }
