// Package sim stands in for the hardware: a voltage-controlled oscillator
// steered by the PWM duty, a virtual capture timer with a GPS PPS and a local
// PPS output, and a receiver emitting NMEA over a fake serial port.
package sim

import (
	"sync"
)

const (
	DefaultNominalHz = 70_000_000
	DefaultCenter    = 38000
	// DefaultGain is the frequency change per duty LSB, in Hz.
	DefaultGain = 0.01
)

type OscillatorConfig struct {
	NominalHz float64
	// OffsetHz is the error at the center duty.
	OffsetHz float64
	Gain     float64
	Center   uint16
}

// Oscillator is a linear VCXO model. It implements the actuator driver
// interface, so a Register can steer it like a real PWM output.
type Oscillator struct {
	cfg OscillatorConfig

	mu    sync.Mutex
	duty  uint16
	pwmHz int
}

func NewOscillator(cfg OscillatorConfig) *Oscillator {
	if cfg.NominalHz <= 0 {
		cfg.NominalHz = DefaultNominalHz
	}
	if cfg.Gain == 0 {
		cfg.Gain = DefaultGain
	}
	if cfg.Center == 0 {
		cfg.Center = DefaultCenter
	}
	return &Oscillator{cfg: cfg, duty: cfg.Center}
}

func (o *Oscillator) SetFrequencyHz(hz int) error {
	o.mu.Lock()
	o.pwmHz = hz
	o.mu.Unlock()
	return nil
}

func (o *Oscillator) SetDuty(duty uint16) error {
	o.mu.Lock()
	o.duty = duty
	o.mu.Unlock()
	return nil
}

func (o *Oscillator) Close() error { return nil }

func (o *Oscillator) Duty() uint16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duty
}

// Frequency is the current output frequency in Hz.
func (o *Oscillator) Frequency() float64 {
	o.mu.Lock()
	d := o.duty
	o.mu.Unlock()
	return o.cfg.NominalHz + o.cfg.OffsetHz + (float64(d)-float64(o.cfg.Center))*o.cfg.Gain
}

// IdealDuty is the duty that cancels the offset.
func (o *Oscillator) IdealDuty() float64 {
	return float64(o.cfg.Center) - o.cfg.OffsetHz/o.cfg.Gain
}
