package actuator

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// periphPWM drives a GPIO pin through periph's PWM support, for boards
// where no sysfs pwmchip is exposed.
type periphPWM struct {
	pin  gpio.PinIO
	freq physic.Frequency
	duty uint16
}

func openPeriph(name string) (Driver, error) {
	if name == "" {
		return nil, fmt.Errorf("actuator: periph backend needs a pin name")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("actuator: periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("actuator: gpio pin %q not found", name)
	}
	return &periphPWM{pin: p, freq: DefaultFrequencyHz * physic.Hertz}, nil
}

func periphDuty(duty uint16) gpio.Duty {
	return gpio.Duty(int64(duty) * int64(gpio.DutyMax) / 65536)
}

func (d *periphPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	d.freq = physic.Frequency(hz) * physic.Hertz
	return d.pin.PWM(periphDuty(d.duty), d.freq)
}

func (d *periphPWM) SetDuty(duty uint16) error {
	d.duty = duty
	if err := d.pin.PWM(periphDuty(duty), d.freq); err != nil {
		return fmt.Errorf("actuator: pwm %s: %w", d.pin, err)
	}
	return nil
}

// Close leaves the pin running; Halt would stop the tuning voltage.
func (d *periphPWM) Close() error { return nil }
