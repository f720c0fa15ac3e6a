//go:build !linux

package actuator

import "fmt"

func openSysfs(chip, channel int) (Driver, error) {
	return nil, fmt.Errorf("actuator: sysfs pwm unsupported on this platform")
}
