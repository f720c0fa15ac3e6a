//go:build linux

package actuator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives a hardware PWM channel via /sys/class/pwm.
//
// On a Raspberry Pi the channel usually comes from `dtoverlay=pwm-2chan`.
// The EFC input of the oscillator needs an RC filter after the pin.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
	duty     uint16
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

func openSysfs(chip, channel int) (Driver, error) {
	if channel < 0 {
		return nil, fmt.Errorf("actuator: invalid pwm channel %d", channel)
	}
	chipPath, err := findPWMChip(chip, channel)
	if err != nil {
		return nil, err
	}
	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	return d, nil
}

// findPWMChip returns pwmchip<chip>, or with chip < 0 the first chip
// (pwmchip0 preferred) that has more than channel channels.
func findPWMChip(chip, channel int) (string, error) {
	base := pwmSysfsBase
	if chip >= 0 {
		p := filepath.Join(base, fmt.Sprintf("pwmchip%d", chip))
		n, err := readInt(filepath.Join(p, "npwm"))
		if err != nil {
			return "", fmt.Errorf("actuator: read %s: %w", p, err)
		}
		if channel >= n {
			return "", fmt.Errorf("actuator: %s has %d channels, want channel %d", p, n, channel)
		}
		return p, nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("actuator: read %s: %w", base, err)
	}
	// pwmchipN entries are commonly symlinks, not directories.
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	for i, name := range names {
		if name == "pwmchip0" {
			names[0], names[i] = names[i], names[0]
		}
	}
	for _, name := range names {
		p := filepath.Join(base, name)
		n, err := readInt(filepath.Join(p, "npwm"))
		if err != nil || channel >= n {
			continue
		}
		return p, nil
	}
	return "", fmt.Errorf("actuator: no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(d.chipPath, "export"), strconv.Itoa(d.channel)); err != nil {
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("actuator: export pwm: %w", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("actuator: pwm path not created after export: %w", err)
	}
	return nil
}

// Close leaves the channel running at its last duty.
func (d *sysfsPWM) Close() error { return nil }

func (d *sysfsPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	periodNS := uint64(time.Second) / uint64(hz)
	if periodNS == 0 {
		periodNS = 1
	}

	// duty_cycle must never exceed period; shrink it first.
	_ = d.writeUint("duty_cycle", 0)
	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS
	if err := d.writeUint("duty_cycle", dutyNS(periodNS, d.duty)); err != nil {
		return err
	}
	if err := d.writeBool("enable", true); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

func dutyNS(periodNS uint64, duty uint16) uint64 {
	return periodNS * uint64(duty) / 65536
}

func (d *sysfsPWM) SetDuty(duty uint16) error {
	d.duty = duty
	if d.periodNS == 0 {
		d.periodNS = uint64(time.Second) / DefaultFrequencyHz
		if err := d.writeUint("period", d.periodNS); err != nil {
			return err
		}
	}
	if err := d.writeUint("duty_cycle", dutyNS(d.periodNS, duty)); err != nil {
		return err
	}
	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some attributes reject,
// and retries briefly while udev adjusts permissions after an export.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			_, werr := f.WriteString(value)
			cerr := f.Close()
			if err = errors.Join(werr, cerr); err == nil {
				return nil
			}
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
