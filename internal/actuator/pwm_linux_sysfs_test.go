//go:build linux

package actuator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fakeChip(t *testing.T, dir, name string, npwm string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(p, "npwm"), []byte(npwm), 0o644); err != nil {
		t.Fatalf("WriteFile npwm: %v", err)
	}
	return p
}

func usePWMBase(t *testing.T, base string) {
	old := pwmSysfsBase
	pwmSysfsBase = base
	t.Cleanup(func() { pwmSysfsBase = old })
}

func TestFindPWMChip_AcceptsSymlinkedPWMChip(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "pwm")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	realChip := fakeChip(t, dir, "realchip0", "2\n")
	link := filepath.Join(base, "pwmchip0")
	if err := os.Symlink(realChip, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	usePWMBase(t, base)

	got, err := findPWMChip(-1, 1)
	if err != nil {
		t.Fatalf("findPWMChip: %v", err)
	}
	if got != link {
		t.Fatalf("chip=%q want %q", got, link)
	}
	if _, err := findPWMChip(-1, 2); err == nil {
		t.Fatalf("expected error for missing channel")
	}
}

func TestFindPWMChip_ExplicitChip(t *testing.T) {
	base := t.TempDir()
	fakeChip(t, base, "pwmchip0", "1")
	want := fakeChip(t, base, "pwmchip2", "4")
	usePWMBase(t, base)

	got, err := findPWMChip(2, 3)
	if err != nil || got != want {
		t.Fatalf("findPWMChip=%q,%v want %q", got, err, want)
	}
	if _, err := findPWMChip(5, 0); err == nil {
		t.Fatalf("expected error for absent chip")
	}
}

func readAttr(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile %s: %v", name, err)
	}
	return strings.TrimSpace(string(b))
}

func TestSysfsPWM_WritesPeriodAndDuty(t *testing.T) {
	base := t.TempDir()
	chip := fakeChip(t, base, "pwmchip0", "2")
	pwm := filepath.Join(chip, "pwm0")
	if err := os.MkdirAll(pwm, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"period", "duty_cycle", "enable"} {
		if err := os.WriteFile(filepath.Join(pwm, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	usePWMBase(t, base)

	drv, err := openSysfs(-1, 0)
	if err != nil {
		t.Fatalf("openSysfs: %v", err)
	}
	if err := drv.SetDuty(32768); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if err := drv.SetFrequencyHz(1000); err != nil {
		t.Fatalf("SetFrequencyHz: %v", err)
	}
	if got := readAttr(t, pwm, "period"); got != "1000000" {
		t.Fatalf("period=%q", got)
	}
	if got := readAttr(t, pwm, "duty_cycle"); got != "500000" {
		t.Fatalf("duty_cycle=%q", got)
	}
	if got := readAttr(t, pwm, "enable"); got != "1" {
		t.Fatalf("enable=%q", got)
	}

	if err := drv.SetDuty(65535); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if got := readAttr(t, pwm, "duty_cycle"); got != "999984" {
		t.Fatalf("duty_cycle=%q", got)
	}
}
