package nmea

import (
	"fmt"
	"strings"
)

// Module identifies the GPS receiver model behind the serial port.
type Module int

const (
	ModuleUnknown Module = iota
	ModuleATGM336H
	ModuleNEO6M
	ModuleNEOM9N
)

var moduleNames = []string{"unknown", "atgm336h", "neo6m", "neom9n"}

func (m Module) String() string {
	if m < 0 || int(m) >= len(moduleNames) {
		return fmt.Sprintf("Module(%d)", int(m))
	}
	return moduleNames[m]
}

func ParseModule(s string) (Module, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModuleUnknown, nil
	}
	for i, n := range moduleNames {
		if n == s {
			return Module(i), nil
		}
	}
	return ModuleUnknown, fmt.Errorf("nmea: unknown gps module %q", s)
}

func (m Module) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Module) UnmarshalText(b []byte) error {
	v, err := ParseModule(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Firmware banners printed in TXT sentences at receiver boot.
var moduleBanners = []struct {
	banner string
	module Module
}{
	{"AT6558F-5N", ModuleATGM336H},
	{"HW UBX-G", ModuleNEO6M},
	{"HW UBX 9", ModuleNEOM9N},
}

// DetectModule looks for a known firmware banner in a TXT sentence.
func DetectModule(line string) (Module, bool) {
	for _, b := range moduleBanners {
		if strings.Contains(line, b.banner) {
			return b.module, true
		}
	}
	return ModuleUnknown, false
}
