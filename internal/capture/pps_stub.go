//go:build !linux

package capture

import "fmt"

type PPSDevice struct{}

func OpenPPS(path string, bus *Bus) (*PPSDevice, error) {
	return nil, fmt.Errorf("capture: pps devices unsupported on this platform")
}

func (d *PPSDevice) Close() error { return nil }
