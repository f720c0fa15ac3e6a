package gps

import (
	"errors"
	"os"
	"testing"

	"go.bug.st/serial/enumerator"
)

func withDetect(t *testing.T, ports []*enumerator.PortDetails, globs map[string][]string, exists map[string]bool) {
	t.Helper()
	oldList, oldGlob, oldStat := listPortsFn, globFn, statFn
	listPortsFn = func() ([]*enumerator.PortDetails, error) {
		if ports == nil {
			return nil, errors.New("no enumeration")
		}
		return ports, nil
	}
	globFn = func(pattern string) ([]string, error) { return globs[pattern], nil }
	statFn = func(name string) (os.FileInfo, error) {
		if exists[name] {
			return nil, nil
		}
		return nil, os.ErrNotExist
	}
	t.Cleanup(func() { listPortsFn, globFn, statFn = oldList, oldGlob, oldStat })
}

func TestDetectDevice_PrefersKnownUSBVendor(t *testing.T) {
	withDetect(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "1546"},
	}, nil, nil)
	if got := DetectDevice(); got != "/dev/ttyACM0" {
		t.Fatalf("got %q", got)
	}
}

func TestDetectDevice_FallsBackToNodes(t *testing.T) {
	withDetect(t, nil, map[string][]string{
		"/dev/ttyUSB*": {"/dev/ttyUSB1", "/dev/ttyUSB0"},
	}, nil)
	if got := DetectDevice(); got != "/dev/ttyUSB0" {
		t.Fatalf("got %q", got)
	}

	withDetect(t, []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil, map[string]bool{"/dev/serial0": true})
	if got := DetectDevice(); got != "/dev/serial0" {
		t.Fatalf("got %q", got)
	}

	withDetect(t, nil, nil, nil)
	if got := DetectDevice(); got != "" {
		t.Fatalf("got %q", got)
	}
}
