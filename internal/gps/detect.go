package gps

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

var (
	listPortsFn = enumerator.GetDetailedPortsList
	globFn      = filepath.Glob
	statFn      = os.Stat
)

// USB vendor IDs seen on GPS receivers and their bridges, best first.
var gpsVendors = []string{
	"1546", // u-blox
	"067b", // Prolific
	"10c4", // Silicon Labs CP210x
	"1a86", // WCH CH340
	"0403", // FTDI
}

func vendorRank(vid string) int {
	vid = strings.ToLower(vid)
	for i, v := range gpsVendors {
		if v == vid {
			return i
		}
	}
	return len(gpsVendors)
}

// DetectDevice picks the most likely GPS serial port. USB ports from known
// vendors win; without enumeration it falls back to well-known device nodes.
func DetectDevice() string {
	ports, err := listPortsFn()
	if err == nil && len(ports) > 0 {
		var usb []*enumerator.PortDetails
		for _, p := range ports {
			if p != nil && p.IsUSB {
				usb = append(usb, p)
			}
		}
		if len(usb) > 0 {
			sort.SliceStable(usb, func(i, j int) bool {
				return vendorRank(usb[i].VID) < vendorRank(usb[j].VID)
			})
			return usb[0].Name
		}
	}

	for _, pattern := range []string{"/dev/ttyACM*", "/dev/ttyUSB*"} {
		matches, _ := globFn(pattern)
		sort.Strings(matches)
		if len(matches) > 0 {
			return matches[0]
		}
	}
	for _, p := range []string{"/dev/serial0", "/dev/ttyAMA0"} {
		if _, err := statFn(p); err == nil {
			return p
		}
	}
	return ""
}
