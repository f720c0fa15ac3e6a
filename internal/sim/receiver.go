package sim

import (
	"fmt"
	"math"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"gpsdo/internal/nmea"
)

// Receiver describes the simulated GPS receiver: a fixed antenna whose
// reported position wanders slightly, as a real fix does.
type Receiver struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
	Wander float64 // metres
	Period time.Duration
	Sats   int
	Module nmea.Module
	Talker string
}

func (r Receiver) withDefaults() Receiver {
	if r.Wander <= 0 {
		r.Wander = 3
	}
	if r.Period <= 0 {
		r.Period = 10 * time.Minute
	}
	if r.Sats <= 0 {
		r.Sats = 9
	}
	if r.Talker == "" {
		r.Talker = "GP"
	}
	return r
}

// Position is a deterministic figure-eight around the antenna position.
func (r Receiver) Position(now time.Time) (latDeg, lonDeg float64) {
	r = r.withDefaults()
	// About 111 km per degree of latitude.
	radiusDeg := r.Wander / 111_320.0

	phase := float64(now.UnixNano()%r.Period.Nanoseconds()) / float64(r.Period.Nanoseconds())
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = r.LatDeg + radiusDeg*y
	lonDeg = r.LonDeg + (radiusDeg*x)/math.Cos(r.LatDeg*math.Pi/180.0)
	return latDeg, lonDeg
}

// Banner is the boot TXT sentence that identifies the module, if known.
func (r Receiver) Banner() []byte {
	var text string
	switch r.Module {
	case nmea.ModuleATGM336H:
		text = "IC=AT6558F-5N-32-1C580901"
	case nmea.ModuleNEO6M:
		text = "HW UBX-G60xx  00040007 FF7FFFFFp"
	case nmea.ModuleNEOM9N:
		text = "HW UBX 9 00190000"
	default:
		return nil
	}
	return sentence(r.withDefaults().Talker + "TXT,01,01,02," + text)
}

// Sentences returns the GGA and RMC pair for the UTC second of now.
func (r Receiver) Sentences(now time.Time) []byte {
	r = r.withDefaults()
	now = now.UTC()
	lat, lon := r.Position(now)
	latText, ns := coordinate(lat, 2, "N", "S")
	lonText, ew := coordinate(lon, 3, "E", "W")
	hms := now.Format("150405") + ".00"

	gga := fmt.Sprintf("%sGGA,%s,%s,%s,%s,%s,1,%02d,0.9,%.1f,M,46.9,M,,",
		r.Talker, hms, latText, ns, lonText, ew, r.Sats, r.AltM)
	rmc := fmt.Sprintf("%sRMC,%s,A,%s,%s,%s,%s,0.0,0.0,%s,,,A",
		r.Talker, hms, latText, ns, lonText, ew, now.Format("020106"))
	return append(sentence(gga), sentence(rmc)...)
}

func coordinate(v float64, degWidth int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	mins := (v - deg) * 60
	return fmt.Sprintf("%0*d%08.5f", degWidth, int(deg), mins), hemi
}

func sentence(body string) []byte {
	return []byte("$" + body + "*" + gonmea.Checksum(body) + "\r\n")
}
