package nmea

import (
	"math"
	"strconv"
	"strings"
)

// maxCoordText bounds the display form of a coordinate.
const maxCoordText = 8

// ParseCoordinate converts an NMEA ddmm.mmmm / dddmm.mmmm field.
//
// text is the field with the decimal point and leading zeros removed,
// truncated to eight characters. value is unsigned decimal degrees; it is
// left at zero when the decimal point sits outside positions 2..5 or the
// field is implausibly long. ok is false when the field has no decimal point,
// which covers the empty field a receiver sends before it has a fix.
func ParseCoordinate(field string) (value float64, text string, ok bool) {
	dot := strings.IndexByte(field, '.')
	if dot < 0 {
		return 0, "", false
	}

	var sb strings.Builder
	lead := true
	for i := 0; i < len(field) && sb.Len() < maxCoordText; i++ {
		c := field[i]
		if c == '.' || (c == '0' && lead) {
			continue
		}
		sb.WriteByte(c)
		lead = false
	}
	text = sb.String()

	if dot < 2 || dot > 5 || len(field) >= 16 {
		return 0, text, true
	}
	mins, err := strconv.ParseFloat(field[dot-2:], 64)
	if err != nil {
		return 0, text, true
	}
	deg := 0
	if dot > 2 {
		deg, err = strconv.Atoi(field[:dot-2])
		if err != nil {
			return 0, text, true
		}
	}
	return float64(deg) + mins/60, text, true
}

// Field and square divisors for longitude and latitude, in degrees.
var (
	locatorLon = [...]float64{20, 2, 1.0 / 12}
	locatorLat = [...]float64{10, 1, 1.0 / 24}
)

// Locator returns the six-character Maidenhead grid square for signed
// decimal degrees. The extended subsquare pair is deliberately not emitted.
func Locator(lat, lon float64) string {
	lon += 180
	lat += 90

	out := make([]byte, 0, 2*len(locatorLon))
	for i := range locatorLon {
		x := int(lon / locatorLon[i])
		y := int(lat / locatorLat[i])
		if i%2 == 1 {
			out = append(out, byte('0'+x), byte('0'+y))
		} else {
			out = append(out, byte('A'+x), byte('A'+y))
		}
		lon = math.Mod(lon, locatorLon[i])
		lat = math.Mod(lat, locatorLat[i])
	}
	return string(out)
}
