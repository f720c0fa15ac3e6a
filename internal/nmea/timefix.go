package nmea

import (
	"fmt"
	"strings"
)

// MaxTimeOffset bounds the configured hour offset in both directions.
const MaxTimeOffset = 14

// DateFormat selects field order and separator when rendering the fix date.
// It does not change the stored calendar values.
type DateFormat int

const (
	DateUTC     DateFormat = iota // dd/mm/yy
	DateUTCDot                    // dd.mm.yy
	DateUS                        // mm/dd/yy
	DateISO                       // yy/mm/dd
	DateISODash                   // yy-mm-dd
)

var dateFormatNames = []string{"utc", "utc_dot", "us", "iso", "iso_dash"}

func (f DateFormat) String() string {
	if f < 0 || int(f) >= len(dateFormatNames) {
		return fmt.Sprintf("DateFormat(%d)", int(f))
	}
	return dateFormatNames[f]
}

// ParseDateFormat accepts the names produced by String.
func ParseDateFormat(s string) (DateFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DateUTC, nil
	}
	for i, n := range dateFormatNames {
		if n == s {
			return DateFormat(i), nil
		}
	}
	return DateUTC, fmt.Errorf("nmea: unknown date format %q", s)
}

func (f DateFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *DateFormat) UnmarshalText(b []byte) error {
	v, err := ParseDateFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// EmptyDate is what the fix reports before the first RMC date arrives.
const EmptyDate = "  /  /  "

func twoDigits(s string) (int, bool) {
	if len(s) < 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// CorrectTime converts the hhmmss prefix of an NMEA time field to "HH:MM:SS"
// shifted by offset hours.
//
// One second is added because the sentence arrives after the PPS edge it
// describes. The second overflow carries into minutes, and a minute overflow
// carries into the hour. dayCarry is -1, 0 or +1 when the shifted hour leaves
// the current day. ok is false when the field is shorter than six digits.
func CorrectTime(raw string, offset int) (out string, dayCarry int, ok bool) {
	if len(raw) < 6 {
		return "", 0, false
	}
	hour, ok1 := twoDigits(raw[0:2])
	min, ok2 := twoDigits(raw[2:4])
	sec, ok3 := twoDigits(raw[4:6])
	if !ok1 || !ok2 || !ok3 {
		return "", 0, false
	}

	minuteCarry := false
	sec++
	if sec > 59 {
		sec = 0
		min++
		if min > 59 {
			min = 0
			minuteCarry = true
		}
	}

	if offset == 0 && !minuteCarry {
		return fmt.Sprintf("%s:%02d:%02d", raw[0:2], min, sec), 0, true
	}

	rel := hour + offset
	if minuteCarry {
		rel++
	}
	switch {
	case rel >= 24:
		rel -= 24
		dayCarry = 1
	case rel < 0:
		rel += 24
		dayCarry = -1
	}
	return fmt.Sprintf("%02d:%02d:%02d", rel, min, sec), dayCarry, true
}

func isLeapYear(year int) bool {
	// Two-digit NMEA years make the Gregorian century rule irrelevant.
	return year%4 == 0
}

func daysInMonth(month, year int) int {
	switch month {
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// RollDate applies a day carry to a two-digit-year calendar date and
// normalizes month and year rollover in both directions.
func RollDate(day, month, year, carry int) (int, int, int) {
	day += carry
	switch {
	case day > daysInMonth(month, year):
		day = 1
		month++
		if month > 12 {
			month = 1
			year = (year + 1) % 100
		}
	case day < 1:
		month--
		if month < 1 {
			month = 12
			year = (year + 99) % 100
		}
		day = daysInMonth(month, year)
	}
	return day, month, year
}

// CorrectDate renders an NMEA ddmmyy field in format f. When offset is not
// zero the date is first moved by dayCarry (as produced by CorrectTime).
func CorrectDate(raw string, offset, dayCarry int, f DateFormat) (string, bool) {
	if len(raw) < 6 {
		return "", false
	}
	day, ok1 := twoDigits(raw[0:2])
	month, ok2 := twoDigits(raw[2:4])
	year, ok3 := twoDigits(raw[4:6])
	if !ok1 || !ok2 || !ok3 {
		return "", false
	}
	if offset != 0 {
		day, month, year = RollDate(day, month, year, dayCarry)
	}
	return FormatDate(day, month, year, f), true
}

// FormatDate lays out a two-digit-year date according to f.
func FormatDate(day, month, year int, f DateFormat) string {
	sep := "/"
	switch f {
	case DateUTCDot:
		sep = "."
	case DateISODash:
		sep = "-"
	}
	switch f {
	case DateUS:
		return fmt.Sprintf("%02d%s%02d%s%02d", month, sep, day, sep, year)
	case DateISO, DateISODash:
		return fmt.Sprintf("%02d%s%02d%s%02d", year, sep, month, sep, day)
	default:
		return fmt.Sprintf("%02d%s%02d%s%02d", day, sep, month, sep, year)
	}
}
